package core

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	"github.com/vishalkuo/bimap"
)

// Action is a logical, bindable user action.
type Action string

const (
	ActionLeft             Action = "left"
	ActionRight            Action = "right"
	ActionSelectDown       Action = "selectDown"
	ActionBack             Action = "back"
	ActionDown             Action = "down"
	ActionHome             Action = "home"
	ActionPlay             Action = "play"
	ActionPause            Action = "pause"
	ActionNext             Action = "next"
	ActionPrev             Action = "prev"
	ActionSiri             Action = "siri"
	ActionEnableNightMode  Action = "enableNightMode"
	ActionDisableNightMode Action = "disableNightMode"

	// ActionSelectUp is synthesized by the input router, it is never bound.
	ActionSelectUp Action = "selectUp"
)

// BindableActions lists the 13 actions a key can be bound to.
var BindableActions = []Action{
	ActionLeft, ActionRight, ActionSelectDown, ActionBack, ActionDown,
	ActionHome, ActionPlay, ActionPause, ActionNext, ActionPrev,
	ActionSiri, ActionEnableNightMode, ActionDisableNightMode,
}

var actionCommands = map[Action]CommandCode{
	ActionLeft:             CommandLeft,
	ActionRight:            CommandRight,
	ActionSelectDown:       CommandSelectDown,
	ActionSelectUp:         CommandSelectUp,
	ActionBack:             CommandBack,
	ActionDown:             CommandDown,
	ActionHome:             CommandHome,
	ActionPlay:             CommandPlay,
	ActionPause:            CommandPause,
	ActionNext:             CommandNext,
	ActionPrev:             CommandPrev,
	ActionSiri:             CommandSiri,
	ActionEnableNightMode:  CommandEnableNightMode,
	ActionDisableNightMode: CommandDisableNightMode,
}

// Command returns the protocol command an action resolves to.
func (a Action) Command() (CommandCode, bool) {
	code, ok := actionCommands[a]
	return code, ok
}

// KeyCode is a physical key identifier (a DOM KeyboardEvent.code value).
type KeyCode string

// DefaultKeyBindings returns a fresh copy of the stock bindings.
func DefaultKeyBindings() map[Action]KeyCode {
	return map[Action]KeyCode{
		ActionLeft:             "ArrowLeft",
		ActionRight:            "ArrowRight",
		ActionSelectDown:       "Space",
		ActionBack:             "Backspace",
		ActionDown:             "ArrowDown",
		ActionHome:             "KeyH",
		ActionPlay:             "KeyP",
		ActionPause:            "KeyO",
		ActionNext:             "KeyM",
		ActionPrev:             "KeyN",
		ActionSiri:             "KeyS",
		ActionEnableNightMode:  "KeyZ",
		ActionDisableNightMode: "KeyX",
	}
}

// KeyBindingTable maps physical keys to actions. It is read-only once
// built; a binding change produces a new table.
type KeyBindingTable struct {
	table   *bimap.BiMap[Action, KeyCode]
	actions map[Action]KeyCode
}

// NewKeyBindingTable validates bindings and builds a table. Actions with an
// empty key are left unbound.
func NewKeyBindingTable(bindings map[Action]KeyCode) (*KeyBindingTable, error) {
	t := &KeyBindingTable{
		table:   bimap.NewBiMap[Action, KeyCode](),
		actions: make(map[Action]KeyCode, len(bindings)),
	}

	// Deterministic order so duplicate errors are stable.
	actions := make([]Action, 0, len(bindings))
	for action := range bindings {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })

	for _, action := range actions {
		code := bindings[action]
		if !isBindable(action) {
			return nil, errors.Errorf("unknown action %q", action)
		}
		if code == "" {
			continue
		}
		if other, ok := t.table.GetInverse(code); ok {
			return nil, errors.Errorf("key %q bound to both %q and %q", code, other, action)
		}
		t.table.Insert(action, code)
		t.actions[action] = code
	}
	return t, nil
}

// MustDefaultKeyBindingTable returns a table of the stock bindings.
func MustDefaultKeyBindingTable() *KeyBindingTable {
	t, err := NewKeyBindingTable(DefaultKeyBindings())
	if err != nil {
		panic(err)
	}
	return t
}

func isBindable(action Action) bool {
	for _, a := range BindableActions {
		if a == action {
			return true
		}
	}
	return false
}

// Lookup resolves a pressed key.
func (t *KeyBindingTable) Lookup(code KeyCode) (Action, bool) {
	if t == nil {
		return "", false
	}
	return t.table.GetInverse(code)
}

// KeyFor returns the key bound to an action.
func (t *KeyBindingTable) KeyFor(action Action) (KeyCode, bool) {
	if t == nil {
		return "", false
	}
	return t.table.Get(action)
}

// Len returns the number of bound actions.
func (t *KeyBindingTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.actions)
}

// Bindings returns a copy of the action to key mapping.
func (t *KeyBindingTable) Bindings() map[Action]KeyCode {
	out := make(map[Action]KeyCode, t.Len())
	if t == nil {
		return out
	}
	for action, code := range t.actions {
		out[action] = code
	}
	return out
}

func (t *KeyBindingTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Bindings())
}

func (t *KeyBindingTable) UnmarshalJSON(data []byte) error {
	var bindings map[Action]KeyCode
	if err := json.Unmarshal(data, &bindings); err != nil {
		return errors.Wrap(err, "decode key bindings")
	}
	built, err := NewKeyBindingTable(bindings)
	if err != nil {
		return err
	}
	*t = *built
	return nil
}
