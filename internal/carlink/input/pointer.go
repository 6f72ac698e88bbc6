package input

import (
	"strconv"

	"github.com/pkg/errors"
)

// PointerKind is the phase of a UI pointer event.
type PointerKind uint8

const (
	PointerDown PointerKind = iota
	PointerMove
	PointerUp
	PointerCancel
	// PointerOut is the pointer leaving the surface while pressed.
	PointerOut
)

var pointerKindNames = map[PointerKind]string{
	PointerDown:   "down",
	PointerMove:   "move",
	PointerUp:     "up",
	PointerCancel: "cancel",
	PointerOut:    "out",
}

func (k PointerKind) String() string {
	if name, ok := pointerKindNames[k]; ok {
		return name
	}
	return "pointer(" + strconv.Itoa(int(k)) + ")"
}

// ParsePointerKind maps a wire name such as "down" to its PointerKind.
func ParsePointerKind(name string) (PointerKind, error) {
	for k, n := range pointerKindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, errors.Errorf("unknown pointer kind %q", name)
}

// PointerEvent is a pointer interaction in UI (surface) coordinates.
type PointerEvent struct {
	Kind PointerKind
	X    float64
	Y    float64
}
