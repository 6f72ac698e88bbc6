package settings

import (
	"encoding/json"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
)

// Event names of the settings push protocol.
const (
	EventSettings    = "settings"
	EventGetSettings = "getSettings"
	EventStream      = "stream"
	EventReverse     = "reverse"
	EventLights      = "lights"
	EventPlugged     = "plugged"
	EventKey         = "key"
	EventPointer     = "pointer"
	EventResize      = "resize"
)

// Envelope is a single websocket message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func newEnvelope(event string, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// KeyPayload is the data of a key event.
type KeyPayload struct {
	Code core.KeyCode `json:"code"`
}

// PointerPayload is the data of a pointer event. Kind is one of down,
// move, up, cancel or out; coordinates are surface pixels.
type PointerPayload struct {
	Kind string  `json:"kind"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// ResizePayload is the data of a resize event.
type ResizePayload struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func isNotification(event string) bool {
	switch event {
	case EventReverse, EventLights, EventPlugged:
		return true
	}
	return false
}
