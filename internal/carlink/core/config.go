package core

import (
	"time"

	"github.com/pkg/errors"
)

// SessionConfig is the configuration a session is started with. A value
// is never modified after it has been published; changing a setting
// means publishing a new value and starting a new session.
type SessionConfig struct {
	FrameRate    int              `json:"fps"`
	Width        int              `json:"width"`
	Height       int              `json:"height"`
	MediaDelayMs int              `json:"mediaDelay"`
	DPI          int              `json:"dpi"`
	Kiosk        bool             `json:"kiosk"`
	Camera       string           `json:"camera"`
	Microphone   string           `json:"microphone"`
	KeyBindings  *KeyBindingTable `json:"bindings"`
}

// DefaultSessionConfig mirrors the stock head-unit profile.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		FrameRate:    60,
		Width:        1920,
		Height:       720,
		MediaDelayMs: 300,
		DPI:          300,
		KeyBindings:  MustDefaultKeyBindingTable(),
	}
}

// MediaDelay returns MediaDelayMs as a duration.
func (c SessionConfig) MediaDelay() time.Duration {
	return time.Duration(c.MediaDelayMs) * time.Millisecond
}

func (c SessionConfig) Validate() error {
	switch {
	case c.FrameRate <= 0:
		return errors.Errorf("invalid frame rate %d", c.FrameRate)
	case c.Width <= 0 || c.Height <= 0:
		return errors.Errorf("invalid frame size %dx%d", c.Width, c.Height)
	case c.MediaDelayMs < 0:
		return errors.Errorf("invalid media delay %d", c.MediaDelayMs)
	case c.KeyBindings == nil:
		return errors.New("missing key bindings")
	}
	return nil
}
