package decode

import (
	"context"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
)

// Sink receives the events of an engine session in emission order.
type Sink interface {
	Emit(msg core.Message)
}

// Engine is the native protocol decoder. It talks to the accessory and
// turns its stream into messages.
type Engine interface {
	// Open starts consuming device. Events, including a Failure when the
	// stream breaks, are reported to sink until the session is closed.
	Open(ctx context.Context, device core.DeviceHandle, cfg core.SessionConfig, sink Sink) (Session, error)
}

// Session is one open engine session.
type Session interface {
	SendCommand(code core.CommandCode) error
	SendTouch(ev core.TouchEvent) error
	SendMicrophone(data []byte) error
	Close() error
}
