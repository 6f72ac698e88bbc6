package session

import (
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/input"
)

// event is anything processed by the control goroutine.
type event any

type (
	attachEvent struct{ device core.DeviceHandle }
	detachEvent struct{ device core.DeviceHandle }
	selectEvent struct{}
	stopEvent   struct{}
	foundEvent  struct {
		id     uint64
		device core.DeviceHandle
		err    error
	}
	workerEvent struct {
		epoch uint64
		msg   core.Message
	}
	keyEvent      struct{ code core.KeyCode }
	pointerEvent  struct{ ev input.PointerEvent }
	resizeEvent   struct{ width, height int }
	recoveryEvent struct{ gen uint64 }
	execEvent     struct {
		fn   func()
		done chan struct{}
	}
)
