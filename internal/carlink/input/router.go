package input

import (
	"sync"
	"time"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/babelcloud/gbox/packages/headunit/internal/util"
	"k8s.io/utils/clock"
)

// SelectUpDelay is how long after selectDown the synthetic selectUp is sent.
const SelectUpDelay = 200 * time.Millisecond

// Sink receives translated protocol input. The decode worker proxy
// implements it.
type Sink interface {
	PostCommand(code core.CommandCode)
	PostTouch(ev core.TouchEvent)
}

// SurfaceSize reports the currently rendered surface size in UI pixels.
type SurfaceSize func() (width, height int)

type selectUpTask struct {
	timer clock.Timer
}

// Router turns key and pointer input into commands and touches for one
// session. It must be closed when the session ends.
type Router struct {
	bindings *core.KeyBindingTable
	sink     Sink
	surface  SurfaceSize
	clock    clock.WithDelayedExecution
	width    int
	height   int

	mu      sync.Mutex
	pressed bool
	closed  bool
	pending map[*selectUpTask]struct{}
}

type Option func(*Router)

// WithClock replaces the real clock, mostly for tests.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(r *Router) {
		r.clock = c
	}
}

// NewRouter creates a router scaling pointer input to the session's
// configured frame size.
func NewRouter(cfg core.SessionConfig, sink Sink, surface SurfaceSize, opts ...Option) *Router {
	r := &Router{
		bindings: cfg.KeyBindings,
		sink:     sink,
		surface:  surface,
		clock:    clock.RealClock{},
		width:    cfg.Width,
		height:   cfg.Height,
		pending:  make(map[*selectUpTask]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// KeyDown forwards the command bound to code. Unbound keys are ignored.
// Every select key-down produces its own selectDown/selectUp pair.
func (r *Router) KeyDown(code core.KeyCode) bool {
	if r.bindings == nil {
		return false
	}
	action, ok := r.bindings.Lookup(code)
	if !ok {
		return false
	}

	if action != core.ActionSelectDown {
		cmd, ok := action.Command()
		if !ok || r.isClosed() {
			return false
		}
		r.sink.PostCommand(cmd)
		return true
	}

	task := &selectUpTask{}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.pending[task] = struct{}{}
	r.mu.Unlock()

	r.sink.PostCommand(core.CommandSelectDown)
	timer := r.clock.AfterFunc(SelectUpDelay, func() { r.fireSelectUp(task) })

	r.mu.Lock()
	task.timer = timer
	r.mu.Unlock()
	return true
}

func (r *Router) fireSelectUp(task *selectUpTask) {
	r.mu.Lock()
	if _, ok := r.pending[task]; !ok || r.closed {
		r.mu.Unlock()
		return
	}
	delete(r.pending, task)
	r.mu.Unlock()

	r.sink.PostCommand(core.CommandSelectUp)
}

// Pointer scales ev to device pixels using the surface size at the time of
// the call and forwards it. Moves, ups and cancels are only forwarded
// while the pointer is pressed; out is sent as a cancel.
func (r *Router) Pointer(ev PointerEvent) bool {
	sw, sh := r.surface()
	if sw <= 0 || sh <= 0 {
		util.GetLogger().Debug("Dropping pointer event, surface has no size", "kind", ev.Kind)
		return false
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	var kind core.TouchKind
	switch ev.Kind {
	case PointerDown:
		r.pressed = true
		kind = core.TouchDown
	case PointerMove:
		if !r.pressed {
			r.mu.Unlock()
			return false
		}
		kind = core.TouchMove
	case PointerUp:
		if !r.pressed {
			r.mu.Unlock()
			return false
		}
		r.pressed = false
		kind = core.TouchUp
	case PointerCancel, PointerOut:
		if !r.pressed {
			r.mu.Unlock()
			return false
		}
		r.pressed = false
		kind = core.TouchCancel
	default:
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	r.sink.PostTouch(core.TouchEvent{
		Kind: kind,
		X:    ev.X * float64(r.width) / float64(sw),
		Y:    ev.Y * float64(r.height) / float64(sh),
	})
	return true
}

// Pending returns the number of scheduled selectUp tasks.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close cancels pending selectUp tasks. No command is posted after Close
// returns.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	timers := make([]clock.Timer, 0, len(r.pending))
	for task := range r.pending {
		if task.timer != nil {
			timers = append(timers, task.timer)
		}
	}
	r.pending = make(map[*selectUpTask]struct{})
	r.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}

func (r *Router) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
