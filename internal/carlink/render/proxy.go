package render

import (
	"sync"
	"sync/atomic"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/pipeline"
	"github.com/babelcloud/gbox/packages/headunit/internal/util"
	"github.com/pkg/errors"
)

// Surface is where decoded video ends up.
type Surface interface {
	Draw(frame core.VideoFrame) error
	Size() (width, height int)
	Resize(width, height int)
}

// Proxy owns the render context: a goroutine drawing frames from the
// video transport port onto a surface.
type Proxy struct {
	mu          sync.Mutex
	initialised bool
	closed      bool
	surface     Surface
	done        chan struct{}
	stopped     chan struct{}

	// awaitKeyframe holds back frames until the next IDR.
	awaitKeyframe atomic.Bool
	drawn         atomic.Uint64
	skipped       atomic.Uint64
}

func NewProxy() *Proxy {
	p := &Proxy{
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	p.awaitKeyframe.Store(true)
	return p
}

// Initialise binds the surface and the video port and starts drawing. It
// may be called once.
func (p *Proxy) Initialise(surface Surface, video *pipeline.Port[core.VideoFrame]) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialised {
		return errors.Wrap(core.ErrProtocolMisuse, "render proxy already initialised")
	}
	if p.closed {
		return errors.Wrap(core.ErrClosed, "render proxy closed")
	}
	if surface == nil || video == nil {
		return errors.Wrap(core.ErrProtocolMisuse, "render proxy needs a surface and a video port")
	}
	p.initialised = true
	p.surface = surface

	go p.run(video)
	return nil
}

func (p *Proxy) run(video *pipeline.Port[core.VideoFrame]) {
	defer close(p.stopped)
	logger := util.GetLogger()

	for {
		select {
		case <-p.done:
			return
		case frame, ok := <-video.Receive():
			if !ok {
				logger.Debug("Video port closed", "port", video.Name())
				return
			}
			p.draw(frame)
		}
	}
}

func (p *Proxy) draw(frame core.VideoFrame) {
	if p.awaitKeyframe.Load() {
		if !IsKeyframe(frame.Data) {
			p.skipped.Add(1)
			return
		}
		p.awaitKeyframe.Store(false)
	}

	if err := p.surface.Draw(frame); err != nil {
		util.GetLogger().Warn("Failed to draw frame", "pts", frame.PTS, "size", len(frame.Data), "error", err)
		return
	}
	p.drawn.Add(1)
}

// RequestRedraw asks for the next keyframe to be drawn before anything
// else, typically after the surface was resized.
func (p *Proxy) RequestRedraw() {
	p.awaitKeyframe.Store(true)
}

// Stats returns how many frames were drawn and how many were held back
// waiting for a keyframe.
func (p *Proxy) Stats() (drawn, skipped uint64) {
	return p.drawn.Load(), p.skipped.Load()
}

// Close stops the render goroutine and waits for it to exit.
func (p *Proxy) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	running := p.initialised
	close(p.done)
	p.mu.Unlock()

	if running {
		<-p.stopped
	}
}
