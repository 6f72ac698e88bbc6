package session

import (
	"context"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/decode"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/pipeline"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/render"
)

// DecodeWorker is the decode side of a session, see decode.Proxy.
type DecodeWorker interface {
	Initialise(ports decode.Ports) error
	Start(device core.DeviceHandle, cfg core.SessionConfig) error
	Stop()
	PostCommand(code core.CommandCode)
	PostTouch(ev core.TouchEvent)
	RequestFrame()
	Events() <-chan core.Message
	Close()
}

// RenderWorker is the render side of a session, see render.Proxy.
type RenderWorker interface {
	Initialise(surface render.Surface, video *pipeline.Port[core.VideoFrame]) error
	RequestRedraw()
	Close()
}

// WorkerFactory creates fresh worker proxies for every session.
type WorkerFactory interface {
	NewDecode() DecodeWorker
	NewRender() RenderWorker
}

// DeviceFinder resolves the accessory to use. Find returns an attached
// eligible device; Request is an explicit selection and applies the
// stricter product match.
type DeviceFinder interface {
	Find(ctx context.Context) (core.DeviceHandle, error)
	Request(ctx context.Context) (core.DeviceHandle, error)
}

// Reloader restarts the host process after a fatal session failure.
type Reloader interface {
	Reload() error
}

// Notifier pushes boolean notifications to display clients.
type Notifier interface {
	Notify(event string, value bool) error
}

// ProxyWorkers builds decode and render proxies around one engine.
type ProxyWorkers struct {
	Engine decode.Engine
}

func (w ProxyWorkers) NewDecode() DecodeWorker {
	return decode.NewProxy(w.Engine)
}

func (w ProxyWorkers) NewRender() RenderWorker {
	return render.NewProxy()
}
