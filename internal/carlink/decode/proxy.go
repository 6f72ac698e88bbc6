package decode

import (
	"context"
	"sync"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/pipeline"
	"github.com/babelcloud/gbox/packages/headunit/internal/util"
	"github.com/pkg/errors"
)

// Ports are the transport channel ends the decode context uses for bulk
// payloads, so that they bypass the event stream.
type Ports struct {
	// Video receives every VideoFrame.
	Video *pipeline.Port[core.VideoFrame]
	// Microphone delivers captured PCM to the engine.
	Microphone *pipeline.Port[[]byte]
}

type request any

type (
	startRequest struct {
		device core.DeviceHandle
		cfg    core.SessionConfig
	}
	stopRequest    struct{}
	commandRequest struct{ code core.CommandCode }
	touchRequest   struct{ ev core.TouchEvent }
	openedRequest  struct {
		gen     uint64
		session Session
		err     error
	}
	eventRequest struct {
		gen uint64
		msg core.Message
	}
)

// Proxy owns the decode context: a goroutine that drives an Engine and
// forwards its events. All calls are non-blocking and are processed in
// the order they were made.
type Proxy struct {
	engine Engine

	mu          sync.Mutex
	initialised bool
	started     bool
	closed      bool
	ports       Ports

	inbox   *pipeline.Mailbox[request]
	events  *pipeline.Mailbox[core.Message]
	stopped chan struct{}
}

func NewProxy(engine Engine) *Proxy {
	return &Proxy{
		engine:  engine,
		inbox:   pipeline.NewMailbox[request](),
		events:  pipeline.NewMailbox[core.Message](),
		stopped: make(chan struct{}),
	}
}

// Initialise binds the transport ports and starts the decode context. It
// must be called exactly once, before anything else.
func (p *Proxy) Initialise(ports Ports) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.closed:
		return errors.Wrap(core.ErrClosed, "decode proxy closed")
	case p.initialised:
		return errors.Wrap(core.ErrProtocolMisuse, "decode proxy already initialised")
	case ports.Video == nil:
		return errors.Wrap(core.ErrProtocolMisuse, "decode proxy needs a video port")
	}
	p.initialised = true
	p.ports = ports
	go p.run()
	return nil
}

// Start asks the engine to begin consuming device with cfg. It is only
// valid on an initialised, idle proxy.
func (p *Proxy) Start(device core.DeviceHandle, cfg core.SessionConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.closed:
		return errors.Wrap(core.ErrClosed, "decode proxy closed")
	case !p.initialised:
		return errors.Wrap(core.ErrProtocolMisuse, "decode proxy started before initialise")
	case p.started:
		return errors.Wrap(core.ErrProtocolMisuse, "decode proxy already started")
	}
	p.started = true
	p.inbox.Post(startRequest{device: device, cfg: cfg})
	return nil
}

// Stop ends the engine session. It is safe to call at any time.
func (p *Proxy) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.closed {
		return
	}
	p.started = false
	p.inbox.Post(stopRequest{})
}

// Started reports whether Start was called without a later Stop.
func (p *Proxy) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

func (p *Proxy) PostCommand(code core.CommandCode) {
	p.inbox.Post(commandRequest{code: code})
}

func (p *Proxy) PostTouch(ev core.TouchEvent) {
	p.inbox.Post(touchRequest{ev: ev})
}

// RequestFrame asks the phone to resend the current frame.
func (p *Proxy) RequestFrame() {
	p.PostCommand(core.CommandFrame)
}

// Events delivers everything the engine emits except video frames.
func (p *Proxy) Events() <-chan core.Message {
	return p.events.Receive()
}

// Close stops the session and the decode context. Events is closed once
// the context has exited.
func (p *Proxy) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.started = false
	running := p.initialised
	p.mu.Unlock()

	p.inbox.Close()
	if running {
		<-p.stopped
	}
	p.events.Close()
}

type sessionSink struct {
	inbox *pipeline.Mailbox[request]
	gen   uint64
}

func (s sessionSink) Emit(msg core.Message) {
	s.inbox.Post(eventRequest{gen: s.gen, msg: msg})
}

// decodeContext is the state owned by the run goroutine.
type decodeContext struct {
	p       *Proxy
	gen     uint64
	session Session
	cancel  context.CancelFunc
	failed  bool
}

func (p *Proxy) run() {
	defer close(p.stopped)

	dc := &decodeContext{p: p}
	defer dc.stop()

	var mic <-chan []byte
	if p.ports.Microphone != nil {
		mic = p.ports.Microphone.Receive()
	}

	for {
		select {
		case req, ok := <-p.inbox.Receive():
			if !ok {
				return
			}
			dc.handle(req)
		case data, ok := <-mic:
			if !ok {
				mic = nil
				continue
			}
			dc.sendMicrophone(data)
		}
	}
}

func (dc *decodeContext) handle(req request) {
	logger := util.GetLogger()

	switch r := req.(type) {
	case startRequest:
		dc.stop()
		dc.gen++
		dc.failed = false
		ctx, cancel := context.WithCancel(context.Background())
		dc.cancel = cancel
		gen := dc.gen
		inbox := dc.p.inbox
		engine := dc.p.engine
		logger.Info("Starting decoder", "device", r.device.String(), "gen", gen)
		go func() {
			session, err := engine.Open(ctx, r.device, r.cfg, sessionSink{inbox: inbox, gen: gen})
			if !inbox.Post(openedRequest{gen: gen, session: session, err: err}) && session != nil {
				session.Close()
			}
		}()
	case openedRequest:
		if r.gen != dc.gen || dc.cancel == nil {
			if r.session != nil {
				r.session.Close()
			}
			return
		}
		if r.err != nil {
			dc.fail(errors.Wrap(r.err, "failed to open decoder").Error())
			return
		}
		dc.session = r.session
	case stopRequest:
		dc.stop()
	case commandRequest:
		if dc.session == nil {
			logger.Debug("Dropping command, no decoder session", "command", r.code)
			return
		}
		if err := dc.session.SendCommand(r.code); err != nil {
			dc.fail(errors.Wrapf(err, "failed to send %s", r.code).Error())
		}
	case touchRequest:
		if dc.session == nil {
			return
		}
		if err := dc.session.SendTouch(r.ev); err != nil {
			dc.fail(errors.Wrap(err, "failed to send touch").Error())
		}
	case eventRequest:
		if r.gen != dc.gen || dc.cancel == nil {
			return
		}
		dc.forward(r.msg)
	}
}

func (dc *decodeContext) forward(msg core.Message) {
	switch m := msg.(type) {
	case core.VideoFrame:
		dc.p.ports.Video.Post(m)
	case core.Failure:
		dc.fail(m.Reason)
	default:
		dc.p.events.Post(msg)
	}
}

// fail reports the first failure of the current engine session.
func (dc *decodeContext) fail(reason string) {
	if dc.failed {
		return
	}
	dc.failed = true
	util.GetLogger().Error("Decoder failed", "gen", dc.gen, "reason", reason)
	dc.p.events.Post(core.Failure{Reason: reason})
}

func (dc *decodeContext) sendMicrophone(data []byte) {
	if dc.session == nil {
		return
	}
	if err := dc.session.SendMicrophone(data); err != nil {
		dc.fail(errors.Wrap(err, "failed to send microphone data").Error())
	}
}

func (dc *decodeContext) stop() {
	if dc.cancel != nil {
		dc.cancel()
		dc.cancel = nil
	}
	if dc.session != nil {
		if err := dc.session.Close(); err != nil {
			util.GetLogger().Debug("Failed to close decoder session", "error", err)
		}
		dc.session = nil
	}
	dc.gen++
}
