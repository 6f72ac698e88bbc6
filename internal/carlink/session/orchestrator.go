package session

import (
	"context"
	"sync"
	"time"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/audio"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/decode"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/input"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/pipeline"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/render"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/settings"
	"github.com/babelcloud/gbox/packages/headunit/internal/util"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

type Options struct {
	// Settings supplies the configuration each session starts with.
	Settings *settings.Channel
	Finder   DeviceFinder
	Workers  WorkerFactory
	Surface  render.Surface

	AudioOutput     audio.Output
	AudioInput      audio.Input
	AudioQueueDepth int

	Reloader Reloader
	Notifier Notifier
	Clock    clock.WithDelayedExecution
	// RetryDelay is how long a failed session waits before the reload.
	// Zero means on the next tick.
	RetryDelay time.Duration

	OnError      func(err error)
	OnCommand    func(code core.CommandCode)
	OnTransition func(from, to core.SessionState)
}

// session is everything owned by one attach-to-detach lifetime. Worker
// events carry the epoch of the session that produced them.
type session struct {
	id     string
	epoch  uint64
	device core.DeviceHandle
	config core.SessionConfig

	decode DecodeWorker
	render RenderWorker
	audio  *audio.Pipeline
	router *input.Router

	video *pipeline.Port[core.VideoFrame]
	mic   *pipeline.Port[[]byte]
}

// Orchestrator runs the device session state machine. All state is owned
// by the goroutine in Run; the exported methods only post events to it.
type Orchestrator struct {
	opts  Options
	clock clock.WithDelayedExecution
	inbox *pipeline.Mailbox[event]

	stateMu sync.RWMutex
	state   core.SessionState

	// Owned by the control goroutine.
	session      *session
	epoch        uint64
	searchID     uint64
	cancelSearch context.CancelFunc
	recovery     clock.Timer
	recoveryGen  uint64
}

func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Settings == nil:
		return nil, errors.New("session orchestrator needs a settings channel")
	case opts.Finder == nil:
		return nil, errors.New("session orchestrator needs a device finder")
	case opts.Workers == nil:
		return nil, errors.New("session orchestrator needs a worker factory")
	case opts.Surface == nil:
		return nil, errors.New("session orchestrator needs a render surface")
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.OnError == nil {
		opts.OnError = func(err error) {
			util.GetLogger().Warn("Session error", "error", err)
		}
	}
	return &Orchestrator{
		opts:  opts,
		clock: opts.Clock,
		inbox: pipeline.NewMailbox[event](),
		state: core.StateIdle,
	}, nil
}

// State returns the current state.
func (o *Orchestrator) State() core.SessionState {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state
}

// Attach reports a hotplug attach.
func (o *Orchestrator) Attach(device core.DeviceHandle) {
	o.inbox.Post(attachEvent{device: device})
}

// Select asks for an explicit device selection.
func (o *Orchestrator) Select() {
	o.inbox.Post(selectEvent{})
}

// Detach reports a hotplug detach.
func (o *Orchestrator) Detach(device core.DeviceHandle) {
	o.inbox.Post(detachEvent{device: device})
}

// Stop ends any session and returns to idle.
func (o *Orchestrator) Stop() {
	o.inbox.Post(stopEvent{})
}

func (o *Orchestrator) KeyDown(code core.KeyCode) {
	o.inbox.Post(keyEvent{code: code})
}

func (o *Orchestrator) Pointer(ev input.PointerEvent) {
	o.inbox.Post(pointerEvent{ev: ev})
}

// Resize reports a new rendered surface size.
func (o *Orchestrator) Resize(width, height int) {
	o.inbox.Post(resizeEvent{width: width, height: height})
}

// Run processes events until ctx is done, then tears down any session.
func (o *Orchestrator) Run(ctx context.Context) error {
	logger := util.GetLogger()

	sub := o.opts.Settings.Subscribe(func(cfg core.SessionConfig) {
		logger.Info("Session configuration updated", "fps", cfg.FrameRate, "width", cfg.Width, "height", cfg.Height)
	})
	defer o.opts.Settings.Unsubscribe(sub)

	defer o.inbox.Close()
	defer o.stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-o.inbox.Receive():
			if !ok {
				return nil
			}
			o.handle(ev)
		}
	}
}

func (o *Orchestrator) handle(ev event) {
	switch e := ev.(type) {
	case attachEvent:
		o.handleAttach(e.device)
	case selectEvent:
		o.handleSelect()
	case foundEvent:
		o.handleFound(e)
	case detachEvent:
		o.handleDetach(e.device)
	case stopEvent:
		o.stop()
	case workerEvent:
		o.handleWorker(e)
	case keyEvent:
		if o.session != nil && o.State().Live() {
			o.session.router.KeyDown(e.code)
		}
	case pointerEvent:
		if o.session != nil && o.State().Live() {
			o.session.router.Pointer(e.ev)
		}
	case resizeEvent:
		o.handleResize(e.width, e.height)
	case recoveryEvent:
		o.handleRecovery(e.gen)
	case execEvent:
		if e.fn != nil {
			e.fn()
		}
		close(e.done)
	}
}

func (o *Orchestrator) setState(to core.SessionState) {
	o.stateMu.Lock()
	from := o.state
	o.state = to
	o.stateMu.Unlock()

	if from == to {
		return
	}
	util.GetLogger().Info("Session state changed", "from", from.String(), "to", to.String())
	if o.opts.OnTransition != nil {
		o.opts.OnTransition(from, to)
	}
}

func (o *Orchestrator) reportError(err error) {
	o.opts.OnError(err)
}

func (o *Orchestrator) handleAttach(device core.DeviceHandle) {
	if o.State() != core.StateIdle {
		util.GetLogger().Debug("Ignoring attach", "device", device.String(), "state", o.State().String())
		return
	}
	o.search(o.opts.Finder.Find)
}

func (o *Orchestrator) handleSelect() {
	if o.State() != core.StateIdle {
		util.GetLogger().Debug("Ignoring device selection", "state", o.State().String())
		return
	}
	o.search(o.opts.Finder.Request)
}

// search resolves a device in the background and reports back.
func (o *Orchestrator) search(find func(context.Context) (core.DeviceHandle, error)) {
	o.setState(core.StateSearching)

	o.searchID++
	id := o.searchID
	ctx, cancel := context.WithCancel(context.Background())
	o.cancelSearch = cancel

	go func() {
		device, err := find(ctx)
		o.inbox.Post(foundEvent{id: id, device: device, err: err})
	}()
}

func (o *Orchestrator) clearSearch() {
	if o.cancelSearch != nil {
		o.cancelSearch()
		o.cancelSearch = nil
	}
}

func (o *Orchestrator) handleFound(e foundEvent) {
	if e.id != o.searchID || o.State() != core.StateSearching {
		return
	}
	o.clearSearch()

	if e.err != nil {
		o.reportError(e.err)
		o.setState(core.StateIdle)
		return
	}
	if err := o.startSession(e.device); err != nil {
		o.reportError(err)
		o.setState(core.StateIdle)
	}
}

// startSession creates and wires both workers, then starts decoding.
func (o *Orchestrator) startSession(device core.DeviceHandle) error {
	if o.session != nil {
		return errors.Wrap(core.ErrProtocolMisuse, "a session is already active")
	}
	cfg, ok := o.opts.Settings.Current()
	if !ok {
		return errors.New("no session configuration published")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid session configuration")
	}

	o.epoch++
	s := &session{
		id:     uuid.NewString(),
		epoch:  o.epoch,
		device: device,
		config: cfg,
		decode: o.opts.Workers.NewDecode(),
		render: o.opts.Workers.NewRender(),
	}

	renderVideo, decodeVideo := pipeline.NewChannel[core.VideoFrame]("video")
	audioMic, decodeMic := pipeline.NewChannel[[]byte]("microphone")
	s.video, s.mic = renderVideo, audioMic

	if err := s.decode.Initialise(decode.Ports{Video: decodeVideo, Microphone: decodeMic}); err != nil {
		o.teardown(s, false)
		return errors.Wrap(err, "failed to initialise decode worker")
	}
	if err := s.render.Initialise(o.opts.Surface, renderVideo); err != nil {
		o.teardown(s, false)
		return errors.Wrap(err, "failed to initialise render worker")
	}

	var audioOpts []audio.Option
	if o.opts.AudioQueueDepth > 0 {
		audioOpts = append(audioOpts, audio.WithQueueDepth(o.opts.AudioQueueDepth))
	}
	s.audio = audio.New(o.opts.AudioOutput, o.opts.AudioInput, audioMic, audioOpts...)
	s.router = input.NewRouter(cfg, s.decode, o.opts.Surface.Size, input.WithClock(o.clock))

	o.session = s
	o.setState(core.StateStarting)

	go func(events <-chan core.Message, epoch uint64) {
		for msg := range events {
			o.inbox.Post(workerEvent{epoch: epoch, msg: msg})
		}
	}(s.decode.Events(), s.epoch)

	util.GetLogger().Info("Starting session", "session", s.id, "device", device.String(),
		"fps", cfg.FrameRate, "width", cfg.Width, "height", cfg.Height)
	if err := s.decode.Start(device, cfg); err != nil {
		o.session = nil
		o.teardown(s, false)
		return errors.Wrap(err, "failed to start decode worker")
	}
	return nil
}

// teardown releases everything a session owns.
func (o *Orchestrator) teardown(s *session, stopDecode bool) {
	if s.router != nil {
		s.router.Close()
	}
	if stopDecode {
		s.decode.Stop()
	}
	s.decode.Close()
	s.render.Close()
	if s.audio != nil {
		s.audio.Close()
	}
	s.video.Close()
	s.mic.Close()
	if o.session == s {
		o.session = nil
	}
	util.GetLogger().Debug("Session torn down", "session", s.id)
}

func (o *Orchestrator) handleDetach(device core.DeviceHandle) {
	switch state := o.State(); {
	case state == core.StateSearching:
		o.clearSearch()
		o.setState(core.StateIdle)
	case state.Live() && o.session != nil && o.session.device.Same(device):
		// The worker's unplugged acknowledgment is not awaited.
		o.teardown(o.session, true)
		o.setState(core.StateIdle)
		o.notify(settings.EventPlugged, false)
	}
}

func (o *Orchestrator) handleWorker(e workerEvent) {
	// A failed session is torn down before recovery is armed, so buffer
	// requests arriving while a reload is pending are dropped here.
	s := o.session
	if s == nil || e.epoch != s.epoch || !o.State().Live() {
		return
	}
	logger := util.GetLogger()

	switch msg := e.msg.(type) {
	case core.Plugged:
		if o.State() == core.StateStarting {
			logger.Info("Phone plugged", "session", s.id, "phoneType", msg.PhoneType, "wifi", msg.WiFi)
			o.setState(core.StatePlugged)
			o.notify(settings.EventPlugged, true)
		}
	case core.Unplugged:
		o.setState(core.StateUnplugged)
		o.teardown(s, true)
		o.setState(core.StateIdle)
		o.notify(settings.EventPlugged, false)
	case core.Failure:
		o.fail(s, msg.Reason)
	case core.AudioBufferRequest:
		if err := s.audio.Acquire(msg.Channel); err != nil {
			o.reportError(err)
		}
	case core.AudioFrame:
		if err := s.audio.Enqueue(msg); err != nil {
			logger.Debug("Dropping audio frame", "channel", msg.Channel.String(), "error", err)
		}
	case core.Command:
		o.handleCommand(s, msg.Code)
	case core.MediaInfo:
		logger.Debug("Media info", "session", s.id, "size", len(msg.Data))
	}
}

func (o *Orchestrator) handleCommand(s *session, code core.CommandCode) {
	switch code {
	case core.CommandStartRecordAudio:
		s.audio.StartRecording()
	case core.CommandStopRecordAudio:
		s.audio.StopRecording()
	case core.CommandRequestHostUI:
		util.GetLogger().Info("Phone requested the host UI", "session", s.id)
	}
	if o.opts.OnCommand != nil {
		o.opts.OnCommand(code)
	}
}

func (o *Orchestrator) fail(s *session, reason string) {
	if o.recovery != nil {
		return
	}
	o.teardown(s, false)
	o.setState(core.StateFailed)
	o.notify(settings.EventPlugged, false)
	o.reportError(&core.FailureError{Reason: reason})
	o.armRecovery()
}

// armRecovery schedules the reload. At most one is pending.
func (o *Orchestrator) armRecovery() {
	if o.recovery != nil {
		return
	}
	o.recoveryGen++
	gen := o.recoveryGen
	o.recovery = o.clock.AfterFunc(o.opts.RetryDelay, func() {
		o.inbox.Post(recoveryEvent{gen: gen})
	})
}

func (o *Orchestrator) clearRecovery() {
	if o.recovery != nil {
		o.recovery.Stop()
		o.recovery = nil
	}
}

// recoveryPending reports whether a reload is scheduled.
func (o *Orchestrator) recoveryPending() bool {
	return o.recovery != nil
}

func (o *Orchestrator) handleRecovery(gen uint64) {
	if o.recovery == nil || gen != o.recoveryGen {
		return
	}
	o.recovery = nil
	o.setState(core.StateIdle)

	if o.opts.Reloader == nil {
		return
	}
	util.GetLogger().Info("Reloading after session failure")
	if err := o.opts.Reloader.Reload(); err != nil {
		o.reportError(errors.Wrap(err, "reload failed"))
	}
}

func (o *Orchestrator) handleResize(width, height int) {
	o.opts.Surface.Resize(width, height)
	if o.session == nil || !o.State().Live() {
		return
	}
	o.session.render.RequestRedraw()
	o.session.decode.RequestFrame()
}

func (o *Orchestrator) stop() {
	o.clearSearch()
	o.clearRecovery()
	if o.session != nil {
		o.teardown(o.session, true)
		o.notify(settings.EventPlugged, false)
	}
	o.setState(core.StateIdle)
}

func (o *Orchestrator) notify(event string, value bool) {
	if o.opts.Notifier == nil {
		return
	}
	if err := o.opts.Notifier.Notify(event, value); err != nil {
		util.GetLogger().Debug("Failed to notify display", "event", event, "error", err)
	}
}

// exec runs fn on the control goroutine and waits for it.
func (o *Orchestrator) exec(fn func()) bool {
	done := make(chan struct{})
	if !o.inbox.Post(execEvent{fn: fn, done: done}) {
		return false
	}
	<-done
	return true
}
