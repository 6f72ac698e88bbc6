package session

import (
	"context"
	"sync"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/decode"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/pipeline"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/render"
)

type startCall struct {
	device core.DeviceHandle
	cfg    core.SessionConfig
}

type fakeDecode struct {
	events *pipeline.Mailbox[core.Message]

	mu          sync.Mutex
	initialised bool
	ports       decode.Ports
	starts      []startCall
	stops       int
	closed      bool
	commands    []core.CommandCode
	touches     []core.TouchEvent
	frames      int
	startErr    error
}

func newFakeDecode() *fakeDecode {
	return &fakeDecode{events: pipeline.NewMailbox[core.Message]()}
}

func (d *fakeDecode) Initialise(ports decode.Ports) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initialised = true
	d.ports = ports
	return nil
}

func (d *fakeDecode) Start(device core.DeviceHandle, cfg core.SessionConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts = append(d.starts, startCall{device: device, cfg: cfg})
	return d.startErr
}

func (d *fakeDecode) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
}

func (d *fakeDecode) PostCommand(code core.CommandCode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.commands = append(d.commands, code)
}

func (d *fakeDecode) PostTouch(ev core.TouchEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.touches = append(d.touches, ev)
}

func (d *fakeDecode) RequestFrame() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames++
}

func (d *fakeDecode) Events() <-chan core.Message {
	return d.events.Receive()
}

func (d *fakeDecode) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.events.Close()
}

// emit plays the engine side.
func (d *fakeDecode) emit(msg core.Message) {
	d.events.Post(msg)
}

func (d *fakeDecode) Initialised() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialised
}

func (d *fakeDecode) Starts() []startCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]startCall(nil), d.starts...)
}

func (d *fakeDecode) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

func (d *fakeDecode) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDecode) Commands() []core.CommandCode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]core.CommandCode(nil), d.commands...)
}

func (d *fakeDecode) Touches() []core.TouchEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]core.TouchEvent(nil), d.touches...)
}

func (d *fakeDecode) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

type fakeRender struct {
	mu          sync.Mutex
	initialised bool
	redraws     int
	closed      bool
}

func (r *fakeRender) Initialise(surface render.Surface, video *pipeline.Port[core.VideoFrame]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initialised = true
	return nil
}

func (r *fakeRender) RequestRedraw() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redraws++
}

func (r *fakeRender) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *fakeRender) Initialised() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialised
}

func (r *fakeRender) Redraws() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redraws
}

type fakeWorkers struct {
	mu      sync.Mutex
	decodes []*fakeDecode
	renders []*fakeRender
}

func (w *fakeWorkers) NewDecode() DecodeWorker {
	w.mu.Lock()
	defer w.mu.Unlock()
	d := newFakeDecode()
	w.decodes = append(w.decodes, d)
	return d
}

func (w *fakeWorkers) NewRender() RenderWorker {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := &fakeRender{}
	w.renders = append(w.renders, r)
	return r
}

func (w *fakeWorkers) Decode(i int) *fakeDecode {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i < 0 {
		i += len(w.decodes)
	}
	if i < 0 || i >= len(w.decodes) {
		return nil
	}
	return w.decodes[i]
}

func (w *fakeWorkers) Render(i int) *fakeRender {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i < 0 {
		i += len(w.renders)
	}
	if i < 0 || i >= len(w.renders) {
		return nil
	}
	return w.renders[i]
}

func (w *fakeWorkers) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.decodes)
}

type fakeFinder struct {
	mu         sync.Mutex
	device     core.DeviceHandle
	findErr    error
	requestErr error
	finds      int
	requests   int
}

func (f *fakeFinder) Find(ctx context.Context) (core.DeviceHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	return f.device, f.findErr
}

func (f *fakeFinder) Request(ctx context.Context) (core.DeviceHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return f.device, f.requestErr
}

func (f *fakeFinder) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

type fakeReloader struct {
	mu     sync.Mutex
	reload int
}

func (r *fakeReloader) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reload++
	return nil
}

func (r *fakeReloader) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reload
}

type notification struct {
	event string
	value bool
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *fakeNotifier) Notify(event string, value bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{event, value})
	return nil
}

func (n *fakeNotifier) Sent() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.sent...)
}

type fakeSurface struct {
	mu   sync.Mutex
	w, h int
}

func (s *fakeSurface) Draw(core.VideoFrame) error { return nil }

func (s *fakeSurface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w, s.h
}

func (s *fakeSurface) Resize(w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w, s.h = w, h
}
