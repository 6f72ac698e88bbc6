package decode

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/pipeline"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = time.Second

var testDevice = core.DeviceHandle{
	VendorID:  core.AccessoryVendorID,
	ProductID: core.AccessoryProductID,
	Bus:       1,
	Address:   7,
	Path:      "1-1",
}

type fakeSession struct {
	mu       sync.Mutex
	commands []core.CommandCode
	touches  []core.TouchEvent
	mic      [][]byte
	sendErr  error
	closed   bool
}

func (s *fakeSession) SendCommand(code core.CommandCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, code)
	return s.sendErr
}

func (s *fakeSession) SendTouch(ev core.TouchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touches = append(s.touches, ev)
	return s.sendErr
}

func (s *fakeSession) SendMicrophone(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mic = append(s.mic, data)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) Commands() []core.CommandCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.CommandCode(nil), s.commands...)
}

func (s *fakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type openCall struct {
	device core.DeviceHandle
	cfg    core.SessionConfig
	sink   Sink
}

type fakeEngine struct {
	mu       sync.Mutex
	calls    []openCall
	sessions []*fakeSession
	err      error
}

func (e *fakeEngine) Open(ctx context.Context, device core.DeviceHandle, cfg core.SessionConfig, sink Sink) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, openCall{device: device, cfg: cfg, sink: sink})
	if e.err != nil {
		return nil, e.err
	}
	s := &fakeSession{}
	e.sessions = append(e.sessions, s)
	return s, nil
}

func (e *fakeEngine) Calls() []openCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]openCall(nil), e.calls...)
}

func (e *fakeEngine) Session(i int) *fakeSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.sessions) {
		return nil
	}
	return e.sessions[i]
}

type harness struct {
	proxy  *Proxy
	engine *fakeEngine
	video  *pipeline.Port[core.VideoFrame]
	mic    *pipeline.Port[[]byte]
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	engine := &fakeEngine{}
	p := NewProxy(engine)

	renderEnd, decodeVideo := pipeline.NewChannel[core.VideoFrame]("video")
	audioEnd, decodeMic := pipeline.NewChannel[[]byte]("microphone")
	require.NoError(t, p.Initialise(Ports{Video: decodeVideo, Microphone: decodeMic}))

	t.Cleanup(func() {
		p.Close()
		renderEnd.Close()
		audioEnd.Close()
	})
	return &harness{proxy: p, engine: engine, video: renderEnd, mic: audioEnd}
}

// startAndWait starts the proxy and returns the sink of the opened session
// once the session has been handed back to the decode context.
func (h *harness) startAndWait(t *testing.T) Sink {
	t.Helper()
	n := len(h.engine.Calls())
	require.NoError(t, h.proxy.Start(testDevice, core.DefaultSessionConfig()))
	require.Eventually(t, func() bool { return len(h.engine.Calls()) == n+1 }, wait, time.Millisecond)

	// A command round-trip proves the opened session is installed.
	s := h.engine.Session(n)
	require.NotNil(t, s)
	require.Eventually(t, func() bool {
		h.proxy.PostCommand(core.CommandInvalid)
		return len(s.Commands()) > 0
	}, wait, 5*time.Millisecond)
	return h.engine.Calls()[n].sink
}

func nextEvent(t *testing.T, p *Proxy) core.Message {
	t.Helper()
	select {
	case msg := <-p.Events():
		return msg
	case <-time.After(wait):
		t.Fatal("no event")
		return nil
	}
}

func noEvent(t *testing.T, p *Proxy) {
	t.Helper()
	select {
	case msg := <-p.Events():
		t.Fatalf("unexpected event %#v", msg)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestInitialiseMisuse(t *testing.T) {
	p := NewProxy(&fakeEngine{})
	defer p.Close()

	err := p.Start(testDevice, core.DefaultSessionConfig())
	assert.True(t, errors.Is(err, core.ErrProtocolMisuse), "start before initialise")

	assert.True(t, errors.Is(p.Initialise(Ports{}), core.ErrProtocolMisuse), "missing video port")

	_, video := pipeline.NewChannel[core.VideoFrame]("video")
	defer video.Close()
	require.NoError(t, p.Initialise(Ports{Video: video}))
	assert.True(t, errors.Is(p.Initialise(Ports{Video: video}), core.ErrProtocolMisuse))
}

func TestStartTwiceIsMisuse(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.proxy.Start(testDevice, core.DefaultSessionConfig()))
	err := h.proxy.Start(testDevice, core.DefaultSessionConfig())
	assert.True(t, errors.Is(err, core.ErrProtocolMisuse))

	h.proxy.Stop()
	h.proxy.Stop()
	assert.False(t, h.proxy.Started())
	assert.NoError(t, h.proxy.Start(testDevice, core.DefaultSessionConfig()))
}

func TestStartPassesDeviceAndConfig(t *testing.T) {
	h := newHarness(t)
	cfg := core.DefaultSessionConfig()
	cfg.FrameRate = 25

	require.NoError(t, h.proxy.Start(testDevice, cfg))
	require.Eventually(t, func() bool { return len(h.engine.Calls()) == 1 }, wait, time.Millisecond)

	call := h.engine.Calls()[0]
	assert.Equal(t, testDevice, call.device)
	assert.Equal(t, 25, call.cfg.FrameRate)
}

func TestEventsKeepEngineOrder(t *testing.T) {
	h := newHarness(t)
	sink := h.startAndWait(t)

	ch := core.AudioChannel{DecodeType: 4, AudioType: 1}
	sink.Emit(core.Plugged{PhoneType: 3})
	sink.Emit(core.AudioBufferRequest{Channel: ch})
	sink.Emit(core.VideoFrame{PTS: 9, Data: []byte{0, 0, 0, 1, 0x65}})
	sink.Emit(core.AudioFrame{Channel: ch, Data: []byte{1, 2}})
	sink.Emit(core.Command{Code: core.CommandStartRecordAudio})
	sink.Emit(core.Unplugged{})

	assert.Equal(t, core.Plugged{PhoneType: 3}, nextEvent(t, h.proxy))
	assert.Equal(t, core.AudioBufferRequest{Channel: ch}, nextEvent(t, h.proxy))
	assert.Equal(t, core.AudioFrame{Channel: ch, Data: []byte{1, 2}}, nextEvent(t, h.proxy))
	assert.Equal(t, core.Command{Code: core.CommandStartRecordAudio}, nextEvent(t, h.proxy))
	assert.Equal(t, core.Unplugged{}, nextEvent(t, h.proxy))

	select {
	case frame := <-h.video.Receive():
		assert.Equal(t, int64(9), frame.PTS)
	case <-time.After(wait):
		t.Fatal("video frame not routed to the video port")
	}
}

func TestOpenErrorBecomesOneFailure(t *testing.T) {
	h := newHarness(t)
	h.engine.err = errors.New("usb claim failed")

	require.NoError(t, h.proxy.Start(testDevice, core.DefaultSessionConfig()))

	msg := nextEvent(t, h.proxy)
	failure, ok := msg.(core.Failure)
	require.True(t, ok)
	assert.Contains(t, failure.Reason, "usb claim failed")
	noEvent(t, h.proxy)
}

func TestOnlyFirstFailureIsReported(t *testing.T) {
	h := newHarness(t)
	sink := h.startAndWait(t)

	sink.Emit(core.Failure{Reason: "decode error"})
	sink.Emit(core.Failure{Reason: "again"})

	assert.Equal(t, core.Failure{Reason: "decode error"}, nextEvent(t, h.proxy))
	noEvent(t, h.proxy)
}

func TestSendErrorFailsSession(t *testing.T) {
	h := newHarness(t)
	h.startAndWait(t)
	s := h.engine.Session(0)
	s.mu.Lock()
	s.sendErr = errors.New("broken pipe")
	s.mu.Unlock()

	h.proxy.PostTouch(core.TouchEvent{Kind: core.TouchDown})
	msg := nextEvent(t, h.proxy)
	require.IsType(t, core.Failure{}, msg)
	assert.Contains(t, msg.(core.Failure).Reason, "broken pipe")
}

func TestCommandsForwardedInOrder(t *testing.T) {
	h := newHarness(t)
	h.startAndWait(t)
	s := h.engine.Session(0)
	before := len(s.Commands())

	h.proxy.PostCommand(core.CommandLeft)
	h.proxy.PostCommand(core.CommandSelectDown)
	h.proxy.RequestFrame()
	h.proxy.PostCommand(core.CommandSelectUp)

	require.Eventually(t, func() bool { return len(s.Commands()) == before+4 }, wait, time.Millisecond)
	assert.Equal(t, []core.CommandCode{
		core.CommandLeft, core.CommandSelectDown, core.CommandFrame, core.CommandSelectUp,
	}, s.Commands()[before:])
}

func TestMicrophoneForwarded(t *testing.T) {
	h := newHarness(t)
	h.startAndWait(t)
	s := h.engine.Session(0)

	h.mic.Post([]byte{1, 2, 3, 4})
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.mic) == 1
	}, wait, time.Millisecond)
}

func TestStopDropsLateEvents(t *testing.T) {
	h := newHarness(t)
	sink := h.startAndWait(t)
	s := h.engine.Session(0)

	h.proxy.Stop()
	require.Eventually(t, s.Closed, wait, time.Millisecond)

	sink.Emit(core.Plugged{})
	sink.Emit(core.Failure{Reason: "late"})
	noEvent(t, h.proxy)
}

func TestCloseClosesEvents(t *testing.T) {
	h := newHarness(t)
	h.startAndWait(t)

	h.proxy.Close()
	_, ok := <-h.proxy.Events()
	assert.False(t, ok)
	assert.True(t, h.engine.Session(0).Closed())
	assert.True(t, errors.Is(h.proxy.Start(testDevice, core.DefaultSessionConfig()), core.ErrClosed))
}
