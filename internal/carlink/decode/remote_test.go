package decode

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtaci/smux"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []core.Message
}

func (s *recordingSink) Emit(msg core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *recordingSink) Messages() []core.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Message(nil), s.msgs...)
}

// fakeHelper is the decoder helper end of the link.
type fakeHelper struct {
	mux     *smux.Session
	streams map[protocol.StreamKind]*smux.Stream
	start   protocol.StartRequest
}

func acceptHelper(t *testing.T, conn net.Conn) <-chan *fakeHelper {
	ready := make(chan *fakeHelper, 1)
	go func() {
		mux, err := smux.Server(conn, nil)
		if !assert.NoError(t, err) {
			return
		}
		h := &fakeHelper{mux: mux, streams: map[protocol.StreamKind]*smux.Stream{}}
		for i := 0; i < 3; i++ {
			s, err := mux.AcceptStream()
			if !assert.NoError(t, err) {
				return
			}
			kind, err := protocol.ReadStreamKind(s)
			if !assert.NoError(t, err) {
				return
			}
			h.streams[kind] = s
		}
		f, err := protocol.ReadFrame(h.streams[protocol.StreamControl])
		if !assert.NoError(t, err) {
			return
		}
		h.start, err = protocol.DecodeStart(f)
		if !assert.NoError(t, err) {
			return
		}
		ready <- h
	}()
	return ready
}

func (h *fakeHelper) emit(t *testing.T, kind protocol.StreamKind, msg core.Message) {
	t.Helper()
	f, err := protocol.EncodeMessage(msg)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteFrame(h.streams[kind], f))
}

func openPipeSession(t *testing.T) (Session, *fakeHelper, *recordingSink) {
	t.Helper()
	hostConn, helperConn := net.Pipe()
	ready := acceptHelper(t, helperConn)

	engine := NewRemoteEngineWithDialer("pipe", func(ctx context.Context) (net.Conn, error) {
		return hostConn, nil
	})
	sink := &recordingSink{}
	session, err := engine.Open(context.Background(), testDevice, core.DefaultSessionConfig(), sink)
	require.NoError(t, err)

	var helper *fakeHelper
	select {
	case helper = <-ready:
	case <-time.After(wait):
		t.Fatal("helper did not receive the session")
	}
	t.Cleanup(func() {
		session.Close()
		helper.mux.Close()
	})
	return session, helper, sink
}

func TestParseAddress(t *testing.T) {
	network, target, err := parseAddress("unix:///run/headunit/decoder.sock")
	require.NoError(t, err)
	assert.Equal(t, "unix", network)
	assert.Equal(t, "/run/headunit/decoder.sock", target)

	network, target, err = parseAddress("tcp://127.0.0.1:7000")
	require.NoError(t, err)
	assert.Equal(t, "tcp", network)
	assert.Equal(t, "127.0.0.1:7000", target)

	_, err = NewRemoteEngine("http://decoder")
	assert.Error(t, err)
}

func TestRemoteEngineSendsStart(t *testing.T) {
	_, helper, _ := openPipeSession(t)

	assert.Equal(t, testDevice, helper.start.Device)
	assert.Equal(t, 60, helper.start.Config.FrameRate)
	assert.Equal(t, "Space", string(mustKey(t, helper.start.Config, core.ActionSelectDown)))
}

func mustKey(t *testing.T, cfg core.SessionConfig, action core.Action) core.KeyCode {
	t.Helper()
	code, ok := cfg.KeyBindings.KeyFor(action)
	require.True(t, ok)
	return code
}

func TestRemoteEngineDeliversStreams(t *testing.T) {
	_, helper, sink := openPipeSession(t)

	helper.emit(t, protocol.StreamControl, core.Plugged{PhoneType: 3, WiFi: true})
	helper.emit(t, protocol.StreamVideo, core.VideoFrame{Width: 1920, Height: 720, PTS: 1, Data: []byte{0, 0, 0, 1, 0x65}})
	helper.emit(t, protocol.StreamAudio, core.AudioFrame{Channel: core.AudioChannel{DecodeType: 5}, Data: []byte{1, 0}})

	require.Eventually(t, func() bool { return len(sink.Messages()) == 3 }, wait, time.Millisecond)

	kinds := map[core.MessageKind]core.Message{}
	for _, m := range sink.Messages() {
		kinds[m.Kind()] = m
	}
	assert.Equal(t, core.Plugged{PhoneType: 3, WiFi: true}, kinds[core.KindPlugged])
	assert.Equal(t, 1920, kinds[core.KindVideoFrame].(core.VideoFrame).Width)
	assert.Equal(t, uint8(5), kinds[core.KindAudioFrame].(core.AudioFrame).Channel.DecodeType)
}

func TestRemoteEngineWritesHostFrames(t *testing.T) {
	session, helper, _ := openPipeSession(t)

	require.NoError(t, session.SendCommand(core.CommandSiri))
	require.NoError(t, session.SendTouch(core.TouchEvent{Kind: core.TouchMove, X: 10.4, Y: 20.6}))
	require.NoError(t, session.SendMicrophone([]byte{9, 9}))

	f, err := protocol.ReadFrame(helper.streams[protocol.StreamControl])
	require.NoError(t, err)
	code, err := protocol.DecodeCommand(f)
	require.NoError(t, err)
	assert.Equal(t, core.CommandSiri, code)

	f, err = protocol.ReadFrame(helper.streams[protocol.StreamControl])
	require.NoError(t, err)
	touch, err := protocol.DecodeTouch(f)
	require.NoError(t, err)
	assert.Equal(t, core.TouchEvent{Kind: core.TouchMove, X: 10, Y: 21}, touch)

	f, err = protocol.ReadFrame(helper.streams[protocol.StreamAudio])
	require.NoError(t, err)
	assert.Equal(t, protocol.FrameMicrophone, f.Type)
	assert.Equal(t, []byte{9, 9}, f.Payload)
}

func TestRemoteEngineHelperExitIsOneFailure(t *testing.T) {
	_, helper, sink := openPipeSession(t)

	helper.mux.Close()

	require.Eventually(t, func() bool { return len(sink.Messages()) >= 1 }, wait, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	msgs := sink.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, core.KindFailure, msgs[0].Kind())
}

func TestRemoteEngineCloseSendsStop(t *testing.T) {
	session, helper, sink := openPipeSession(t)

	stop := make(chan protocol.Frame, 1)
	go func() {
		f, err := protocol.ReadFrame(helper.streams[protocol.StreamControl])
		if err == nil {
			stop <- f
		}
	}()

	require.NoError(t, session.Close())
	select {
	case f := <-stop:
		assert.Equal(t, protocol.FrameStop, f.Type)
	case <-time.After(wait):
		t.Fatal("helper did not receive stop")
	}
	assert.Empty(t, sink.Messages())
}
