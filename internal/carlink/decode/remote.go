package decode

import (
	"context"
	"io"
	"net"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/protocol"
	"github.com/babelcloud/gbox/packages/headunit/internal/util"
	"github.com/pkg/errors"
	"github.com/xtaci/smux"
)

// DialFunc opens the raw connection to the decoder helper.
type DialFunc func(ctx context.Context) (net.Conn, error)

// RemoteEngine runs the decoder in a helper process. One connection is
// multiplexed into a control, a video and an audio stream.
type RemoteEngine struct {
	address string
	dial    DialFunc
}

// NewRemoteEngine parses address, either unix:///path/to/socket or
// tcp://host:port.
func NewRemoteEngine(address string) (*RemoteEngine, error) {
	network, target, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return &RemoteEngine{
		address: address,
		dial: func(ctx context.Context) (net.Conn, error) {
			return d.DialContext(ctx, network, target)
		},
	}, nil
}

// NewRemoteEngineWithDialer uses dial instead of a network address.
func NewRemoteEngineWithDialer(name string, dial DialFunc) *RemoteEngine {
	return &RemoteEngine{address: name, dial: dial}
}

func parseAddress(address string) (string, string, error) {
	switch {
	case strings.HasPrefix(address, "unix://"):
		return "unix", strings.TrimPrefix(address, "unix://"), nil
	case strings.HasPrefix(address, "tcp://"):
		return "tcp", strings.TrimPrefix(address, "tcp://"), nil
	default:
		return "", "", errors.Errorf("unsupported decoder address %q", address)
	}
}

func (e *RemoteEngine) Open(ctx context.Context, device core.DeviceHandle, cfg core.SessionConfig, sink Sink) (Session, error) {
	conn, err := e.dial(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to decoder at %s", e.address)
	}

	mux, err := smux.Client(conn, smux.DefaultConfig())
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to create smux session to decoder")
	}

	rs := &remoteSession{mux: mux, sink: sink}
	if rs.control, err = openStream(mux, protocol.StreamControl); err == nil {
		if rs.video, err = openStream(mux, protocol.StreamVideo); err == nil {
			rs.audio, err = openStream(mux, protocol.StreamAudio)
		}
	}
	if err != nil {
		mux.Close()
		return nil, err
	}

	start, err := protocol.EncodeStart(device, cfg)
	if err != nil {
		mux.Close()
		return nil, err
	}
	if err := rs.write(rs.control, start); err != nil {
		mux.Close()
		return nil, err
	}

	for _, s := range []*smux.Stream{rs.control, rs.video, rs.audio} {
		rs.wg.Add(1)
		go rs.read(s)
	}

	util.GetLogger().Info("Decoder session opened", "address", e.address, "device", device.String())
	return rs, nil
}

func openStream(mux *smux.Session, kind protocol.StreamKind) (*smux.Stream, error) {
	stream, err := mux.OpenStream()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s stream", kind)
	}
	if err := protocol.WriteStreamKind(stream, kind); err != nil {
		stream.Close()
		return nil, errors.Wrapf(err, "failed to tag %s stream", kind)
	}
	return stream, nil
}

type remoteSession struct {
	mux     *smux.Session
	control *smux.Stream
	video   *smux.Stream
	audio   *smux.Stream
	sink    Sink

	writeMu  sync.Mutex
	closeMu  sync.Mutex
	closed   bool
	failOnce sync.Once
	wg       sync.WaitGroup
}

func (rs *remoteSession) write(stream *smux.Stream, f protocol.Frame) error {
	rs.writeMu.Lock()
	defer rs.writeMu.Unlock()
	return protocol.WriteFrame(stream, f)
}

func (rs *remoteSession) read(stream *smux.Stream) {
	defer rs.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			util.GetLogger().Error("Recovered from decoder stream reader", "stream", stream.ID(), "panic", r, "stack", string(debug.Stack()))
			rs.fail("decoder stream reader crashed")
		}
	}()

	for {
		f, err := protocol.ReadFrame(stream)
		if err != nil {
			if err == io.EOF {
				rs.fail("decoder closed the stream")
			} else {
				rs.fail(err.Error())
			}
			return
		}
		msg, err := protocol.DecodeMessage(f)
		if err != nil {
			rs.fail(err.Error())
			return
		}
		if rs.isClosed() {
			return
		}
		rs.sink.Emit(msg)
	}
}

func (rs *remoteSession) fail(reason string) {
	if rs.isClosed() {
		return
	}
	rs.failOnce.Do(func() {
		rs.sink.Emit(core.Failure{Reason: reason})
	})
}

func (rs *remoteSession) isClosed() bool {
	rs.closeMu.Lock()
	defer rs.closeMu.Unlock()
	return rs.closed
}

func (rs *remoteSession) SendCommand(code core.CommandCode) error {
	return rs.write(rs.control, protocol.EncodeCommand(code))
}

func (rs *remoteSession) SendTouch(ev core.TouchEvent) error {
	return rs.write(rs.control, protocol.EncodeTouch(ev))
}

func (rs *remoteSession) SendMicrophone(data []byte) error {
	return rs.write(rs.audio, protocol.EncodeMicrophone(data))
}

// Close sends a stop to the helper and tears the connection down.
func (rs *remoteSession) Close() error {
	rs.closeMu.Lock()
	if rs.closed {
		rs.closeMu.Unlock()
		return nil
	}
	rs.closed = true
	rs.closeMu.Unlock()

	if err := rs.write(rs.control, protocol.EncodeStop()); err != nil {
		util.GetLogger().Debug("Failed to send stop to decoder", "error", err)
	}
	err := rs.mux.Close()
	rs.wg.Wait()
	return err
}
