package protocol

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"math"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/pkg/errors"
)

// FrameHeaderSize is the size of the kind byte plus the payload length.
const FrameHeaderSize = 5

// MaxPayloadSize bounds a single frame. Video access units stay far below it.
const MaxPayloadSize = 8 << 20

// FrameType tags a frame on the decoder link.
type FrameType uint8

// Frames sent by the decoder helper reuse the core message kinds.
const (
	FrameVideo              = FrameType(core.KindVideoFrame)
	FrameAudio              = FrameType(core.KindAudioFrame)
	FrameAudioBufferRequest = FrameType(core.KindAudioBufferRequest)
	FrameEventCommand       = FrameType(core.KindCommand)
	FramePlugged            = FrameType(core.KindPlugged)
	FrameUnplugged          = FrameType(core.KindUnplugged)
	FrameFailure            = FrameType(core.KindFailure)
	FrameMediaInfo          = FrameType(core.KindMediaInfo)
)

// Frames sent by the host.
const (
	FrameStart FrameType = 0x40 + iota
	FrameStop
	FrameCommand
	FrameTouch
	FrameMicrophone
)

// Frame is one length-prefixed unit on the wire:
//
//	[type u8][length u32 big endian][payload]
type Frame struct {
	Type    FrameType
	Payload []byte
}

// WriteFrame writes f as a single Write call so concurrent writers on a
// stream cannot interleave partial frames.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload) > MaxPayloadSize {
		return errors.Errorf("frame payload too large: %d bytes", len(f.Payload))
	}
	buf := make([]byte, FrameHeaderSize+len(f.Payload))
	buf[0] = byte(f.Type)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(f.Payload)))
	copy(buf[FrameHeaderSize:], f.Payload)
	if _, err := w.Write(buf); err != nil {
		return errors.Wrapf(err, "write frame type %d", f.Type)
	}
	return nil
}

// ReadFrame reads one frame. The payload is freshly allocated.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err
	}
	size := binary.BigEndian.Uint32(header[1:5])
	if size > MaxPayloadSize {
		return Frame{}, errors.Errorf("frame payload too large: %d bytes", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, errors.Wrap(err, "read frame payload")
	}
	return Frame{Type: FrameType(header[0]), Payload: payload}, nil
}

// EncodeMessage encodes a decoder event.
func EncodeMessage(msg core.Message) (Frame, error) {
	switch m := msg.(type) {
	case core.VideoFrame:
		payload := make([]byte, 16+len(m.Data))
		binary.BigEndian.PutUint32(payload[0:4], uint32(m.Width))
		binary.BigEndian.PutUint32(payload[4:8], uint32(m.Height))
		binary.BigEndian.PutUint64(payload[8:16], uint64(m.PTS))
		copy(payload[16:], m.Data)
		return Frame{Type: FrameVideo, Payload: payload}, nil
	case core.AudioFrame:
		payload := make([]byte, 2+len(m.Data))
		payload[0] = m.Channel.DecodeType
		payload[1] = m.Channel.AudioType
		copy(payload[2:], m.Data)
		return Frame{Type: FrameAudio, Payload: payload}, nil
	case core.AudioBufferRequest:
		return Frame{Type: FrameAudioBufferRequest, Payload: []byte{m.Channel.DecodeType, m.Channel.AudioType}}, nil
	case core.Command:
		return Frame{Type: FrameEventCommand, Payload: encodeCode(m.Code)}, nil
	case core.Plugged:
		payload := make([]byte, 5)
		binary.BigEndian.PutUint32(payload[0:4], uint32(m.PhoneType))
		if m.WiFi {
			payload[4] = 1
		}
		return Frame{Type: FramePlugged, Payload: payload}, nil
	case core.Unplugged:
		return Frame{Type: FrameUnplugged}, nil
	case core.Failure:
		return Frame{Type: FrameFailure, Payload: []byte(m.Reason)}, nil
	case core.MediaInfo:
		return Frame{Type: FrameMediaInfo, Payload: m.Data}, nil
	default:
		return Frame{}, errors.Errorf("unsupported message %T", msg)
	}
}

// DecodeMessage decodes a decoder event frame.
func DecodeMessage(f Frame) (core.Message, error) {
	p := f.Payload
	switch f.Type {
	case FrameVideo:
		if len(p) < 16 {
			return nil, shortPayload(f)
		}
		return core.VideoFrame{
			Width:  int(binary.BigEndian.Uint32(p[0:4])),
			Height: int(binary.BigEndian.Uint32(p[4:8])),
			PTS:    int64(binary.BigEndian.Uint64(p[8:16])),
			Data:   p[16:],
		}, nil
	case FrameAudio:
		if len(p) < 2 {
			return nil, shortPayload(f)
		}
		return core.AudioFrame{
			Channel: core.AudioChannel{DecodeType: p[0], AudioType: p[1]},
			Data:    p[2:],
		}, nil
	case FrameAudioBufferRequest:
		if len(p) < 2 {
			return nil, shortPayload(f)
		}
		return core.AudioBufferRequest{Channel: core.AudioChannel{DecodeType: p[0], AudioType: p[1]}}, nil
	case FrameEventCommand:
		code, err := decodeCode(f)
		if err != nil {
			return nil, err
		}
		return core.Command{Code: code}, nil
	case FramePlugged:
		if len(p) < 5 {
			return nil, shortPayload(f)
		}
		return core.Plugged{PhoneType: int(binary.BigEndian.Uint32(p[0:4])), WiFi: p[4] == 1}, nil
	case FrameUnplugged:
		return core.Unplugged{}, nil
	case FrameFailure:
		return core.Failure{Reason: string(p)}, nil
	case FrameMediaInfo:
		return core.MediaInfo{Data: p}, nil
	default:
		return nil, errors.Errorf("unknown event frame type %d", f.Type)
	}
}

// StartRequest is the payload of a FrameStart frame.
type StartRequest struct {
	Device core.DeviceHandle  `json:"device"`
	Config core.SessionConfig `json:"config"`
}

func EncodeStart(device core.DeviceHandle, cfg core.SessionConfig) (Frame, error) {
	payload, err := json.Marshal(StartRequest{Device: device, Config: cfg})
	if err != nil {
		return Frame{}, errors.Wrap(err, "encode start request")
	}
	return Frame{Type: FrameStart, Payload: payload}, nil
}

func DecodeStart(f Frame) (StartRequest, error) {
	var req StartRequest
	if f.Type != FrameStart {
		return req, errors.Errorf("expected start frame, got type %d", f.Type)
	}
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		return req, errors.Wrap(err, "decode start request")
	}
	return req, nil
}

func EncodeStop() Frame {
	return Frame{Type: FrameStop}
}

func EncodeCommand(code core.CommandCode) Frame {
	return Frame{Type: FrameCommand, Payload: encodeCode(code)}
}

func DecodeCommand(f Frame) (core.CommandCode, error) {
	return decodeCode(f)
}

// EncodeTouch rounds the device coordinates to whole pixels.
func EncodeTouch(ev core.TouchEvent) Frame {
	payload := make([]byte, 9)
	payload[0] = byte(ev.Kind)
	binary.BigEndian.PutUint32(payload[1:5], pixel(ev.X))
	binary.BigEndian.PutUint32(payload[5:9], pixel(ev.Y))
	return Frame{Type: FrameTouch, Payload: payload}
}

func DecodeTouch(f Frame) (core.TouchEvent, error) {
	if f.Type != FrameTouch || len(f.Payload) < 9 {
		return core.TouchEvent{}, shortPayload(f)
	}
	return core.TouchEvent{
		Kind: core.TouchKind(f.Payload[0]),
		X:    float64(binary.BigEndian.Uint32(f.Payload[1:5])),
		Y:    float64(binary.BigEndian.Uint32(f.Payload[5:9])),
	}, nil
}

func EncodeMicrophone(data []byte) Frame {
	return Frame{Type: FrameMicrophone, Payload: data}
}

func encodeCode(code core.CommandCode) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(code))
	return payload
}

func decodeCode(f Frame) (core.CommandCode, error) {
	if len(f.Payload) < 4 {
		return 0, shortPayload(f)
	}
	return core.CommandCode(binary.BigEndian.Uint32(f.Payload[0:4])), nil
}

func pixel(v float64) uint32 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(math.Round(v))
}

func shortPayload(f Frame) error {
	return errors.Errorf("frame type %d: short payload (%d bytes)", f.Type, len(f.Payload))
}
