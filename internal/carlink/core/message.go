package core

import (
	"fmt"
	"strconv"
)

// MessageKind tags the variants of Message.
type MessageKind uint8

const (
	KindVideoFrame MessageKind = iota + 1
	KindAudioFrame
	KindAudioBufferRequest
	KindCommand
	KindPlugged
	KindUnplugged
	KindFailure
	KindMediaInfo
)

func (k MessageKind) String() string {
	switch k {
	case KindVideoFrame:
		return "video"
	case KindAudioFrame:
		return "audio"
	case KindAudioBufferRequest:
		return "requestBuffer"
	case KindCommand:
		return "command"
	case KindPlugged:
		return "plugged"
	case KindUnplugged:
		return "unplugged"
	case KindFailure:
		return "failure"
	case KindMediaInfo:
		return "media"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Message is a frame message produced by the decode worker. The payload
// of a dispatched message belongs to the receiver; producers must not keep
// or reuse the buffers they hand over.
type Message interface {
	Kind() MessageKind
}

// VideoFrame is one H.264 access unit in Annex-B form.
type VideoFrame struct {
	Width  int
	Height int
	PTS    int64
	Data   []byte
}

// AudioChannel identifies a playback stream. DecodeType selects the PCM
// format, AudioType distinguishes concurrent streams of the same format.
type AudioChannel struct {
	DecodeType uint8 `json:"decodeType"`
	AudioType  uint8 `json:"audioType"`
}

func (c AudioChannel) String() string {
	return fmt.Sprintf("%d/%d", c.DecodeType, c.AudioType)
}

// AudioFormat is the PCM layout of a decode type.
type AudioFormat struct {
	SampleRate int
	Channels   int
}

var audioFormats = map[uint8]AudioFormat{
	1: {SampleRate: 44100, Channels: 2},
	2: {SampleRate: 44100, Channels: 2},
	3: {SampleRate: 8000, Channels: 1},
	4: {SampleRate: 48000, Channels: 2},
	5: {SampleRate: 16000, Channels: 1},
	6: {SampleRate: 24000, Channels: 1},
	7: {SampleRate: 16000, Channels: 2},
}

// Format returns the PCM layout for the channel's decode type.
func (c AudioChannel) Format() (AudioFormat, bool) {
	f, ok := audioFormats[c.DecodeType]
	return f, ok
}

// AudioFrame is interleaved signed 16-bit little-endian PCM.
type AudioFrame struct {
	Channel AudioChannel
	Data    []byte
}

// AudioBufferRequest asks the host to prepare playback for a channel.
type AudioBufferRequest struct {
	Channel AudioChannel
}

type Command struct {
	Code CommandCode
}

type Plugged struct {
	PhoneType int
	WiFi      bool
}

type Unplugged struct{}

type Failure struct {
	Reason string
}

// MediaInfo carries now-playing metadata, opaque to the host.
type MediaInfo struct {
	Data []byte
}

func (VideoFrame) Kind() MessageKind         { return KindVideoFrame }
func (AudioFrame) Kind() MessageKind         { return KindAudioFrame }
func (AudioBufferRequest) Kind() MessageKind { return KindAudioBufferRequest }
func (Command) Kind() MessageKind            { return KindCommand }
func (Plugged) Kind() MessageKind            { return KindPlugged }
func (Unplugged) Kind() MessageKind          { return KindUnplugged }
func (Failure) Kind() MessageKind            { return KindFailure }
func (MediaInfo) Kind() MessageKind          { return KindMediaInfo }

// TouchKind is the phase of a touch event.
type TouchKind uint8

const (
	TouchDown TouchKind = iota
	TouchMove
	TouchUp
	TouchCancel
)

func (k TouchKind) String() string {
	switch k {
	case TouchDown:
		return "down"
	case TouchMove:
		return "move"
	case TouchUp:
		return "up"
	case TouchCancel:
		return "cancel"
	default:
		return "touch(" + strconv.Itoa(int(k)) + ")"
	}
}

// TouchEvent is a touch in device-native pixels.
type TouchEvent struct {
	Kind TouchKind `json:"kind"`
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
}
