package protocol

import (
	"io"

	"github.com/pkg/errors"
)

// StreamKind is the first byte written on every multiplexed stream of the
// decoder link, telling the helper what the stream carries.
type StreamKind uint8

const (
	// StreamControl carries host commands and decoder lifecycle events.
	StreamControl StreamKind = iota + 1
	// StreamVideo carries video frames from the helper.
	StreamVideo
	// StreamAudio carries audio frames and buffer requests from the helper
	// and microphone chunks to it.
	StreamAudio
)

func (k StreamKind) String() string {
	switch k {
	case StreamControl:
		return "control"
	case StreamVideo:
		return "video"
	case StreamAudio:
		return "audio"
	default:
		return "unknown"
	}
}

func WriteStreamKind(w io.Writer, kind StreamKind) error {
	if _, err := w.Write([]byte{byte(kind)}); err != nil {
		return errors.Wrapf(err, "write %s stream tag", kind)
	}
	return nil
}

func ReadStreamKind(r io.Reader) (StreamKind, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errors.Wrap(err, "read stream tag")
	}
	kind := StreamKind(b[0])
	if kind < StreamControl || kind > StreamAudio {
		return 0, errors.Errorf("unknown stream tag %d", b[0])
	}
	return kind, nil
}
