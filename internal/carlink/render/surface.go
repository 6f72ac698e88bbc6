package render

import (
	"io"
	"sync"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pkg/errors"
)

// StreamSurface writes the H.264 elementary stream to w, for a file or a
// pipe into an external player.
type StreamSurface struct {
	mu     sync.Mutex
	w      io.Writer
	width  int
	height int
	frames int
}

func NewStreamSurface(w io.Writer, width, height int) *StreamSurface {
	return &StreamSurface{w: w, width: width, height: height}
}

func (s *StreamSurface) Draw(frame core.VideoFrame) error {
	var ab h264.AnnexB
	if err := ab.Unmarshal(frame.Data); err != nil {
		return errors.Wrap(err, "invalid annex-b access unit")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(frame.Data); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	s.frames++
	return nil
}

func (s *StreamSurface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *StreamSurface) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width, s.height = width, height
}

// Frames returns the number of access units written.
func (s *StreamSurface) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}
