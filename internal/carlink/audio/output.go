package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/babelcloud/gbox/packages/headunit/internal/util"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"
)

// Output opens a player per playback channel.
type Output interface {
	OpenPlayer(ch core.AudioChannel, format core.AudioFormat) (Player, error)
}

// Player plays the samples of one channel.
type Player interface {
	Write(buf *goaudio.IntBuffer) error
	Close() error
}

// NullOutput discards audio. It counts what it was given.
type NullOutput struct {
	samples atomic.Int64
}

func (o *NullOutput) OpenPlayer(ch core.AudioChannel, format core.AudioFormat) (Player, error) {
	return nullPlayer{o}, nil
}

// Samples returns the number of samples discarded so far.
func (o *NullOutput) Samples() int64 {
	return o.samples.Load()
}

type nullPlayer struct{ o *NullOutput }

func (p nullPlayer) Write(buf *goaudio.IntBuffer) error {
	p.o.samples.Add(int64(len(buf.Data)))
	return nil
}

func (nullPlayer) Close() error { return nil }

// WavOutput records every channel to its own 16-bit wav file under Dir.
type WavOutput struct {
	Dir string

	mu    sync.Mutex
	files []string
}

func NewWavOutput(dir string) (*WavOutput, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create audio output dir %s", dir)
	}
	return &WavOutput{Dir: dir}, nil
}

func (o *WavOutput) OpenPlayer(ch core.AudioChannel, format core.AudioFormat) (Player, error) {
	o.mu.Lock()
	path := filepath.Join(o.Dir, fmt.Sprintf("channel-%d-%d-%03d.wav", ch.DecodeType, ch.AudioType, len(o.files)))
	o.files = append(o.files, path)
	o.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", path)
	}
	util.GetLogger().Debug("Recording audio channel", "channel", ch.String(), "file", path,
		"sampleRate", format.SampleRate, "channels", format.Channels)

	return &wavPlayer{
		file:    f,
		encoder: wav.NewEncoder(f, format.SampleRate, 16, format.Channels, 1),
	}, nil
}

// Files returns the paths written so far, in creation order.
func (o *WavOutput) Files() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.files...)
}

type wavPlayer struct {
	file    *os.File
	encoder *wav.Encoder
}

func (p *wavPlayer) Write(buf *goaudio.IntBuffer) error {
	return errors.Wrap(p.encoder.Write(buf), "failed to write wav samples")
}

func (p *wavPlayer) Close() error {
	if err := p.encoder.Close(); err != nil {
		p.file.Close()
		return errors.Wrap(err, "failed to finalize wav file")
	}
	return p.file.Close()
}
