package audio

import (
	"context"
	"os"
	"time"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"
)

// Input captures microphone audio as PCM16LE chunks until ctx is done.
type Input interface {
	Capture(ctx context.Context, emit func(pcm []byte)) error
}

// NullInput captures nothing.
type NullInput struct{}

func (NullInput) Capture(ctx context.Context, emit func(pcm []byte)) error {
	<-ctx.Done()
	return nil
}

// MicrophoneFormat is what the phone expects captured audio in.
var MicrophoneFormat = core.AudioFormat{SampleRate: 16000, Channels: 1}

// WavInput replays a wav file as the microphone, one chunk of
// FrameDuration at a time. The file is converted to Format, or to
// MicrophoneFormat when Format is zero. Playback loops when Loop is set.
type WavInput struct {
	Path          string
	Format        core.AudioFormat
	FrameDuration time.Duration
	Loop          bool
}

func (in WavInput) Capture(ctx context.Context, emit func(pcm []byte)) error {
	f, err := os.Open(in.Path)
	if err != nil {
		return errors.Wrapf(err, "failed to open microphone file %s", in.Path)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return errors.Errorf("invalid wav file %s", in.Path)
	}
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return errors.Wrapf(err, "failed to decode %s", in.Path)
	}
	format := in.Format
	if format == (core.AudioFormat{}) {
		format = MicrophoneFormat
	}
	samples, err := convertSamples(buf, format)
	if err != nil {
		return errors.Wrapf(err, "cannot convert %s to %d Hz/%d ch", in.Path, format.SampleRate, format.Channels)
	}
	if len(samples) == 0 {
		return errors.Errorf("no samples in %s", in.Path)
	}

	frameDuration := in.FrameDuration
	if frameDuration <= 0 {
		frameDuration = 20 * time.Millisecond
	}
	samplesPerFrame := int(float64(format.Channels) * float64(format.SampleRate) *
		float64(frameDuration) / float64(time.Second))
	if samplesPerFrame <= 0 {
		return errors.Errorf("non-positive samples per frame for %s", in.Path)
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		for start := 0; start < len(samples); start += samplesPerFrame {
			end := min(start+samplesPerFrame, len(samples))
			select {
			case <-ticker.C:
				emit(toPCM(samples[start:end]))
			case <-ctx.Done():
				return nil
			}
		}
		if !in.Loop {
			return nil
		}
	}
}
