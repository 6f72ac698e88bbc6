package audio

import (
	"encoding/binary"
	"math"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	goaudio "github.com/go-audio/audio"
	"github.com/oov/audio/resampler"
	"github.com/pkg/errors"
)

// toBuffer converts interleaved PCM16LE into an int buffer. A trailing
// odd byte is ignored.
func toBuffer(data []byte, format core.AudioFormat) *goaudio.IntBuffer {
	n := len(data) / 2
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: format.Channels,
			SampleRate:  format.SampleRate,
		},
		Data:           make([]int, n),
		SourceBitDepth: 16,
	}
	for i := 0; i < n; i++ {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(data[2*i:])))
	}
	return buf
}

// toPCM converts samples back to PCM16LE, clamping out of range values.
func toPCM(samples []int) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(s)))
	}
	return out
}

// resampleQuality is the oov/audio filter quality, 0 (fast) to 10 (best).
const resampleQuality = 10

// convertSamples turns a decoded buffer into 16-bit interleaved samples in
// the target format. Sources must be mono or stereo.
func convertSamples(buf *goaudio.IntBuffer, to core.AudioFormat) ([]int, error) {
	if buf.Format == nil {
		return nil, errors.New("pcm buffer has no format")
	}
	from := core.AudioFormat{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels}
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = 16
	}
	switch {
	case from.Channels != 1 && from.Channels != 2:
		return nil, errors.Errorf("unsupported channel count %d", from.Channels)
	case to.Channels != 1 && to.Channels != 2:
		return nil, errors.Errorf("unsupported target channel count %d", to.Channels)
	case from.SampleRate <= 0 || to.SampleRate <= 0:
		return nil, errors.Errorf("invalid sample rate %d -> %d", from.SampleRate, to.SampleRate)
	case depth < 8 || depth > 32:
		return nil, errors.Errorf("unsupported bit depth %d", depth)
	}
	if from == to && depth == 16 {
		return buf.Data, nil
	}

	scale := float32(int64(1) << (depth - 1))
	planes := make([][]float32, from.Channels)
	frames := len(buf.Data) / from.Channels
	for c := range planes {
		planes[c] = make([]float32, frames)
		for i := 0; i < frames; i++ {
			planes[c][i] = float32(buf.Data[i*from.Channels+c]) / scale
		}
	}

	switch {
	case from.Channels == 2 && to.Channels == 1:
		for i := range planes[0] {
			planes[0][i] = (planes[0][i] + planes[1][i]) / 2
		}
		planes = planes[:1]
	case from.Channels == 1 && to.Channels == 2:
		planes = append(planes, planes[0])
	}

	if from.SampleRate != to.SampleRate {
		r := resampler.New(len(planes), from.SampleRate, to.SampleRate, resampleQuality)
		size := frames*to.SampleRate/from.SampleRate + 1
		resampled := make([][]float32, len(planes))
		for c, plane := range planes {
			out := make([]float32, size)
			_, written := r.ProcessFloat32(c, plane, out)
			resampled[c] = out[:written]
		}
		planes = resampled
	}

	n := len(planes[0])
	for _, plane := range planes[1:] {
		n = min(n, len(plane))
	}
	out := make([]int, 0, n*len(planes))
	for i := 0; i < n; i++ {
		for _, plane := range planes {
			out = append(out, int(math.Round(float64(plane[i])*32767)))
		}
	}
	return out, nil
}
