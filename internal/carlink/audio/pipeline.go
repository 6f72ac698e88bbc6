package audio

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/pipeline"
	"github.com/babelcloud/gbox/packages/headunit/internal/util"
	"github.com/pkg/errors"
	"k8s.io/utils/keymutex"
)

// DefaultQueueDepth is the number of frames buffered per channel before
// the oldest ones are dropped.
const DefaultQueueDepth = 32

// Pipeline plays the audio channels of one session and runs microphone
// capture on demand.
type Pipeline struct {
	output Output
	input  Input
	mic    *pipeline.Port[[]byte]
	depth  int

	// locks serializes acquire and enqueue of a channel with its teardown.
	locks keymutex.KeyMutex

	mu      sync.Mutex
	players map[core.AudioChannel]*channelPlayer
	retired map[core.AudioChannel]struct{}
	closed  bool

	recMu     sync.Mutex
	recCancel context.CancelFunc
	recDone   chan struct{}
}

type Option func(*Pipeline)

// WithQueueDepth sets the per-channel queue depth.
func WithQueueDepth(depth int) Option {
	return func(p *Pipeline) {
		if depth > 0 {
			p.depth = depth
		}
	}
}

// New creates a pipeline. Captured microphone chunks are posted on mic,
// which may be nil when there is nowhere to send them.
func New(output Output, input Input, mic *pipeline.Port[[]byte], opts ...Option) *Pipeline {
	if output == nil {
		output = &NullOutput{}
	}
	if input == nil {
		input = NullInput{}
	}
	p := &Pipeline{
		output:  output,
		input:   input,
		mic:     mic,
		depth:   DefaultQueueDepth,
		locks:   keymutex.NewHashed(0),
		players: make(map[core.AudioChannel]*channelPlayer),
		retired: make(map[core.AudioChannel]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) lock(ch core.AudioChannel) func() {
	key := ch.String()
	p.locks.LockKey(key)
	return func() {
		_ = p.locks.UnlockKey(key)
	}
}

// Acquire opens the player for ch, or reuses the open one.
func (p *Pipeline) Acquire(ch core.AudioChannel) error {
	unlock := p.lock(ch)
	defer unlock()

	_, err := p.acquireLocked(ch)
	return err
}

func (p *Pipeline) acquireLocked(ch core.AudioChannel) (*channelPlayer, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.Wrap(core.ErrClosed, "audio pipeline closed")
	}
	if _, ok := p.retired[ch]; ok {
		p.mu.Unlock()
		return nil, errors.Wrapf(core.ErrChannelRetired, "audio channel %s", ch)
	}
	if cp, ok := p.players[ch]; ok {
		p.mu.Unlock()
		return cp, nil
	}
	p.mu.Unlock()

	format, ok := ch.Format()
	if !ok {
		return nil, errors.Errorf("unknown audio decode type %d", ch.DecodeType)
	}
	player, err := p.output.OpenPlayer(ch, format)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open player for channel %s", ch)
	}

	cp := newChannelPlayer(ch, format, player, p.depth)
	p.mu.Lock()
	p.players[ch] = cp
	p.mu.Unlock()

	util.GetLogger().Debug("Audio channel opened", "channel", ch.String(),
		"sampleRate", format.SampleRate, "channels", format.Channels)
	return cp, nil
}

// Enqueue queues frame on its channel, opening the player first if no
// buffer request was seen for it.
func (p *Pipeline) Enqueue(frame core.AudioFrame) error {
	unlock := p.lock(frame.Channel)
	defer unlock()

	cp, err := p.acquireLocked(frame.Channel)
	if err != nil {
		return err
	}
	cp.enqueue(frame.Data)
	return nil
}

// Retire tears down ch. A retired channel cannot be acquired again.
func (p *Pipeline) Retire(ch core.AudioChannel) {
	unlock := p.lock(ch)
	defer unlock()

	p.mu.Lock()
	cp := p.players[ch]
	delete(p.players, ch)
	p.retired[ch] = struct{}{}
	p.mu.Unlock()

	if cp != nil {
		cp.stop()
	}
}

// Dropped returns how many frames of ch were dropped to keep up.
func (p *Pipeline) Dropped(ch core.AudioChannel) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cp, ok := p.players[ch]; ok {
		return cp.dropped.Load()
	}
	return 0
}

// Channels returns the number of open channels.
func (p *Pipeline) Channels() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.players)
}

// StartRecording starts microphone capture. It is a no-op while
// recording.
func (p *Pipeline) StartRecording() {
	p.recMu.Lock()
	defer p.recMu.Unlock()

	if p.recCancel != nil || p.isClosed() {
		return
	}
	if p.mic == nil {
		util.GetLogger().Warn("Recording requested without a microphone port")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.recCancel = cancel
	p.recDone = done

	mic := p.mic
	go func() {
		defer close(done)
		util.GetLogger().Info("Microphone capture started")
		if err := p.input.Capture(ctx, func(pcm []byte) { mic.Post(pcm) }); err != nil {
			util.GetLogger().Error("Microphone capture failed", "error", err)
		}
	}()
}

// StopRecording stops microphone capture and waits for it to end.
func (p *Pipeline) StopRecording() {
	p.recMu.Lock()
	defer p.recMu.Unlock()

	if p.recCancel == nil {
		return
	}
	p.recCancel()
	<-p.recDone
	p.recCancel = nil
	p.recDone = nil
	util.GetLogger().Info("Microphone capture stopped")
}

// Recording reports whether microphone capture is running.
func (p *Pipeline) Recording() bool {
	p.recMu.Lock()
	defer p.recMu.Unlock()
	return p.recCancel != nil
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close stops recording and retires every channel.
func (p *Pipeline) Close() {
	p.StopRecording()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	channels := make([]core.AudioChannel, 0, len(p.players))
	for ch := range p.players {
		channels = append(channels, ch)
	}
	p.mu.Unlock()

	for _, ch := range channels {
		p.Retire(ch)
	}
}

// channelPlayer feeds one player from a bounded queue. When the queue is
// full the oldest frame is dropped.
type channelPlayer struct {
	ch     core.AudioChannel
	format core.AudioFormat
	player Player
	depth  int

	mu      sync.Mutex
	queue   [][]byte
	signal  chan struct{}
	done    chan struct{}
	stopped chan struct{}
	dropped atomic.Uint64
}

func newChannelPlayer(ch core.AudioChannel, format core.AudioFormat, player Player, depth int) *channelPlayer {
	cp := &channelPlayer{
		ch:      ch,
		format:  format,
		player:  player,
		depth:   depth,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go cp.run()
	return cp
}

func (cp *channelPlayer) enqueue(data []byte) {
	cp.mu.Lock()
	if len(cp.queue) >= cp.depth {
		cp.queue = cp.queue[1:]
		cp.dropped.Add(1)
	}
	cp.queue = append(cp.queue, data)
	cp.mu.Unlock()

	select {
	case cp.signal <- struct{}{}:
	default:
	}
}

func (cp *channelPlayer) take() ([]byte, bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if len(cp.queue) == 0 {
		return nil, false
	}
	data := cp.queue[0]
	cp.queue = cp.queue[1:]
	return data, true
}

func (cp *channelPlayer) run() {
	defer close(cp.stopped)
	logger := util.GetLogger()

	for {
		select {
		case <-cp.done:
			cp.drain()
			if err := cp.player.Close(); err != nil {
				logger.Warn("Failed to close audio player", "channel", cp.ch.String(), "error", err)
			}
			return
		case <-cp.signal:
			cp.drain()
		}
	}
}

func (cp *channelPlayer) drain() {
	for {
		data, ok := cp.take()
		if !ok {
			return
		}
		if err := cp.player.Write(toBuffer(data, cp.format)); err != nil {
			util.GetLogger().Warn("Failed to play audio", "channel", cp.ch.String(), "error", err)
		}
	}
}

func (cp *channelPlayer) stop() {
	close(cp.done)
	<-cp.stopped
}
