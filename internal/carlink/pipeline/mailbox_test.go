package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveN[T any](t *testing.T, ch <-chan T, n int) []T {
	t.Helper()
	out := make([]T, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case v, ok := <-ch:
			require.True(t, ok, "channel closed after %d values", len(out))
			out = append(out, v)
		case <-timeout:
			t.Fatalf("timed out after %d of %d values", len(out), n)
		}
	}
	return out
}

func TestMailboxPreservesPostOrder(t *testing.T) {
	m := NewMailbox[int]()
	defer m.Close()

	const n = 1000
	for i := 0; i < n; i++ {
		require.True(t, m.Post(i))
	}

	got := receiveN(t, m.Receive(), n)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestMailboxPostNeverBlocks(t *testing.T) {
	m := NewMailbox[[]byte]()
	defer m.Close()

	done := make(chan struct{})
	go func() {
		// Nobody is receiving yet.
		for i := 0; i < 10000; i++ {
			m.Post([]byte{byte(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Post blocked without a receiver")
	}
	assert.GreaterOrEqual(t, m.Len(), 9999)
}

func TestMailboxOrderPerProducer(t *testing.T) {
	type item struct{ producer, seq int }
	m := NewMailbox[item]()
	defer m.Close()

	const producers, perProducer = 4, 250
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				m.Post(item{producer: p, seq: i})
			}
		}(p)
	}

	got := receiveN(t, m.Receive(), producers*perProducer)
	wg.Wait()

	next := make(map[int]int)
	for _, it := range got {
		assert.Equal(t, next[it.producer], it.seq, "producer %d out of order", it.producer)
		next[it.producer] = it.seq + 1
	}
}

func TestMailboxClose(t *testing.T) {
	m := NewMailbox[string]()
	m.Post("a")
	m.Close()
	m.Close()

	assert.False(t, m.Post("b"))

	select {
	case _, ok := <-m.Receive():
		if ok {
			// "a" may have been in flight already; the channel must close next.
			_, ok = <-m.Receive()
		}
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("receive channel not closed")
	}
}

func TestChannelConnectsBothEnds(t *testing.T) {
	a, b := NewChannel[int]("video")
	defer a.Close()

	assert.Equal(t, "video", b.Name())

	a.Post(1)
	a.Post(2)
	b.Post(10)

	assert.Equal(t, []int{1, 2}, receiveN(t, b.Receive(), 2))
	assert.Equal(t, []int{10}, receiveN(t, a.Receive(), 1))
}
