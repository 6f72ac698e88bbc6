package settings

import (
	"testing"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelCurrentBeforePublish(t *testing.T) {
	c := NewChannel()
	_, ok := c.Current()
	assert.False(t, ok)
}

func TestChannelPublishInSubscriptionOrder(t *testing.T) {
	c := NewChannel()

	var calls []string
	c.Subscribe(func(core.SessionConfig) { calls = append(calls, "first") })
	c.Subscribe(func(core.SessionConfig) { calls = append(calls, "second") })
	c.Subscribe(func(core.SessionConfig) { calls = append(calls, "third") })

	c.Publish(core.DefaultSessionConfig())
	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestChannelLateSubscriberCatchesUpWithCurrent(t *testing.T) {
	c := NewChannel()
	cfg := core.DefaultSessionConfig()
	cfg.FrameRate = 30
	c.Publish(cfg)

	called := false
	c.Subscribe(func(core.SessionConfig) { called = true })
	assert.False(t, called, "no replay for late subscribers")

	current, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, 30, current.FrameRate)
}

func TestChannelUnsubscribe(t *testing.T) {
	c := NewChannel()

	var got []int
	a := c.Subscribe(func(cfg core.SessionConfig) { got = append(got, 1) })
	c.Subscribe(func(cfg core.SessionConfig) { got = append(got, 2) })
	c.Unsubscribe(a)
	c.Unsubscribe("unknown")

	c.Publish(core.DefaultSessionConfig())
	assert.Equal(t, []int{2}, got)
	assert.Equal(t, 1, c.SubscriberCount())
}

func TestChannelSubscriberMayUnsubscribeDuringPublish(t *testing.T) {
	c := NewChannel()

	var sub Subscription
	count := 0
	sub = c.Subscribe(func(core.SessionConfig) {
		count++
		c.Unsubscribe(sub)
	})

	c.Publish(core.DefaultSessionConfig())
	c.Publish(core.DefaultSessionConfig())
	assert.Equal(t, 1, count)
}
