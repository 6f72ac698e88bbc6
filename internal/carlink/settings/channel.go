package settings

import (
	"sync"

	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/google/uuid"
)

// Handler receives every published configuration.
type Handler func(cfg core.SessionConfig)

// Subscription identifies a subscriber for Unsubscribe.
type Subscription string

type subscriber struct {
	id      Subscription
	handler Handler
}

// Channel holds the current configuration and pushes new values to its
// subscribers. It replaces a process-wide settings singleton: build one at
// startup and hand it to whoever needs it.
type Channel struct {
	mu          sync.RWMutex
	current     core.SessionConfig
	hasCurrent  bool
	subscribers []subscriber
}

func NewChannel() *Channel {
	return &Channel{}
}

// Publish stores cfg and invokes all subscribers synchronously, in the
// order they subscribed. Subscribers joining later only see it through
// Current.
func (c *Channel) Publish(cfg core.SessionConfig) {
	c.mu.Lock()
	c.current = cfg
	c.hasCurrent = true
	subs := make([]subscriber, len(c.subscribers))
	copy(subs, c.subscribers)
	c.mu.Unlock()

	for _, s := range subs {
		s.handler(cfg)
	}
}

// Subscribe registers handler for future publishes.
func (c *Channel) Subscribe(handler Handler) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := Subscription(uuid.NewString())
	c.subscribers = append(c.subscribers, subscriber{id: id, handler: handler})
	return id
}

// Unsubscribe removes a subscriber. Unknown tokens are ignored.
func (c *Channel) Unsubscribe(id Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range c.subscribers {
		if s.id == id {
			c.subscribers = append(c.subscribers[:i:i], c.subscribers[i+1:]...)
			return
		}
	}
}

// Current returns the last published configuration, if any.
func (c *Channel) Current() (core.SessionConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.hasCurrent
}

// SubscriberCount returns the number of active subscribers.
func (c *Channel) SubscriberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers)
}
