package pipeline

// Port is one end of a Channel. Values posted on a port are received, in
// order, on the other end.
type Port[T any] struct {
	name string
	send *Mailbox[T]
	recv *Mailbox[T]
}

// NewChannel returns the two connected ends of a bidirectional channel.
// Each direction is an independent ordered mailbox.
func NewChannel[T any](name string) (*Port[T], *Port[T]) {
	ab := NewMailbox[T]()
	ba := NewMailbox[T]()
	return &Port[T]{name: name, send: ab, recv: ba}, &Port[T]{name: name, send: ba, recv: ab}
}

// Name identifies the channel in logs.
func (p *Port[T]) Name() string {
	return p.name
}

// Post sends v to the peer without blocking.
func (p *Port[T]) Post(v T) bool {
	return p.send.Post(v)
}

// Receive returns values posted by the peer.
func (p *Port[T]) Receive() <-chan T {
	return p.recv.Receive()
}

// Close tears down both directions. Either end may close the channel.
func (p *Port[T]) Close() {
	p.send.Close()
	p.recv.Close()
}
