package collcomm

import (
	"sync"
	"sync/atomic"

	"github.com/unixpickle/essentials"
)

// A Port is a mailbox owned by a single node.
// Messages sent to a Port queue up until they are
// received, so sending never blocks.
type Port struct {
	lock   sync.Mutex
	queue  []*Message
	notify chan struct{}
}

// NewPort creates an empty Port.
func NewPort() *Port {
	return &Port{notify: make(chan struct{}, 1)}
}

// Recv blocks until the next message arrives.
//
// Only one Goroutine should receive on a Port at once.
func (p *Port) Recv() *Message {
	for {
		p.lock.Lock()
		if len(p.queue) > 0 {
			msg := p.queue[0]
			essentials.OrderedDelete(&p.queue, 0)
			p.lock.Unlock()
			return msg
		}
		p.lock.Unlock()
		<-p.notify
	}
}

func (p *Port) deliver(msg *Message) {
	p.lock.Lock()
	p.queue = append(p.queue, msg)
	p.lock.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// A Message is a chunk of data sent between nodes.
type Message struct {
	Source  *Port
	Dest    *Port
	Message interface{}

	// Size is the number of bytes the message would
	// occupy on a wire.
	Size int
}

// A Network carries messages between Ports.
type Network interface {
	// Send delivers messages to their destinations.
	//
	// This is a non-blocking operation. Messages from
	// one source to one destination arrive in order.
	Send(msgs ...*Message)
}

// A MemNetwork delivers messages directly between Ports
// in the same process.
type MemNetwork struct {
	bytes    int64
	messages int64
}

// NewMemNetwork creates a MemNetwork with zeroed
// counters.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{}
}

// Send delivers the messages immediately.
func (m *MemNetwork) Send(msgs ...*Message) {
	for _, msg := range msgs {
		atomic.AddInt64(&m.bytes, int64(msg.Size))
		atomic.AddInt64(&m.messages, 1)
		msg.Dest.deliver(msg)
	}
}

// BytesSent returns the total size of all messages sent
// so far.
func (m *MemNetwork) BytesSent() int64 {
	return atomic.LoadInt64(&m.bytes)
}

// MessagesSent returns the number of messages sent so
// far.
func (m *MemNetwork) MessagesSent() int64 {
	return atomic.LoadInt64(&m.messages)
}
