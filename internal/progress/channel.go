package progress

import (
	"sync"

	"github.com/sells-group/devtools-research/internal/model"
)

// Channel is an Emitter backed by a buffered channel. Emit blocks while the
// buffer is full until the reader catches up or the channel is closed;
// events emitted after Close are dropped.
type Channel struct {
	ch   chan model.Event
	done chan struct{}
	once sync.Once
	mu   sync.RWMutex
}

// NewChannel creates a Channel with the given buffer size.
func NewChannel(buffer int) *Channel {
	return &Channel{
		ch:   make(chan model.Event, buffer),
		done: make(chan struct{}),
	}
}

// Events returns the receive side. It is closed by Close.
func (c *Channel) Events() <-chan model.Event {
	return c.ch
}

func (c *Channel) Emit(ev model.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.ch <- ev:
	case <-c.done:
	}
}

// Close stops delivery and closes the events channel. Safe to call more
// than once.
func (c *Channel) Close() {
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		close(c.ch)
		c.mu.Unlock()
	})
}
