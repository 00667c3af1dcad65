package progress

import (
	"sync"

	"github.com/sells-group/devtools-research/internal/model"
)

const (
	defaultHistory = 256
	defaultRuns    = 128
)

// Broker is an in-memory pub/sub hub keyed by run ID. It keeps a bounded
// per-run history so late subscribers can replay from a sequence number,
// and closes subscriber channels once a run's terminal event is published.
type Broker struct {
	mu       sync.RWMutex
	subs     map[string]map[chan model.Event]struct{}
	history  map[string]*ring
	finished map[string]bool
	order    []string
	capacity int
	maxRuns  int
}

// NewBroker creates a Broker retaining up to historyPerRun events for each
// of the most recent maxRuns runs. Non-positive values use defaults.
func NewBroker(historyPerRun, maxRuns int) *Broker {
	if historyPerRun <= 0 {
		historyPerRun = defaultHistory
	}
	if maxRuns <= 0 {
		maxRuns = defaultRuns
	}
	return &Broker{
		subs:     make(map[string]map[chan model.Event]struct{}),
		history:  make(map[string]*ring),
		finished: make(map[string]bool),
		capacity: historyPerRun,
		maxRuns:  maxRuns,
	}
}

// ForRun returns an Emitter that publishes to runID.
func (b *Broker) ForRun(runID string) Emitter {
	return Func(func(ev model.Event) { b.Publish(runID, ev) })
}

// Publish records ev and delivers it to current subscribers without
// blocking; a subscriber whose buffer is full misses the event and must
// replay. A terminal event closes all subscriber channels for the run.
func (b *Broker) Publish(runID string, ev model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finished[runID] {
		return
	}
	rg := b.history[runID]
	if rg == nil {
		rg = newRing(b.capacity)
		b.history[runID] = rg
		b.order = append(b.order, runID)
		b.evict()
	}
	rg.push(ev)

	for ch := range b.subs[runID] {
		select {
		case ch <- ev:
		default:
		}
	}

	if ev.Terminal() {
		b.finished[runID] = true
		for ch := range b.subs[runID] {
			close(ch)
		}
		delete(b.subs, runID)
	}
}

// Subscribe registers for runID's events after since and returns the
// backlog to replay first, a live channel, and a cancel func. For a run
// that already finished the channel is returned closed.
func (b *Broker) Subscribe(runID string, since uint64, buffer int) ([]model.Event, <-chan model.Event, func()) {
	ch := make(chan model.Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	var backlog []model.Event
	if rg := b.history[runID]; rg != nil {
		backlog = rg.since(since)
	}
	if b.finished[runID] {
		close(ch)
		return backlog, ch, func() {}
	}

	subs := b.subs[runID]
	if subs == nil {
		subs = make(map[chan model.Event]struct{})
		b.subs[runID] = subs
	}
	subs[ch] = struct{}{}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[runID]; ok {
			if _, live := s[ch]; live {
				delete(s, ch)
				close(ch)
			}
			if len(s) == 0 {
				delete(b.subs, runID)
			}
		}
	}
	return backlog, ch, cancel
}

// Known reports whether the broker has seen events for runID.
func (b *Broker) Known(runID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.history[runID]
	return ok
}

// evict drops the oldest finished runs beyond maxRuns. Runs still in
// progress are never evicted. Caller holds b.mu.
func (b *Broker) evict() {
	for i := 0; len(b.order) > b.maxRuns && i < len(b.order); {
		id := b.order[i]
		if !b.finished[id] {
			i++
			continue
		}
		delete(b.history, id)
		delete(b.finished, id)
		b.order = append(b.order[:i], b.order[i+1:]...)
	}
}

// ring is a fixed-capacity buffer of the most recent events.
type ring struct {
	buf   []model.Event
	start int
	count int
}

func newRing(capacity int) *ring { return &ring{buf: make([]model.Event, capacity)} }

func (r *ring) push(e model.Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []model.Event {
	out := make([]model.Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
