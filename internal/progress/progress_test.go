package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/devtools-research/internal/model"
)

func ev(seq uint64, kind model.EventKind) model.Event {
	return model.Event{Kind: kind, Seq: seq, RunID: "r1"}
}

func TestMulti(t *testing.T) {
	t.Parallel()

	var a, b []model.Event
	m := Multi(Func(func(e model.Event) { a = append(a, e) }), nil, Func(func(e model.Event) { b = append(b, e) }))
	m.Emit(ev(1, model.EventStageStarted))

	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}

func TestLogger(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	e := Logger(zap.New(core))
	e.Emit(model.ToolProgress("Vercel", model.ToolDegraded))
	e.Emit(model.WorkflowFailed("search unavailable"))

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "Vercel", logs.All()[0].ContextMap()["tool"])
	assert.Equal(t, "search unavailable", logs.All()[1].ContextMap()["reason"])
}

func TestChannel_DeliversInOrder(t *testing.T) {
	t.Parallel()

	c := NewChannel(1)
	go func() {
		for i := uint64(1); i <= 5; i++ {
			c.Emit(ev(i, model.EventToolProgress))
		}
		c.Close()
	}()

	var seqs []uint64
	for e := range c.Events() {
		seqs = append(seqs, e.Seq)
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs)
}

func TestChannel_EmitAfterCloseDoesNotPanic(t *testing.T) {
	t.Parallel()

	c := NewChannel(0)
	c.Close()
	c.Close()
	assert.NotPanics(t, func() { c.Emit(ev(1, model.EventStageStarted)) })
}

func TestChannel_CloseUnblocksEmitter(t *testing.T) {
	t.Parallel()

	c := NewChannel(0)
	done := make(chan struct{})
	go func() {
		c.Emit(ev(1, model.EventStageStarted))
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	c.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit stayed blocked after Close")
	}
}

func TestBroker_LiveAndTerminal(t *testing.T) {
	t.Parallel()

	b := NewBroker(16, 4)
	backlog, ch, cancel := b.Subscribe("r1", 0, 8)
	defer cancel()
	assert.Empty(t, backlog)

	emit := b.ForRun("r1")
	emit.Emit(ev(1, model.EventStageStarted))
	emit.Emit(ev(2, model.EventWorkflowFinished))

	var got []uint64
	for e := range ch {
		got = append(got, e.Seq)
	}
	assert.Equal(t, []uint64{1, 2}, got)
	assert.True(t, b.Known("r1"))
}

func TestBroker_ReplaySince(t *testing.T) {
	t.Parallel()

	b := NewBroker(3, 4)
	for i := uint64(1); i <= 5; i++ {
		b.Publish("r1", ev(i, model.EventToolProgress))
	}

	backlog, _, cancel := b.Subscribe("r1", 3, 1)
	defer cancel()
	require.Len(t, backlog, 2)
	assert.Equal(t, uint64(4), backlog[0].Seq)
	assert.Equal(t, uint64(5), backlog[1].Seq)
}

func TestBroker_SubscribeAfterFinish(t *testing.T) {
	t.Parallel()

	b := NewBroker(8, 4)
	b.Publish("r1", ev(1, model.EventStageStarted))
	b.Publish("r1", ev(2, model.EventWorkflowFailed))
	b.Publish("r1", ev(3, model.EventStageStarted))

	backlog, ch, cancel := b.Subscribe("r1", 0, 1)
	cancel()
	assert.Len(t, backlog, 2)
	_, open := <-ch
	assert.False(t, open)
}

func TestBroker_EvictsOldFinishedRuns(t *testing.T) {
	t.Parallel()

	b := NewBroker(4, 2)
	b.Publish("running", ev(1, model.EventStageStarted))
	for _, id := range []string{"a", "b", "c"} {
		b.Publish(id, ev(1, model.EventWorkflowFinished))
	}

	assert.True(t, b.Known("running"))
	assert.False(t, b.Known("a"))
	assert.False(t, b.Known("b"))
	assert.True(t, b.Known("c"))
}

func TestBroker_ConcurrentPublishAndCancel(t *testing.T) {
	t.Parallel()

	b := NewBroker(64, 4)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ch, cancel := b.Subscribe("r1", 0, 1)
			go func() {
				for range ch {
				}
			}()
			cancel()
			cancel()
		}()
	}
	for i := uint64(1); i <= 50; i++ {
		b.Publish("r1", ev(i, model.EventToolProgress))
	}
	wg.Wait()
}
