package scan

import (
	"testing"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/exitctl/internal/testutil/testlog"
)

func TestQueueDeliversReportsAndStopsOnSentinel(t *testing.T) {
	testlog.Start(t)

	attacher := &fakeAttacher{}
	resolver := NewResolver(attacher, NewStats(1))
	q := NewQueue(4)
	go q.consume(resolver, log.Logger)

	// A forged zero report must not act as the sentinel.
	q.Report("", 0)
	q.Report("circ-1", 5000)
	waitFor(t, "circuit half", func() bool { return resolver.PendingCount() == 1 })

	q.Stop()
	q.Stop() // idempotent
	select {
	case <-q.Drained():
	case <-time.After(2 * time.Second):
		t.Fatalf("consumer did not stop on sentinel")
	}
}

func TestQueueDropsLateReportsAfterConsumerStops(t *testing.T) {
	testlog.Start(t)

	resolver := NewResolver(&fakeAttacher{}, NewStats(1))
	q := NewQueue(1)
	go q.consume(resolver, log.Logger)

	q.Stop()
	<-q.Drained()

	done := make(chan struct{})
	go func() {
		// Two reports overflow the single-slot buffer; neither may block a
		// worker pipe reader once the consumer is gone.
		q.Report("circ-9", 4000)
		q.Report("circ-9", 4001)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("late report blocked after consumer stopped")
	}
	if resolver.PendingCount() != 0 {
		t.Fatalf("late report reached the resolver")
	}
}
