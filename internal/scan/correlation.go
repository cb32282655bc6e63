package scan

import (
	"sync"

	"github.com/rs/zerolog"
)

// Report is one worker correlation message: the circuit a worker probes for
// and the local source port its first outbound connection bound to. The zero
// value is the sentinel that stops the consumer.
type Report struct {
	CircuitID string
	Port      int
}

func (m Report) sentinel() bool {
	return m.CircuitID == "" && m.Port == 0
}

// Queue is the correlation channel: many worker-side producers, one consumer
// goroutine owned by the handler.
type Queue struct {
	ch       chan Report
	stopOnce sync.Once
	drained  chan struct{}
}

func NewQueue(depth int) *Queue {
	if depth <= 0 {
		depth = 64
	}
	return &Queue{
		ch:      make(chan Report, depth),
		drained: make(chan struct{}),
	}
}

// Report enqueues one correlation message. Zero-valued reports are silently
// ignored so no producer can fake the sentinel. A report arriving after the
// consumer has drained is dropped; there is no scan left to attach it to.
func (q *Queue) Report(circuitID string, port int) {
	msg := Report{CircuitID: circuitID, Port: port}
	if msg.sentinel() {
		return
	}
	select {
	case q.ch <- msg:
	case <-q.drained:
	}
}

// Stop sends the sentinel exactly once. Messages already queued ahead of it
// are still consumed.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.ch <- Report{}
	})
}

// Drained is closed once the consumer has seen the sentinel and exited.
func (q *Queue) Drained() <-chan struct{} {
	return q.drained
}

// consume feeds circuit halves to the resolver until the sentinel arrives.
// Runs on its own goroutine for the lifetime of the scan.
func (q *Queue) consume(resolver *Resolver, logger zerolog.Logger) {
	logger.Info().Msg("correlation consumer started")
	for msg := range q.ch {
		if msg.sentinel() {
			break
		}
		logger.Debug().Str("circuit", msg.CircuitID).Int("port", msg.Port).
			Msg("worker correlation report")
		resolver.ObserveCircuitSide(msg.Port, msg.CircuitID)
	}
	logger.Info().Msg("correlation consumer stopped")
	close(q.drained)
}
