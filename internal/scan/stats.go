package scan

import (
	"fmt"
	"sync/atomic"
)

// Stats aggregates scan outcomes. Counters are written by the trackers on the
// dispatcher thread and read concurrently by the status surface, so every
// field is atomic.
type Stats struct {
	total            atomic.Int64
	successful       atomic.Int64
	failed           atomic.Int64
	settled          atomic.Int64
	finishedStreams  atomic.Int64
	attachesIssued   atomic.Int64
	attachesRejected atomic.Int64
}

// NewStats initializes counters for a scan over total circuits.
func NewStats(total int) *Stats {
	s := &Stats{}
	s.total.Store(int64(total))
	return s
}

func (s *Stats) IncSuccessful() { s.successful.Add(1) }
func (s *Stats) IncFailed()     { s.failed.Add(1) }

// IncSettled records a built circuit whose probe provably produces no stream
// (launch failure, empty path). Settled slots satisfy the completion
// predicate without ever counting as a finished stream.
func (s *Stats) IncSettled()         { s.settled.Add(1) }
func (s *Stats) IncFinishedStreams() { s.finishedStreams.Add(1) }
func (s *Stats) incAttachIssued()    { s.attachesIssued.Add(1) }
func (s *Stats) incAttachRejected()  { s.attachesRejected.Add(1) }

// Snapshot is a consistent-enough view for logging and the status API. Each
// field is read atomically; the set as a whole is not a transaction, which is
// fine for monitoring reads.
type Snapshot struct {
	TotalCircuits      int64 `json:"total_circuits"`
	SuccessfulCircuits int64 `json:"successful_circuits"`
	FailedCircuits     int64 `json:"failed_circuits"`
	SettledCircuits    int64 `json:"settled_circuits"`
	FinishedStreams    int64 `json:"finished_streams"`
	AttachesIssued     int64 `json:"attaches_issued"`
	AttachesRejected   int64 `json:"attaches_rejected"`
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		TotalCircuits:      s.total.Load(),
		SuccessfulCircuits: s.successful.Load(),
		FailedCircuits:     s.failed.Load(),
		SettledCircuits:    s.settled.Load(),
		FinishedStreams:    s.finishedStreams.Load(),
		AttachesIssued:     s.attachesIssued.Load(),
		AttachesRejected:   s.attachesRejected.Load(),
	}
}

// Complete reports whether every circuit resolved and every stream slot a
// built circuit opened has either finished or been settled.
func (s Snapshot) Complete() bool {
	circuitsDone := s.SuccessfulCircuits+s.FailedCircuits == s.TotalCircuits
	streamsDone := s.FinishedStreams+s.SettledCircuits >= s.SuccessfulCircuits
	return circuitsDone && streamsDone
}

func (s Snapshot) String() string {
	return fmt.Sprintf("circuits=%d built=%d failed=%d settled=%d streams_finished=%d attaches=%d rejected=%d",
		s.TotalCircuits, s.SuccessfulCircuits, s.FailedCircuits, s.SettledCircuits,
		s.FinishedStreams, s.AttachesIssued, s.AttachesRejected)
}
