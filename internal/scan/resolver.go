package scan

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/exitctl/internal/control"
	"github.com/danmuck/exitctl/internal/observability"
)

// Attacher issues the daemon command binding a pending stream to a circuit.
type Attacher interface {
	AttachStream(streamID, circuitID string) error
}

type pendingSide int

const (
	// awaitingCircuit: the stream event arrived first, streamID is known.
	awaitingCircuit pendingSide = iota
	// awaitingStream: the worker's correlation report arrived first,
	// circuitID is known.
	awaitingStream
)

type pendingAttachment struct {
	side      pendingSide
	streamID  string
	circuitID string
}

// Resolver pairs the two halves of an attachment by source port, whichever
// order they arrive in. ObserveStream is called from the dispatcher thread
// and ObserveCircuitSide from the correlation consumer, so the pending map is
// lock-protected.
type Resolver struct {
	mu      sync.Mutex
	pending map[int]pendingAttachment

	attacher Attacher
	stats    *Stats
	logger   zerolog.Logger
}

func NewResolver(attacher Attacher, stats *Stats) *Resolver {
	return &Resolver{
		pending:  make(map[int]pendingAttachment),
		attacher: attacher,
		stats:    stats,
		logger:   log.With().Str("component", "resolver").Logger(),
	}
}

// ObserveStream records the stream half for sourcePort. If the circuit half
// is already pending the attachment resolves immediately and the entry is
// consumed.
func (r *Resolver) ObserveStream(sourcePort int, streamID string) {
	r.mu.Lock()
	entry, ok := r.pending[sourcePort]
	if ok && entry.side == awaitingStream {
		delete(r.pending, sourcePort)
		r.mu.Unlock()
		r.attach(streamID, entry.circuitID, sourcePort)
		return
	}
	if ok {
		// Two stream halves for one port would mean concurrent port reuse,
		// which the scan model rules out. Keep the newest half.
		r.logger.Warn().Int("port", sourcePort).Msg("duplicate stream half for port, replacing")
	}
	r.pending[sourcePort] = pendingAttachment{side: awaitingCircuit, streamID: streamID}
	r.mu.Unlock()
	r.logger.Debug().Int("port", sourcePort).Str("stream", streamID).
		Msg("stream half pending, awaiting circuit")
}

// ObserveCircuitSide records the circuit half for sourcePort, reported by the
// worker that owns the circuit. Symmetric to ObserveStream.
func (r *Resolver) ObserveCircuitSide(sourcePort int, circuitID string) {
	r.mu.Lock()
	entry, ok := r.pending[sourcePort]
	if ok && entry.side == awaitingCircuit {
		delete(r.pending, sourcePort)
		r.mu.Unlock()
		r.attach(entry.streamID, circuitID, sourcePort)
		return
	}
	if ok {
		r.logger.Warn().Int("port", sourcePort).Msg("duplicate circuit half for port, replacing")
	}
	r.pending[sourcePort] = pendingAttachment{side: awaitingStream, circuitID: circuitID}
	r.mu.Unlock()
	r.logger.Debug().Int("port", sourcePort).Str("circuit", circuitID).
		Msg("circuit half pending, awaiting stream")
}

// attach issues the daemon command. Rejections are logged and abandoned; one
// lost attachment never stops the scan.
func (r *Resolver) attach(streamID, circuitID string, sourcePort int) {
	r.stats.incAttachIssued()
	err := r.attacher.AttachStream(streamID, circuitID)
	if err == nil {
		observability.RecordAttach(true)
		r.logger.Info().Str("stream", streamID).Str("circuit", circuitID).
			Int("port", sourcePort).Msg("stream attached")
		return
	}

	r.stats.incAttachRejected()
	observability.RecordAttach(false)
	var attachErr *control.AttachError
	if errors.As(err, &attachErr) {
		r.logger.Warn().Str("stream", streamID).Str("circuit", circuitID).
			Str("reply", attachErr.Reply).Msg("daemon rejected attach")
		return
	}
	r.logger.Error().Err(err).Str("stream", streamID).Str("circuit", circuitID).
		Msg("attach failed")
}

// PendingCount reports how many half-resolved attachments exist.
func (r *Resolver) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
