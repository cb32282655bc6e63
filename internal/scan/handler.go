package scan

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/exitctl/internal/control"
	"github.com/danmuck/exitctl/internal/observability"
)

// Launcher starts one isolated probe worker for a freshly built circuit.
// Launch must not block event dispatch; a returned error means the worker
// provably never started and no correlation report will follow.
type Launcher interface {
	Launch(exitFingerprint, circuitID string) error
}

// Shim is the routing-override collaborator hook invoked once at completion
// to restore default outbound behavior.
type Shim interface {
	Restore() error
}

// Config wires a Handler. Stats, Attacher, Launcher and Queue are required;
// Shim is optional.
type Config struct {
	Stats    *Stats
	Attacher Attacher
	Launcher Launcher
	Queue    *Queue
	Shim     Shim
}

// Handler is the single entry point for daemon events. It classifies each
// event, updates the lifecycle trackers, and re-evaluates completion after
// every event. Events arrive serialized from the control transport; the
// correlation consumer is the only other thread of control it owns.
type Handler struct {
	stats    *Stats
	resolver *Resolver
	queue    *Queue
	launcher Launcher
	shim     Shim
	logger   zerolog.Logger

	finishOnce sync.Once
	done       chan struct{}
}

func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Stats == nil || cfg.Attacher == nil || cfg.Launcher == nil || cfg.Queue == nil {
		return nil, fmt.Errorf("scan: handler config incomplete")
	}
	h := &Handler{
		stats:    cfg.Stats,
		resolver: NewResolver(cfg.Attacher, cfg.Stats),
		queue:    cfg.Queue,
		launcher: cfg.Launcher,
		shim:     cfg.Shim,
		logger:   log.With().Str("component", "scan").Logger(),
		done:     make(chan struct{}),
	}
	go h.queue.consume(h.resolver, h.logger)
	return h, nil
}

// HandleEvent dispatches one daemon event. Called once per event, in
// transport order, from a single goroutine.
func (h *Handler) HandleEvent(ev control.Event) {
	switch e := ev.(type) {
	case control.CircuitEvent:
		h.handleCircuit(e)
	case control.StreamEvent:
		h.handleStream(e)
	case control.UnknownEvent:
		h.logger.Debug().Str("kind", e.Kind).Msg("ignoring event kind")
	default:
		h.logger.Warn().Msgf("ignoring unexpected event %T", ev)
	}
	h.checkFinished()
}

func (h *Handler) handleCircuit(ev control.CircuitEvent) {
	switch ev.Status {
	case control.CircuitFailed, control.CircuitClosed:
		h.stats.IncFailed()
		observability.RecordCircuit("failed")
		h.logger.Info().Str("circuit", ev.ID).Str("reason", ev.Reason).
			Msg("circuit closed without probe")

	case control.CircuitBuilt:
		h.stats.IncSuccessful()
		observability.RecordCircuit("built")
		fpr, ok := ev.ExitFingerprint()
		if !ok {
			// A built circuit with an empty path cannot be probed; settle its
			// stream slot so completion cannot wait on it.
			h.logger.Error().Str("circuit", ev.ID).Msg("built circuit has no path")
			h.stats.IncSettled()
			return
		}
		h.logger.Info().Str("circuit", ev.ID).Str("exit", fpr).
			Msg("circuit built, starting probe worker")
		if err := h.launcher.Launch(fpr, ev.ID); err != nil {
			// Provable non-delivery: the worker never started, so no
			// correlation report or stream will ever arrive for it.
			h.logger.Error().Err(err).Str("circuit", ev.ID).
				Msg("probe worker did not start")
			h.stats.IncSettled()
		}

	default:
		// Intermediate circuit states are not subscribed concerns.
	}
}

func (h *Handler) handleStream(ev control.StreamEvent) {
	switch ev.Status {
	case control.StreamClosed, control.StreamFailed, control.StreamDetached:
		h.stats.IncFinishedStreams()
		observability.RecordStreamFinished()

	case control.StreamNew, control.StreamNewResolve:
		port, err := ev.SourcePort()
		if err != nil {
			// Without a correlation key the stream can never be attached.
			h.logger.Error().Err(err).Str("stream", ev.ID).
				Msg("dropping stream event without usable source port")
			return
		}
		h.resolver.ObserveStream(port, ev.ID)

	default:
	}
}

// CircuitAborted records a circuit that failed before the daemon could emit
// any event for it, e.g. a rejected extend command. Without this the
// completion condition could never be met.
func (h *Handler) CircuitAborted(exitFingerprint string, err error) {
	h.stats.IncFailed()
	observability.RecordCircuit("aborted")
	h.logger.Warn().Err(err).Str("exit", exitFingerprint).
		Msg("circuit launch aborted")
	h.checkFinished()
}

func (h *Handler) checkFinished() {
	snap := h.stats.Snapshot()
	h.logger.Debug().
		Int64("failed", snap.FailedCircuits).
		Int64("built", snap.SuccessfulCircuits).
		Int64("total", snap.TotalCircuits).
		Int64("settled", snap.SettledCircuits).
		Int64("finished_streams", snap.FinishedStreams).
		Msg("completion check")
	if !snap.Complete() {
		return
	}
	h.finishOnce.Do(func() {
		if h.shim != nil {
			if err := h.shim.Restore(); err != nil {
				h.logger.Error().Err(err).Msg("restoring default routing failed")
			}
		}
		h.queue.Stop()
		h.logger.Info().Stringer("stats", snap).Msg("scan finished")
		close(h.done)
	})
}

// Done is closed once the completion detector has fired and teardown of the
// correlation consumer has been initiated.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Snapshot exposes live counters to the status surface.
func (h *Handler) Snapshot() Snapshot {
	return h.stats.Snapshot()
}

// PendingAttachments reports half-resolved rendezvous entries.
func (h *Handler) PendingAttachments() int {
	return h.resolver.PendingCount()
}
