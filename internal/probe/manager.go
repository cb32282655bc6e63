package probe

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/exitctl/internal/observability"
)

var (
	ErrNoModule = errors.New("probe: no probing module configured")
	ErrNoShim   = errors.New("probe: no routing shim configured")
	ErrNoSink   = errors.New("probe: no correlation sink configured")
)

// Sink receives one correlation message per worker.
type Sink interface {
	Report(circuitID string, port int)
}

// Config wires a Manager. Module is the probing-module argv; the exit relay
// fingerprint is appended as the final argument on every launch.
type Config struct {
	Module []string
	Shim   Shim
	Sink   Sink
}

// Manager spawns one isolated worker process per built circuit. Workers are
// fire-and-forget: their only synchronization point with the scan is the one
// report forwarded to the sink.
type Manager struct {
	module []string
	shim   Shim
	sink   Sink
	logger zerolog.Logger

	wg sync.WaitGroup
}

func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Module) == 0 {
		return nil, ErrNoModule
	}
	if cfg.Shim == nil {
		return nil, ErrNoShim
	}
	if cfg.Sink == nil {
		return nil, ErrNoSink
	}
	return &Manager{
		module: cfg.Module,
		shim:   cfg.Shim,
		sink:   cfg.Sink,
		logger: log.With().Str("component", "probe").Logger(),
	}, nil
}

// Launch starts one worker probing exitFingerprint over circuitID. A non-nil
// error means the worker provably never started and no correlation report
// will be delivered for it.
func (m *Manager) Launch(exitFingerprint, circuitID string) error {
	workerID := uuid.NewString()

	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("probe: report pipe: %w", err)
	}

	argv := make([]string, 0, len(m.module))
	argv = append(argv, m.module[1:]...)
	argv = append(argv, exitFingerprint)

	cmd := exec.Command(m.module[0], argv...)
	cmd.Env = append(os.Environ(), m.shim.Environ(circuitID)...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", EnvReportFD, reportFD))
	cmd.ExtraFiles = []*os.File{w}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		observability.RecordWorker(false)
		return fmt.Errorf("probe: start module: %w", err)
	}
	// The child holds its own copy of the write end.
	w.Close()
	observability.RecordWorker(true)

	logger := m.logger.With().
		Str("worker", workerID).
		Str("circuit", circuitID).
		Str("exit", exitFingerprint).
		Logger()
	logger.Info().Int("pid", cmd.Process.Pid).Msg("probe worker started")

	m.wg.Add(2)
	go m.forwardReport(r, circuitID, logger)
	go m.reap(cmd, logger)
	return nil
}

// forwardReport reads the worker's single bound-port line and pushes the
// correlation message. A worker that exits without reporting simply closes
// the pipe; that silence is visible to callers only as a stalled stream.
func (m *Manager) forwardReport(r *os.File, circuitID string, logger zerolog.Logger) {
	defer m.wg.Done()
	defer r.Close()

	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		logger.Warn().Msg("worker closed report pipe without a source port")
		return
	}
	port, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil || port < 1 || port > 65535 {
		logger.Error().Str("line", sc.Text()).Msg("discarding malformed worker report")
		return
	}
	m.sink.Report(circuitID, port)
	logger.Debug().Int("port", port).Msg("forwarded correlation report")
}

func (m *Manager) reap(cmd *exec.Cmd, logger zerolog.Logger) {
	defer m.wg.Done()
	if err := cmd.Wait(); err != nil {
		logger.Warn().Err(err).Msg("probe module exited with error")
		return
	}
	logger.Debug().Msg("probe module finished")
}

// Wait blocks until every launched worker has been reaped and every report
// pipe drained.
func (m *Manager) Wait() {
	m.wg.Wait()
}
