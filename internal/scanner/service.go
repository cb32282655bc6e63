package scanner

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/danmuck/exitctl/internal/control"
	"github.com/danmuck/exitctl/internal/probe"
	"github.com/danmuck/exitctl/internal/scan"
	"github.com/danmuck/exitctl/internal/status"
)

var ErrNoExits = errors.New("scanner: no exit relays configured")

// Scan driver configuration.
type ServiceConfig struct {
	ControlAddr     string
	ControlPassword string
	SocksAddr       string
	StatusAddr      string
	CORSOrigins     []string
	Module          []string
	Exits           []string
	LaunchRate      float64
	LaunchBurst     int
	QueueDepth      int
}

// Scan driver defaults. A status surface is off unless an address is set.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ControlAddr: "127.0.0.1:9051",
		SocksAddr:   "127.0.0.1:9050",
		Module:      []string{"connprobe"},
		LaunchRate:  4,
		LaunchBurst: 1,
		QueueDepth:  64,
	}
}

// Service owns one scan end to end: control connection, circuit launches,
// event dispatch, probe workers, and teardown once the scan completes.
type Service struct {
	cfg ServiceConfig
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	defaults := DefaultServiceConfig()
	if strings.TrimSpace(cfg.ControlAddr) == "" {
		cfg.ControlAddr = defaults.ControlAddr
	}
	if strings.TrimSpace(cfg.SocksAddr) == "" {
		cfg.SocksAddr = defaults.SocksAddr
	}
	if len(cfg.Module) == 0 {
		cfg.Module = defaults.Module
	}
	if cfg.LaunchRate <= 0 {
		cfg.LaunchRate = defaults.LaunchRate
	}
	if cfg.LaunchBurst < 1 {
		cfg.LaunchBurst = defaults.LaunchBurst
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaults.QueueDepth
	}
	exits := make([]string, 0, len(cfg.Exits))
	for _, fpr := range cfg.Exits {
		if v := strings.TrimSpace(fpr); v != "" {
			exits = append(exits, v)
		}
	}
	cfg.Exits = exits
	return &Service{cfg: cfg}
}

// Run executes the scan and blocks until it completes or a signal arrives.
// A completed scan returns nil; the process exit code is the caller's call.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.run(ctx)
}

func (s *Service) run(ctx context.Context) error {
	cfg := s.cfg
	if len(cfg.Exits) == 0 {
		return ErrNoExits
	}

	client, err := control.Dial(cfg.ControlAddr)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Authenticate(cfg.ControlPassword); err != nil {
		return err
	}
	if err := client.LeaveStreamsUnattached(); err != nil {
		return err
	}

	queue := scan.NewQueue(cfg.QueueDepth)
	shim := probe.SocksShim{Addr: cfg.SocksAddr}
	manager, err := probe.NewManager(probe.Config{
		Module: cfg.Module,
		Shim:   shim,
		Sink:   queue,
	})
	if err != nil {
		return err
	}

	handler, err := scan.NewHandler(scan.Config{
		Stats:    scan.NewStats(len(cfg.Exits)),
		Attacher: client,
		Launcher: manager,
		Queue:    queue,
		Shim:     shim,
	})
	if err != nil {
		return err
	}

	if err := client.Subscribe(); err != nil {
		return err
	}

	if cfg.StatusAddr != "" {
		statusSrv := status.New("exitctl", cfg.StatusAddr, handler, cfg.CORSOrigins)
		statusSrv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := statusSrv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("status server shutdown")
			}
		}()
	}

	transport := make(chan error, 1)
	go func() {
		transport <- client.Run(ctx, handler.HandleEvent)
	}()
	go s.launchCircuits(ctx, client, handler)

	log.Info().
		Int("exits", len(cfg.Exits)).
		Str("daemon", cfg.ControlAddr).
		Str("socks", cfg.SocksAddr).
		Msg("scan started")

	select {
	case <-handler.Done():
		log.Info().Stringer("stats", handler.Snapshot()).Msg("scan complete")
		return nil
	case err := <-transport:
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("scanner: interrupted: %w", err)
		}
		return fmt.Errorf("scanner: event transport: %w", err)
	}
}

// launchCircuits requests one circuit per target exit, paced by the launch
// limiter. A rejected launch is recorded immediately so completion never
// waits on a circuit that will produce no events.
func (s *Service) launchCircuits(ctx context.Context, client *control.Client, handler *scan.Handler) {
	limiter := rate.NewLimiter(rate.Limit(s.cfg.LaunchRate), s.cfg.LaunchBurst)
	for _, fpr := range s.cfg.Exits {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		id, err := client.ExtendCircuit(fpr)
		if err != nil {
			handler.CircuitAborted(fpr, err)
			continue
		}
		log.Debug().Str("circuit", id).Str("exit", fpr).Msg("circuit launch requested")
	}
}
