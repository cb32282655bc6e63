package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/exitctl/internal/observability"
	"github.com/danmuck/exitctl/internal/scan"
)

// Source exposes live scan counters to the status surface.
type Source interface {
	Snapshot() scan.Snapshot
	PendingAttachments() int
}

// Server is the read-only HTTP surface of a running scan: health, live
// counters, and Prometheus metrics.
type Server struct {
	id      string
	started time.Time
	http    *http.Server
}

func New(id, addr string, source Source, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.Requests(id))
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		id:      id,
		started: time.Now(),
		http:    &http.Server{Addr: addr, Handler: r},
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": s.id,
		})
	})

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"stats":               source.Snapshot(),
			"pending_attachments": source.PendingAttachments(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// Handler exposes the underlying router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves in the background; listen failures are logged, not fatal to
// the scan.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", s.http.Addr).Msg("status server failed")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
