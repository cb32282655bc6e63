package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Requests instruments the scan status surface: one structured log line and
// one metrics sample per request, both tagged with the owning service. The
// surface is read-only, so write methods are logged at warn alongside error
// statuses.
func Requests(service string) gin.HandlerFunc {
	logger := log.With().Str("service", service).Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		RecordHTTPRequest(service, c.Request.Method, route, status, elapsed)

		event := logger.Debug()
		switch {
		case status >= http.StatusInternalServerError:
			event = logger.Error()
		case status >= http.StatusBadRequest, c.Request.Method != http.MethodGet:
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Str("client", c.ClientIP()).
			Msg("status request")
	}
}
