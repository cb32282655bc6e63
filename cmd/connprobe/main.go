package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/exitctl/internal/logging"
	"github.com/danmuck/exitctl/internal/probe"
)

const (
	defaultTarget = "example.com:80"
	probeDeadline = 30 * time.Second
)

// connprobe is the built-in probing module: it opens one connection through
// the worker's tagged route, exchanges a minimal HTTP request, and exits. The
// exit relay fingerprint arrives as the last argument.
func main() {
	logging.ConfigureRuntime()

	worker, err := probe.FromEnviron()
	if err != nil {
		fmt.Fprintf(os.Stderr, "connprobe: %v\n", err)
		os.Exit(1)
	}
	defer worker.Close()

	exitFpr := ""
	if len(os.Args) > 1 {
		exitFpr = os.Args[len(os.Args)-1]
	}
	target := os.Getenv("PROBE_TARGET")
	if target == "" {
		target = defaultTarget
	}

	logger := log.With().
		Str("circuit", worker.CircuitID).
		Str("exit", exitFpr).
		Str("target", target).
		Logger()
	logger.Info().Msg("probing exit relay")

	conn, err := worker.Dial("tcp", target)
	if err != nil {
		logger.Error().Err(err).Msg("probe connection failed")
		os.Exit(1)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(probeDeadline))

	host, _, err := net.SplitHostPort(target)
	if err != nil {
		host = target
	}
	fmt.Fprintf(conn, "HEAD / HTTP/1.0\r\nHost: %s\r\n\r\n", host)
	n, _ := io.Copy(io.Discard, io.LimitReader(conn, 4096))
	logger.Info().Int64("bytes", n).Msg("probe finished")
}
