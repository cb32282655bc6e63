package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/exitctl/internal/scanner"
)

type fileConfig struct {
	ControlAddr     string   `toml:"control_addr"`
	ControlPassword string   `toml:"control_password"`
	SocksAddr       string   `toml:"socks_addr"`
	StatusAddr      string   `toml:"status_addr"`
	CORSOrigins     []string `toml:"cors_origins"`
	Module          []string `toml:"module"`
	Exits           []string `toml:"exits"`
	ExitsFile       string   `toml:"exits_file"`
	LaunchRate      float64  `toml:"launch_rate"`
	LaunchBurst     int      `toml:"launch_burst"`
	QueueDepth      int      `toml:"queue_depth"`
}

func loadServiceConfig(path string) (scanner.ServiceConfig, error) {
	cfg := scanner.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return scanner.ServiceConfig{}, fmt.Errorf("load scan config: %w", err)
	}

	if meta.IsDefined("control_addr") {
		if addr := strings.TrimSpace(raw.ControlAddr); addr != "" {
			cfg.ControlAddr = addr
		}
	}

	if meta.IsDefined("control_password") {
		cfg.ControlPassword = raw.ControlPassword
	}

	if meta.IsDefined("socks_addr") {
		if addr := strings.TrimSpace(raw.SocksAddr); addr != "" {
			cfg.SocksAddr = addr
		}
	}

	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}

	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}

	if meta.IsDefined("module") {
		if len(raw.Module) == 0 {
			return scanner.ServiceConfig{}, fmt.Errorf("load scan config: module must not be empty")
		}
		cfg.Module = raw.Module
	}

	if meta.IsDefined("exits") {
		cfg.Exits = normalizeExits(raw.Exits)
	}

	if meta.IsDefined("exits_file") {
		fromFile, err := readExitsFile(strings.TrimSpace(raw.ExitsFile))
		if err != nil {
			return scanner.ServiceConfig{}, err
		}
		cfg.Exits = append(cfg.Exits, fromFile...)
	}

	if meta.IsDefined("launch_rate") {
		cfg.LaunchRate = raw.LaunchRate
	}

	if meta.IsDefined("launch_burst") {
		cfg.LaunchBurst = raw.LaunchBurst
	}

	if meta.IsDefined("queue_depth") {
		cfg.QueueDepth = raw.QueueDepth
	}

	return cfg, nil
}

func normalizeExits(in []string) []string {
	out := make([]string, 0, len(in))
	for _, fpr := range in {
		if v := strings.TrimSpace(fpr); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// readExitsFile reads one fingerprint per line; '#' starts a comment.
func readExitsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load exits file: %w", err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if v := strings.TrimSpace(line); v != "" {
			out = append(out, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read exits file: %w", err)
	}
	return out, nil
}
