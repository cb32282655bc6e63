package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/exitctl/internal/logging"
	"github.com/danmuck/exitctl/internal/scanner"
)

func main() {
	logging.ConfigureRuntime()

	configPath := flag.String("config", "exitctl.toml", "path to scan config file")
	flag.Parse()

	cfg, err := loadServiceConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "exitctl: %v\n", err)
		os.Exit(1)
	}

	svc := scanner.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "exitctl: %v\n", err)
		os.Exit(1)
	}
}
