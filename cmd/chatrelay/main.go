package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"chatrelay/internal/app"
	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
)

// version is set via ldflags during release builds.
var version = "dev"

func main() {
	_ = godotenv.Load(".env")

	var (
		addrFlag = flag.String("addr", "", "listen address (host:port), overrides config")
		dbFlag   = flag.String("db", "", "pebble database path, overrides config")
		cfgFlag  = flag.String("config", "", "path to config file (.yaml or .toml)")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgFlag)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *addrFlag != "" {
		host, port, err := net.SplitHostPort(*addrFlag)
		if err != nil {
			log.Fatalf("invalid -addr %q: %v", *addrFlag, err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			log.Fatalf("invalid -addr port %q: %v", port, err)
		}
		cfg.Server.Address = host
		cfg.Server.Port = p
	}
	if *dbFlag != "" {
		cfg.Server.DBPath = *dbFlag
	}

	logger.InitWithLevel(cfg.Logging.Level)

	a, err := app.New(cfg, version)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
