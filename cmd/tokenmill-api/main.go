package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"tokenmill/internal/charai"
	"tokenmill/internal/config"
	server "tokenmill/internal/http"
	"tokenmill/internal/scheduler"
	"tokenmill/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg := config.Load(*configPath)

	// Set up logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	st := store.Open(cfg.Store.Path, logger)

	client := charai.NewClient(cfg.CharacterAI)
	handshake := charai.NewHandshake(client, cfg.CharacterAI)

	sched := scheduler.New(st, handshake, logger)

	// Relaunch any jobs that were interrupted by the previous shutdown
	// before accepting new work.
	if resumed := sched.Resume(); resumed > 0 {
		logger.Info("resumed interrupted jobs", "count", resumed)
	}

	s := server.NewServer(cfg, st, sched, logger)
	if err := s.Listen(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
