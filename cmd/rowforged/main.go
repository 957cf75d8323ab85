package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"rowforge/internal/broker"
	"rowforge/internal/config"
	"rowforge/internal/daemon"
	"rowforge/internal/logging"
	"rowforge/internal/preflight"
	"rowforge/internal/transform/llm"
	"rowforge/internal/worker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	checks := preflight.RunAll(ctx, cfg)
	for _, check := range checks {
		if check.Passed {
			logger.Info("preflight check passed",
				logging.String("check", check.Name),
				logging.String("detail", check.Detail))
			continue
		}
		logger.Error("preflight check failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail))
	}
	if !preflight.Passed(checks) {
		log.Fatal("preflight checks failed; refusing to start")
	}

	store, err := broker.Open(cfg)
	if err != nil {
		log.Fatalf("open broker store: %v", err)
	}

	applier := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})

	pool := worker.NewPool(cfg, store, applier, logger)
	d, err := daemon.New(cfg, store, pool, logger)
	if err != nil {
		log.Fatalf("create daemon: %v", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		log.Fatalf("start daemon: %v", err)
	}

	<-ctx.Done()
	logger.Info("rowforged shutting down")
	d.Stop()
}
