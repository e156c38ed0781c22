package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nykznykz/gauntlet/internal/config"
	"github.com/nykznykz/gauntlet/internal/store"
	"github.com/nykznykz/gauntlet/internal/svc"
)

const shutdownTimeout = 10 * time.Second

var (
	configFile = flag.String("f", "etc/gauntlet.yaml", "the config file")
	reset      = flag.Bool("reset", false, "wipe and reseed the default competition, then exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logx.Must(err)
	}
	logx.Infof("main: configuration loaded env=%s config=%s", cfg.Env, *configFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serviceCtx, err := svc.NewServiceContext(cfg)
	if err != nil {
		logx.Must(err)
	}
	if err := serviceCtx.Store.EnsureSchema(ctx); err != nil {
		logx.Must(err)
	}

	if *reset {
		competition, err := serviceCtx.Store.ResetAndSeed(ctx, store.DefaultSeed())
		if err != nil {
			logx.Must(err)
		}
		logx.Infof("main: reseeded competition %s (%s), exiting", competition.Name, competition.ID)
		return
	}

	logx.Infof("main: starting scheduler mark_to_market=%dm decisions=%dm workers=%d",
		cfg.Scheduler.MarkToMarketIntervalMinutes, cfg.Scheduler.DecisionIntervalMinutes,
		cfg.Scheduler.MaxConcurrentInvocations)

	done := make(chan struct{})
	go func() {
		defer close(done)
		serviceCtx.Scheduler.Run(ctx)
	}()

	<-ctx.Done()
	logx.Info("main: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	select {
	case <-done:
		logx.Info("main: scheduler stopped cleanly")
	case <-shutdownCtx.Done():
		logx.Info("main: shutdown timeout exceeded, forcing exit")
	}
}
