package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskflow/pkg/config"
	"taskflow/pkg/logx"
	"taskflow/pkg/metrics"
	"taskflow/services/policy/internal/rules"

	"github.com/shopspring/decimal"
)

func main() {
	decimal.MarshalJSONWithoutQuotes = true

	cfg, err := config.Load(os.Getenv("TASKFLOW_CONFIG"))
	if err != nil {
		logx.New("error", "json").Error("config", "err", err)
		os.Exit(1)
	}
	logger := logx.New(cfg.Log.Level, cfg.Log.Format).With("service", "policy")

	port := config.EnvString("SERVICE_PORT", cfg.Server.PolicyPort)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newRouter(rules.New(cfg.Rules), logger, metrics.NewRegistry()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("policy server listening", "port", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("listen", "err", err)
		os.Exit(1)
	}
}
