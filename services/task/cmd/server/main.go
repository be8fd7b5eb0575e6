package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskflow/pkg/config"
	"taskflow/pkg/db"
	"taskflow/pkg/events"
	"taskflow/pkg/idempotency"
	"taskflow/pkg/logx"
	"taskflow/pkg/metrics"
	"taskflow/pkg/ratelimit"
	"taskflow/services/task/internal/orchestrator"
	"taskflow/services/task/internal/policyclient"
	"taskflow/services/task/internal/store"
	"taskflow/services/task/internal/store/memstore"
	"taskflow/services/task/internal/store/pebblestore"
	"taskflow/services/task/internal/store/pgstore"

	"github.com/shopspring/decimal"
)

func main() {
	decimal.MarshalJSONWithoutQuotes = true

	cfg, err := config.Load(os.Getenv("TASKFLOW_CONFIG"))
	if err != nil {
		logx.New("error", "json").Error("config", "err", err)
		os.Exit(1)
	}
	logger := logx.New(cfg.Log.Level, cfg.Log.Format).With("service", "task")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, idem, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Error("open store", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("store ready", "driver", cfg.Store.Driver, "dsn", cfg.Store.DSN)

	pub, err := openPublisher(cfg.Events)
	if err != nil {
		logger.Error("open events", "err", err)
		os.Exit(1)
	}
	defer pub.Close()

	reg := metrics.NewRegistry()
	gw := policyclient.New(cfg.Policy.BaseURL, time.Duration(cfg.Policy.TimeoutMS)*time.Millisecond, cfg.Policy.MaxRetries, reg)
	svc := orchestrator.New(st, gw,
		orchestrator.WithPublisher(pub),
		orchestrator.WithMetrics(reg),
		orchestrator.WithLogger(logger),
	)

	port := config.EnvString("SERVICE_PORT", cfg.Server.TaskPort)
	srv := &http.Server{
		Addr: ":" + port,
		Handler: newRouter(deps{
			store:   st,
			svc:     svc,
			idem:    idem,
			limiter: ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 10*time.Minute),
			metrics: reg,
			log:     logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("task server listening", "port", port, "policy_url", cfg.Policy.BaseURL)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("listen", "err", err)
		os.Exit(1)
	}
}

// openStore returns the configured backend and the idempotency store that goes with it.
func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, idempotency.Store, error) {
	switch sc.Driver {
	case "postgres":
		pc := db.DefaultPoolConfig()
		if sc.MaxConns > 0 {
			pc.MaxConns = sc.MaxConns
		}
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pool, err := db.Connect(connectCtx, sc.DSN, pc)
		if err != nil {
			return nil, nil, err
		}
		pg := pgstore.New(pool)
		if err := pg.EnsureSchema(connectCtx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pg, pg, nil
	case "pebble":
		pb, err := pebblestore.Open(sc.PebbleDir)
		if err != nil {
			return nil, nil, err
		}
		return pb, idempotency.NewMemoryStore(), nil
	case "memory", "":
		return memstore.New(), idempotency.NewMemoryStore(), nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", sc.Driver)
}

func openPublisher(ec config.EventsConfig) (events.Publisher, error) {
	var pubs []events.Publisher
	if ec.KafkaBrokers != "" {
		pubs = append(pubs, events.NewKafkaPublisher(ec.KafkaBrokers, ec.KafkaTopic))
	}
	if ec.FilePath != "" {
		fp, err := events.NewFilePublisher(ec.FilePath)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, fp)
	}
	switch len(pubs) {
	case 0:
		return events.Nop{}, nil
	case 1:
		return pubs[0], nil
	}
	return events.NewMulti(pubs...), nil
}
