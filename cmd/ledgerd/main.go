// Command ledgerd runs the receivables engine as a worker: it schedules the
// billing sweeps and the gateway status sync, publishes lifecycle events and
// serves Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	ledger "github.com/rafaelminatto1/dudufisio-AI-sub004"
	audithook "github.com/rafaelminatto1/dudufisio-AI-sub004/audit_hook"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/config"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/gateway/sandbox"
	kafkahook "github.com/rafaelminatto1/dudufisio-AI-sub004/kafka_hook"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/observability"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/store"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/store/memory"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/store/mongo"
	"github.com/rafaelminatto1/dudufisio-AI-sub004/store/postgres"
)

const ReadHeaderTimeout = 3 * time.Second

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".env")
	panicOnErr("load config", err)

	logger := cfg.Logger.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	st, err := openStore(ctx, cfg.Store)
	panicOnErr("open store", err)

	metrics := observability.NewMetricsExtension()
	audit := audithook.New(audithook.RecorderFunc(func(ctx context.Context, e *audithook.AuditEvent) error {
		logger.InfoContext(ctx, "audit",
			"action", e.Action,
			"resource", e.Resource,
			"resource_id", e.ResourceID,
			"outcome", e.Outcome,
			"severity", e.Severity,
		)
		return nil
	}), audithook.WithLogger(logger))

	opts := []ledger.Option{
		ledger.WithLogger(logger),
		ledger.WithConfig(cfg.Engine()),
		ledger.WithGateway(sandbox.New()),
		ledger.WithPlugin(metrics),
		ledger.WithPlugin(audit),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		w := kafkahook.NewWriter(logger, cfg.Kafka.Brokers)
		opts = append(opts, ledger.WithPlugin(kafkahook.New(w, cfg.Kafka.Topic, kafkahook.WithLogger(logger))))
	}

	l, err := ledger.New(st, opts...)
	panicOnErr("create ledger", err)

	err = l.Start(ctx)
	panicOnErr("start ledger", err)

	var (
		wg     sync.WaitGroup
		server *http.Server
	)
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
		server = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: ReadHeaderTimeout,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := server.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Panicf("listen and serve: %s", err)
			}
		}()
	}

	slog.InfoContext(ctx, "ledgerd started", "store", cfg.Store.Driver, "metrics", cfg.Metrics.Addr)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	sig := <-ch
	slog.InfoContext(ctx, "got OS signal", "signal", sig.String())

	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			slog.ErrorContext(ctx, "server shutdown", "error", err)
		}
	}
	if err := l.Stop(); err != nil {
		slog.ErrorContext(ctx, "ledger stop", "error", err)
	}
	wg.Wait()
}

func openStore(ctx context.Context, cfg config.Store) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			return nil, err
		}
		return postgres.New(pool), nil
	case config.DriverMongo:
		client, err := mongo.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		return mongo.New(client, cfg.MongoDatabase), nil
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func panicOnErr(msg string, err error) {
	if err != nil {
		log.Panicf("%s: %s", msg, err)
	}
}
