// Command courierd runs courier as a standalone service: the admin API,
// the delivery worker pool, the retry and retention sweeps and a
// Prometheus /metrics endpoint.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/courier"
	"github.com/xraph/courier/api"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/queue"
	memqueue "github.com/xraph/courier/queue/memory"
	redisqueue "github.com/xraph/courier/queue/redis"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/store/bunstore"
	"github.com/xraph/courier/store/memory"
	redisstore "github.com/xraph/courier/store/redis"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (default ./courier.yaml if present)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := run(*configPath, logger); err != nil {
		logger.Error("courierd exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	v, err := courier.NewViper(configPath)
	if err != nil {
		return err
	}
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("queue.driver", "memory")
	v.SetDefault("redis.addr", "localhost:6379")

	cfg, err := courier.ConfigFrom(v)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rdb goredis.UniversalClient
	redisClient := func() goredis.UniversalClient {
		if rdb == nil {
			rdb = goredis.NewClient(&goredis.Options{Addr: v.GetString("redis.addr")})
		}
		return rdb
	}

	s, err := openStore(v, redisClient)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	q, err := openQueue(v, redisClient)
	if err != nil {
		return err
	}
	if err := q.Connect(ctx); err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer q.Close()

	exporter, err := observability.NewExporter()
	if err != nil {
		return err
	}

	c, err := courier.New(
		courier.WithStore(s),
		courier.WithQueue(q),
		courier.WithConfig(cfg),
		courier.WithLogger(logger),
		courier.WithMetrics(observability.NewMetrics(nil, exporter)),
		courier.WithTracer(observability.NewTracer()),
	)
	if err != nil {
		return err
	}
	if err := observe(c, exporter); err != nil {
		return err
	}

	mux := chi.NewRouter()
	mux.Handle("/metrics", exporter.Handler())
	mux.Mount("/", api.NewHandler(c, logger))
	srv := &http.Server{
		Addr:              v.GetString("http.addr"),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := c.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("courierd listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		c.Stop(shutdownCtx)
		return errors.Join(err, exporter.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

func openStore(v *viper.Viper, redisClient func() goredis.UniversalClient) (store.Store, error) {
	switch driver := v.GetString("store.driver"); driver {
	case "memory":
		return memory.New(), nil
	case "redis":
		return redisstore.New(redisClient()), nil
	case "postgres":
		sqldb, err := sql.Open("postgres", v.GetString("store.dsn"))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return bunstore.New(bun.NewDB(sqldb, pgdialect.New())), nil
	case "sqlite":
		sqldb, err := sql.Open("sqlite3", v.GetString("store.dsn"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		return bunstore.New(bun.NewDB(sqldb, sqlitedialect.New())), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func openQueue(v *viper.Viper, redisClient func() goredis.UniversalClient) (queue.Queue, error) {
	switch driver := v.GetString("queue.driver"); driver {
	case "memory":
		return memqueue.New(), nil
	case "redis":
		return redisqueue.New(redisClient()), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", driver)
	}
}

// observe exposes queue depth and log counts as gauges.
func observe(c *courier.Courier, exporter *observability.Exporter) error {
	if err := exporter.ObserveQueue(c.Queue().Stats); err != nil {
		return err
	}
	return exporter.ObserveLogs(func(ctx context.Context) (map[string]int64, error) {
		stats, err := c.Stats(ctx)
		if err != nil {
			return nil, err
		}
		out := make(map[string]int64, len(stats.Logs))
		for status, n := range stats.Logs {
			out[string(status)] = n
		}
		return out, nil
	})
}
