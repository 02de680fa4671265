package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/vnykmshr/kvguard/internal/books"
	"github.com/vnykmshr/kvguard/internal/server"
	"github.com/vnykmshr/kvguard/pkg/cache"
	"github.com/vnykmshr/kvguard/pkg/health"
	"github.com/vnykmshr/kvguard/pkg/ratelimit/slidingwindow"
	"github.com/vnykmshr/kvguard/pkg/store"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:  "kvguard",
		Usage: "cache-aside and rate limiting over a shared Redis store",
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "redis-host",
			Usage:   "hostname of the Redis-compatible store",
			Value:   "localhost",
			EnvVars: []string{"REDIS_HOST"},
		},
		&cli.IntFlag{
			Name:    "redis-port",
			Usage:   "port of the Redis-compatible store",
			Value:   6379,
			EnvVars: []string{"REDIS_PORT"},
		},
		&cli.StringFlag{
			Name:    "redis-username",
			Usage:   "ACL username for the store",
			Value:   "default",
			EnvVars: []string{"REDIS_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Usage:   "password for the store",
			EnvVars: []string{"REDIS_PASSWORD"},
		},
		&cli.IntFlag{
			Name:    "redis-db",
			Usage:   "logical database number",
			Value:   0,
			EnvVars: []string{"REDIS_DB"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "info",
			EnvVars: []string{"KVGUARD_LOG_LEVEL", "LOG_LEVEL"},
		},
	}

	app.Commands = []*cli.Command{
		serveCmd,
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context, writer io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the book API with cache-aside listings and rate limiting",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "Specify the local IP/port to bind to",
			Value:   ":5000",
			EnvVars: []string{"KVGUARD_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":5001",
			EnvVars: []string{"KVGUARD_METRICS_LISTEN"},
		},
		&cli.DurationFlag{
			Name:    "rate-window",
			Usage:   "sliding window for read routes",
			Value:   60 * time.Second,
			EnvVars: []string{"KVGUARD_RATE_WINDOW"},
		},
		&cli.IntFlag{
			Name:    "rate-max",
			Usage:   "requests per window per identity on read routes",
			Value:   10,
			EnvVars: []string{"KVGUARD_RATE_MAX"},
		},
		&cli.DurationFlag{
			Name:    "write-rate-window",
			Usage:   "sliding window for write routes",
			Value:   60 * time.Second,
			EnvVars: []string{"KVGUARD_WRITE_RATE_WINDOW"},
		},
		&cli.IntFlag{
			Name:    "write-rate-max",
			Usage:   "requests per window per identity on write routes",
			Value:   5,
			EnvVars: []string{"KVGUARD_WRITE_RATE_MAX"},
		},
		&cli.BoolFlag{
			Name:    "rate-atomic",
			Usage:   "run each rate limit decision as one server-side script",
			EnvVars: []string{"KVGUARD_RATE_ATOMIC"},
		},
		&cli.StringFlag{
			Name:    "rate-policy",
			Usage:   "behaviour while the store is unavailable: open, closed or local",
			Value:   "open",
			EnvVars: []string{"KVGUARD_RATE_POLICY"},
		},
		&cli.BoolFlag{
			Name:    "trust-forwarded-for",
			Usage:   "take the client address from X-Forwarded-For (only behind a trusted proxy)",
			EnvVars: []string{"KVGUARD_TRUST_FORWARDED_FOR"},
		},
		&cli.DurationFlag{
			Name:    "cache-ttl",
			Usage:   "lifetime of cached book listings",
			Value:   time.Hour,
			EnvVars: []string{"KVGUARD_CACHE_TTL"},
		},
	},
	Action: runServe,
}

func runServe(cctx *cli.Context) error {
	logger := configLogger(cctx, os.Stdout)

	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storeCfg := store.DefaultConfig()
	storeCfg.Host = cctx.String("redis-host")
	storeCfg.Port = cctx.Int("redis-port")
	storeCfg.Username = cctx.String("redis-username")
	storeCfg.Password = cctx.String("redis-password")
	storeCfg.DB = cctx.Int("redis-db")

	flag := health.NewFlag(false)
	client, err := store.New(storeCfg, store.WithHealth(flag), store.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to construct store client: %w", err)
	}
	defer client.Close()

	// not fatal: the monitor keeps retrying and callers degrade meanwhile
	if err := client.Connect(ctx); err != nil {
		logger.Warn("store not reachable at startup", "addr", storeCfg.Addr(), "err", err)
	}

	svc, err := cache.New(client, flag,
		cache.WithName("books"),
		cache.WithSkipEmpty(),
		cache.WithDefaultTTL(cctx.Duration("cache-ttl")),
		cache.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to construct cache: %w", err)
	}

	policy, err := slidingwindow.ParsePolicy(cctx.String("rate-policy"))
	if err != nil {
		return err
	}
	newLimiter := func(name, prefix string, window time.Duration, maxRequests int) (*slidingwindow.Limiter, error) {
		cfg := slidingwindow.DefaultConfig()
		cfg.Name = name
		cfg.Prefix = prefix
		cfg.Window = window
		cfg.MaxRequests = maxRequests
		cfg.Policy = policy
		cfg.Atomic = cctx.Bool("rate-atomic")
		cfg.TrustForwardedFor = cctx.Bool("trust-forwarded-for")
		cfg.Logger = logger
		return slidingwindow.New(client, flag, cfg)
	}
	readLimiter, err := newLimiter("read", "rate", cctx.Duration("rate-window"), cctx.Int("rate-max"))
	if err != nil {
		return fmt.Errorf("failed to construct read limiter: %w", err)
	}
	writeLimiter, err := newLimiter("write", "rate:write", cctx.Duration("write-rate-window"), cctx.Int("write-rate-max"))
	if err != nil {
		return fmt.Errorf("failed to construct write limiter: %w", err)
	}

	srv, err := server.New(server.Config{
		Bind:         cctx.String("bind"),
		Logger:       logger,
		Store:        client,
		Books:        books.NewHandler(books.NewMemoryRepository(), svc, logger, 0),
		ReadLimiter:  readLimiter,
		WriteLimiter: writeLimiter,
	})
	if err != nil {
		return fmt.Errorf("failed to construct server: %v", err)
	}

	// either listener failing takes the other down with it
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		// prometheus HTTP endpoint: /metrics
		if err := runMetrics(gctx, cctx.String("metrics-listen")); err != nil {
			logger.Error("failed to start metrics endpoint", "error", err)
			return err
		}
		return nil
	})
	group.Go(func() error {
		return srv.RunAPI(gctx)
	})
	return group.Wait()
}

func runMetrics(ctx context.Context, listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	httpd := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpd.Shutdown(shutdownCtx)
	}()

	if err := httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
