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

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/screenary/config"
	"github.com/cyberinferno/screenary/logger"
	"github.com/cyberinferno/screenary/metrics"
	"github.com/cyberinferno/screenary/sessionserver"
	"github.com/cyberinferno/screenary/tcpserver"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "override server.port")

	return cmd
}

func serve(parent context.Context, cfg config.Config) error {
	log, err := newLogger(cfg, "screenary-server")
	if err != nil {
		return err
	}
	defer log.Close()

	dir, closeDir, err := newDirectory(cfg.Directory)
	if err != nil {
		return err
	}
	defer closeDir()

	srv := &tcpserver.TCPServer{
		Logger:         log.With(logger.Field{Key: "component", Value: "tcpserver"}),
		Name:           "session",
		Addr:           cfg.Server.Address(),
		Handler:        sessionserver.New(sessionserver.Config{Node: cfg.Server.Node, OpTimeout: 5 * time.Second}, dir, log),
		MaxMessageSize: cfg.Transport.MaxMessageSize,
		WriteTimeout:   cfg.Server.WriteTimeout,
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		srv.Metrics = metrics.NewTransport(metrics.WithRegistry(registry), metrics.WithSubsystem("server"))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		srv.Stop()
		return nil
	})

	if metricsSrv != nil {
		g.Go(func() error {
			log.Info("metrics listening", logger.Field{Key: "addr", Value: metricsSrv.Addr})
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// newDirectory builds the session directory for cfg. The returned func
// releases its connections.
func newDirectory(cfg config.DirectoryConfig) (sessionserver.Directory, func(), error) {
	switch cfg.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}

		backend := sessionserver.NewRedisDirectory(client, sessionserver.DefaultRedisPrefix, cfg.TTL)
		return sessionserver.NewCachedDirectory(backend, cfg.CacheTTL), func() { _ = client.Close() }, nil

	default:
		ttl := cfg.TTL
		if ttl == 0 {
			ttl = cache.NoExpiration
		}
		return sessionserver.NewMemoryDirectory(ttl, 10*time.Minute), func() {}, nil
	}
}
