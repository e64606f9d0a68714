package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/alfredjeanlab/uinotify/internal/cluster"
	"github.com/alfredjeanlab/uinotify/internal/config"
	"github.com/alfredjeanlab/uinotify/internal/idgen"
	"github.com/alfredjeanlab/uinotify/internal/registry"
	"github.com/alfredjeanlab/uinotify/internal/server"
	"github.com/alfredjeanlab/uinotify/internal/snapshot"
	"github.com/alfredjeanlab/uinotify/internal/txn"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run a notification hub node",
	GroupID: "system",
	// Override PersistentPreRunE so no client is created.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
		slog.SetDefault(logger)

		// The bus filters its own messages by the id the registry stamps.
		nodeHash := idgen.HashNodeID(cfg.NodeID)
		bus, closeBus, err := newBus(cfg, nodeHash, logger)
		if err != nil {
			return err
		}
		defer closeBus()

		regCfg := &registry.Config{
			NotificationTTL:   cfg.NotificationTTL,
			WaitTimeout:       cfg.WaitTimeout,
			CleanupInterval:   cfg.CleanupInterval,
			HandlerThroughput: cfg.HandlerThroughput,
			Logger:            logger,
		}
		opts := &server.Options{PollRate: cfg.PollRate, PollBurst: cfg.PollBurst}
		if bus != nil {
			breaker := cluster.NewBreakerPublisher(bus, cfg.BreakerFailures, cfg.BreakerReset, logger)
			regCfg.Publisher = breaker
			opts.Cluster = breaker
		}
		reg := registry.New(cfg.NodeID, regCfg)
		defer reg.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if bus != nil {
			if err := bus.Start(ctx, reg); err != nil {
				return fmt.Errorf("starting cluster subscription: %w", err)
			}
		}

		notifServer := server.NewNotificationServer(reg, opts)

		var grpcServer *grpc.Server
		if cfg.GRPCAddr != "" {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				return err
			}
			grpcServer = server.NewGRPCServer(notifServer, cfg.AuthToken)
			go func() {
				logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
				if err := grpcServer.Serve(lis); err != nil {
					logger.Error("gRPC server error", "err", err)
				}
			}()
		}

		// Long polls and streams run on requestCtx so shutdown can end them.
		requestCtx, cancelRequests := context.WithCancel(context.Background())
		defer cancelRequests()
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           notifServer.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return requestCtx },
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
				stop()
			}
		}()

		scheduler := newSnapshotScheduler(ctx, cfg, reg, logger)

		logger.Info("uinotify node started",
			"node", cfg.NodeID,
			"node_hash", nodeHash,
			"cluster", cfg.Cluster,
			"http_addr", cfg.HTTPAddr,
			"grpc_addr", cfg.GRPCAddr,
		)

		<-ctx.Done()
		logger.Info("shutting down")

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("snapshot scheduler stopped")
		}

		// Parked polls return empty so clients reconnect to another node.
		reg.Close()
		cancelRequests()
		if grpcServer != nil {
			stopGRPC(grpcServer, 10*time.Second)
			logger.Info("gRPC server stopped")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		logger.Info("shutdown complete")
		return nil
	},
}

// newBus returns the configured cluster bus, or nil when the node runs alone.
func newBus(cfg *config.Config, nodeHash string, logger *slog.Logger) (cluster.Bus, func(), error) {
	switch cfg.Cluster {
	case config.ClusterNATS:
		bus, err := cluster.NewNATSBus(cfg.NATSURL, cfg.ClusterSubject, nodeHash, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("cluster sync over NATS", "url", cfg.NATSURL, "subject", cfg.ClusterSubject)
		return bus, func() { closeLogged(logger, "NATS bus", bus.Close) }, nil

	case config.ClusterPostgres:
		db, err := txn.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		bus := cluster.NewPGBus(db, cfg.DatabaseURL, cfg.ClusterSubject, nodeHash, logger)
		logger.Info("cluster sync over Postgres", "channel", cfg.ClusterSubject)
		return bus, func() {
			closeLogged(logger, "Postgres bus", bus.Close)
			closeLogged(logger, "database", db.Close)
		}, nil

	default:
		logger.Info("cluster sync disabled (UINOTIFY_CLUSTER not set)")
		return nil, func() {}, nil
	}
}

func newSnapshotScheduler(ctx context.Context, cfg *config.Config, reg *registry.Registry, logger *slog.Logger) *snapshot.Scheduler {
	if cfg.SnapshotInterval <= 0 {
		return nil
	}
	dest, err := snapshot.NewS3Destination(ctx, snapshot.S3Options{
		Bucket:   cfg.SnapshotS3Bucket,
		Key:      cfg.SnapshotS3Key,
		Region:   cfg.SnapshotS3Region,
		Endpoint: cfg.SnapshotS3Endpoint,
	})
	if err != nil {
		logger.Error("failed to create S3 snapshot destination", "err", err)
		return nil
	}
	s := snapshot.NewScheduler(reg, []snapshot.Destination{dest}, cfg.SnapshotInterval, logger)
	s.Start()
	logger.Info("snapshot scheduler started", "interval", cfg.SnapshotInterval, "bucket", cfg.SnapshotS3Bucket, "key", cfg.SnapshotS3Key)
	return s
}

// stopGRPC stops gracefully, forcing the stop after timeout.
func stopGRPC(s *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.Stop()
		<-done
	}
}

func closeLogged(logger *slog.Logger, what string, fn func() error) {
	if err := fn(); err != nil {
		logger.Error("error closing "+what, "err", err)
	}
}
