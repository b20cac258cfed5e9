package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/stock-ledger/internal/adapter/handler"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/platform/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logShutdown, logSetupErr := observability.SetupLoggingSDK(ctx, cfg)
	tp, traceShutdown, traceSetupErr := observability.SetupTracingSDK(ctx, cfg)

	logger, err := observability.NewLogger(cfg)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	if logSetupErr != nil {
		logger.Error("failed to setup OpenTelemetry logging", zap.Error(logSetupErr))
	}
	if traceSetupErr != nil {
		logger.Error("failed to setup OpenTelemetry tracing", zap.Error(traceSetupErr))
	}

	infra, err := newInfrastructure(ctx, cfg, tp, logger)
	if err != nil {
		logger.Fatal("failed to initialize infrastructure", zap.Error(err))
	}

	inventoryService := service.NewInventoryService(infra.ledger, infra.publisher, logger,
		service.WithMaxRetries(cfg.LedgerMaxRetries),
		service.WithLowStockThreshold(cfg.LowStockThreshold),
	)

	// gRPC
	grpcServer := grpc.NewServer()
	handler.RegisterInventoryServer(grpcServer, handler.NewGRPCHandler(inventoryService, logger))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}

	// HTTP
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewHTTPHandler(inventoryService, logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	for _, consumer := range infra.consumers(inventoryService) {
		g.Go(func() error { return consumer.Start(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
		logger.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", zap.Error(err))
	}

	// Consumers are stopped, so nothing new reaches the publisher.
	infra.shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := observability.JoinShutdown(traceShutdown, logShutdown)(shutdownCtx); err != nil {
		logger.Error("failed to shutdown OpenTelemetry", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
