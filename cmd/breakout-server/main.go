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

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"breakout/internal/app"
	"breakout/internal/config"
	"breakout/internal/httpapi"
	"breakout/internal/util"
)

const version = "0.1.0"

// marketDataService is the gRPC health service name tracking the breaker.
const marketDataService = "breakout.MarketData"

func main() {
	cfg, err := config.LoadOrDefault(config.PathFromEnv())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("building backtest service", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	srv := httpapi.NewServer(a.Service, httpapi.Options{
		Metrics: a.Metrics.Handler(),
		Breaker: a.Provider,
		Version: version,
		Logger:  logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	// gRPC health service, when a port is configured.
	var grpcServer *grpc.Server
	if cfg.Server.GRPCPort != 0 {
		hs := health.NewServer()
		hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		hs.SetServingStatus(marketDataService, healthpb.HealthCheckResponse_SERVING)

		grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, hs)

		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr())
		if err != nil {
			logger.Error("gRPC listen", "addr", cfg.Server.GRPCAddr(), "error", err)
			os.Exit(1)
		}
		go func() {
			logger.Info("gRPC health listening", "addr", lis.Addr().String())
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "error", err)
			}
		}()
		go watchBreaker(ctx, hs, a.Provider)
		defer hs.Shutdown()
	}

	<-ctx.Done()
	logger.Info("shutting down breakout server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
}

// watchBreaker mirrors the market-data circuit breaker into the gRPC
// health status until ctx is done.
func watchBreaker(ctx context.Context, hs *health.Server, b httpapi.BreakerState) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	last := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := b.State()
			if state == last {
				continue
			}
			last = state
			status := healthpb.HealthCheckResponse_SERVING
			if state == "open" {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			hs.SetServingStatus(marketDataService, status)
		}
	}
}
