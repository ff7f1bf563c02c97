package main

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"roiwatch/internal/grpcapi"
	"roiwatch/internal/services"
)

// handleGRPCServer starts the Control and health services on addr and stops
// them gracefully when ctx is done.
func handleGRPCServer(ctx context.Context, addr string, ctrl *services.Controller, health *services.Health, wg *sync.WaitGroup, errc chan error, logger *zap.SugaredLogger) {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcapi.EnsureTimeoutInterceptor,
		grpcapi.LoggingInterceptor(logger),
	))
	grpcapi.RegisterControlServer(srv, grpcapi.NewServer(ctrl, logger))
	reporter := grpcapi.NewHealthReporter(srv, health, 5*time.Second)

	wg.Add(1)
	go func() {
		defer wg.Done()

		lis, err := net.Listen("tcp", addr)
		if err != nil {
			select {
			case errc <- err:
			case <-ctx.Done():
			}
			return
		}

		go func() {
			logger.Infow("gRPC server listening", "addr", addr)
			if err := srv.Serve(lis); err != nil {
				errc <- err
			}
		}()

		healthDone := make(chan struct{})
		go func() {
			defer close(healthDone)
			reporter.Run(ctx)
		}()

		<-ctx.Done()
		logger.Infow("shutting down gRPC server", "addr", addr)
		<-healthDone

		stopped := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(30 * time.Second):
			srv.Stop()
		}
	}()
}
