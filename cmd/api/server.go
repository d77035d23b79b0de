package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"finlink/internal/interfaces/scheduler"
)

// StartServer starts the HTTP server in the background. A listen failure is
// reported on the returned channel.
func StartServer(addr string, handler http.Handler, logger *zap.Logger) (*http.Server, <-chan error) {
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		// Connect and sync poll the aggregator before answering.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	return srv, errc
}

// GracefulShutdown stops the scheduler first so no new syncs start, then
// drains the HTTP server.
func GracefulShutdown(srv *http.Server, sched *scheduler.Scheduler, timeout time.Duration, logger *zap.Logger) {
	logger.Info("server shutting down")

	if sched != nil {
		sched.Shutdown(timeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}

	logger.Info("server stopped")
}
