package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d60-Lab/connectnow/config"
	"github.com/d60-Lab/connectnow/internal/api"
	"github.com/d60-Lab/connectnow/internal/api/handler"
	"github.com/d60-Lab/connectnow/pkg/logger"
	"github.com/d60-Lab/connectnow/pkg/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and background workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			SampleRate:       cfg.Sentry.SampleRate,
			AttachStacktrace: true,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	stopLive := a.live.Start(cfg.Realtime.Workers)
	stopWorker := a.worker.Start()
	stopSweeper := func(context.Context) error { return nil }
	if a.sweeper != nil {
		stopSweeper = a.sweeper.Start()
	}

	router := api.SetupRouter(cfg, handler.New(a.services), a.services.Session)
	srv := newHTTPServer(cfg.Server, router)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// worker 先停，最后停 broadcaster，保证已排队的信号发出
	if err := stopWorker(shutdownCtx); err != nil {
		logger.Warn("notification worker shutdown", zap.Error(err))
	}
	if err := stopSweeper(shutdownCtx); err != nil {
		logger.Warn("retention sweeper shutdown", zap.Error(err))
	}
	if err := stopLive(shutdownCtx); err != nil {
		logger.Warn("broadcaster shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	return nil
}

// newHTTPServer 的请求 context 派生自一个在 Shutdown 开始时取消的根 context，
// SSE 这类长连接借此退出，Shutdown 不会一直等到超时
func newHTTPServer(sc config.ServerConfig, h http.Handler) *http.Server {
	base, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", sc.Port),
		Handler:      h,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(cancel)
	return srv
}
