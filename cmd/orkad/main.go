// Command orkad is orka's daemon entry point: it loads configuration,
// wires every subsystem via internal/orka, and serves the HTTP/JSON API
// described in spec.md §6 until a termination signal arrives.
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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/common/config"
	"github.com/kandev/orka/internal/common/httpmw"
	"github.com/kandev/orka/internal/common/logger"
	"github.com/kandev/orka/internal/common/tracing"
	"github.com/kandev/orka/internal/orka"
)

// Exit codes per spec.md §6.
const (
	exitOK             = 0
	exitUsage          = 64
	exitInternal       = 70
	exitBackendTimeout = 75
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "orkad: failed to load configuration: %v\n", err)
		return exitUsage
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "orkad: failed to initialize logger: %v\n", err)
		return exitInternal
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting orkad")

	svc, err := orka.New(cfg, log)
	if err != nil {
		log.Error("failed to construct orchestrator", zap.Error(err))
		return exitInternal
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcherDone := make(chan error, 1)
	go func() {
		watcherDone <- svc.Start(ctx)
	}()

	gin.SetMode(ginModeFor(cfg.Logging.Level))
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.OtelTracing("orka-api"))
	svc.API.RegisterRoutes(router)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "orkad"})
	})

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("API server listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error("API server failed", zap.Error(err))
			cancel()
			_ = svc.Stop()
			return exitBackendUnavailableCode(err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("API server shutdown error", zap.Error(err))
	}

	if err := svc.Stop(); err != nil {
		log.Error("orchestrator stop error", zap.Error(err))
		return exitInternal
	}

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Warn("tracer shutdown error", zap.Error(err))
	}

	<-watcherDone
	log.Info("orkad stopped")
	return exitOK
}

func ginModeFor(level string) string {
	if level == "debug" {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}

// exitBackendUnavailableCode maps a failed API listen to the transient-
// backend exit code when the error looks like a startup race (address in
// use, etc.) rather than a genuine misconfiguration.
func exitBackendUnavailableCode(err error) int {
	if apperr.Is(err, apperr.CodeBackendUnavailable) || errors.Is(err, syscall.EADDRINUSE) {
		return exitBackendTimeout
	}
	return exitInternal
}
