package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/copyleftdev/hmlike/internal/config"
	lerrors "github.com/copyleftdev/hmlike/internal/errors"
	"github.com/copyleftdev/hmlike/internal/likelihood/matched"
	"github.com/copyleftdev/hmlike/internal/likelihood/noise"
	"github.com/copyleftdev/hmlike/internal/likelihood/synthetic"
	"github.com/copyleftdev/hmlike/internal/likelihood/waveform"
	"github.com/copyleftdev/hmlike/internal/logging"
	"github.com/copyleftdev/hmlike/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	serviceLogger := logger.WithFields(map[string]interface{}{
		"service": "hmlike",
		"env":     cfg.Environment,
	})
	zlog := logging.NewZapLogger(serviceLogger)
	defer func() { _ = zlog.Sync() }()

	ctx := (&logging.CtxLogger{Logger: serviceLogger}).WithContext(context.Background())

	inj, err := config.LoadInjection(cfg.Injection.File)
	if err != nil {
		serviceLogger.Fatal("Failed to load injection", map[string]interface{}{"error": err.Error()})
	}
	modes, err := cfg.Modes()
	if err != nil {
		serviceLogger.Fatal("Invalid modes", map[string]interface{}{"error": err.Error()})
	}

	lcfg := matched.DefaultConfig()
	lcfg.TDITag = cfg.Likelihood.TDITag
	lcfg.MinDimensionless = cfg.Likelihood.MinDimensionless
	lcfg.MaxDimensionless = cfg.Likelihood.MaxDimensionless
	lcfg.MaxLengthInit = cfg.Likelihood.MaxLengthInit
	lcfg.LogScaledLikelihood = cfg.Likelihood.LogScaled
	lcfg.NoiseModelName = cfg.Likelihood.NoiseModel
	lcfg.T0 = inj.T0
	lcfg.Modes = modes

	engines := waveform.NewFactory(waveform.WithLogger(zlog))
	started := time.Now()
	lik, ds, err := synthetic.LikelihoodFromInjection(ctx, lcfg, synthetic.Request{
		Source:            inj.Source.Physical(),
		NumDataPoints:     cfg.Likelihood.NumDataPoints,
		NumGeneratePoints: cfg.Likelihood.NumGeneratePoints,
	}, noise.NewLISA(), engines, matched.WithLogger(zlog))
	if err != nil {
		serviceLogger.Fatal("Failed to build likelihood", map[string]interface{}{
			"error": err.Error(),
			"kind":  lerrors.KindOf(err).String(),
		})
	}
	lo, hi := ds.Freqs.Bounds()
	serviceLogger.Info("Injection conditioned", map[string]interface{}{
		"tag":          string(lik.Tag()),
		"data_points":  len(ds.Freqs),
		"f_min":        lo,
		"f_max":        hi,
		"self_overlap": lik.SelfOverlap(),
		"duration":     time.Since(started).String(),
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(serviceLogger))
	r.Use(lerrors.RecoveryMiddleware(serviceLogger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := server.NewServer(cfg, serviceLogger, lik, engines, server.WithZapLogger(zlog))
	srv.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		serviceLogger.Info("Starting server", map[string]interface{}{
			"address": httpServer.Addr,
		})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serviceLogger.Fatal("Failed to start server", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	serviceLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		serviceLogger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}
	if err := srv.Close(); err != nil {
		serviceLogger.Error("error closing server resources", map[string]interface{}{"error": err.Error()})
	}
	serviceLogger.Info("server exited properly")
}
