package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ambientcast/ambientcast/config"
	"github.com/ambientcast/ambientcast/server"
	"github.com/ambientcast/ambientcast/store"
)

var (
	wsaddr   = flag.String("ws", "", "WebSocket bind address (overrides config)")
	restaddr = flag.String("rest", "", "RESTful API bind address (overrides config)")
	memstore = flag.Bool("mem", false, "use the in-memory store instead of redis")
)

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}
	c := zap.NewProductionConfig()
	c.Level = zap.NewAtomicLevelAt(zapLevel)
	c.EncoderConfig.TimeKey = "timestamp"
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return c.Build()
}

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if *wsaddr != "" {
		cfg.WSAddr = *wsaddr
	}
	if *restaddr != "" {
		cfg.RESTAddr = *restaddr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var st store.Store
	if *memstore {
		logger.Warn("running with the in-memory store, nothing will survive restarts")
		st = store.NewMemStore()
	} else {
		st, err = store.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatal("store connection failed", zap.Error(err))
		}
	}

	srv := server.NewServer(st, logger)
	if err := srv.LoadAll(ctx); err != nil {
		logger.Fatal("startup load failed", zap.Error(err))
	}

	restSrv := &http.Server{
		Addr:    cfg.RESTAddr,
		Handler: cors.Default().Handler(server.NewRestMux(srv)),
	}
	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", server.WSHandler(srv))
	wsSrv := &http.Server{
		Addr:    cfg.WSAddr,
		Handler: wsMux,
	}

	go func() {
		logger.Info("RESTful API listening", zap.String("addr", cfg.RESTAddr))
		if err := restSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("rest server error", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("WebSocket service listening", zap.String("addr", cfg.WSAddr))
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ws server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown()
	if err := wsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ws shutdown failed", zap.Error(err))
	}
	if err := restSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("rest shutdown failed", zap.Error(err))
	}
	srv.Close()
	logger.Info("server exited")
}
