package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/talkincode/wppgate/config"
	"github.com/talkincode/wppgate/internal/app"
	"github.com/talkincode/wppgate/internal/credstore"
	"github.com/talkincode/wppgate/internal/qrimg"
	"github.com/talkincode/wppgate/internal/session"
	"github.com/talkincode/wppgate/internal/wameow"
	"github.com/talkincode/wppgate/internal/webserver"
	"go.uber.org/zap"
)

var cfile = flag.String("c", "wppgate.yml", "config file")

func main() {
	flag.Parse()

	cfg := config.LoadConfig(*cfile)
	cfg.InitDirs()

	application := app.NewApplication(cfg)
	application.Init()
	defer application.Release()

	creds := credstore.New(cfg.GetSessionsDir())
	dialer := wameow.NewDialer(creds)

	render := qrimg.DataURI
	if config.Environment() == "development" {
		render = qrimg.WithTerminalEcho(render, os.Stdout)
	}

	mux, err := session.NewMultiplexer(cfg.Session.PushWorkers)
	if err != nil {
		zap.S().Fatalf("multiplexer init error: %v", err)
	}

	registry, err := session.NewRegistry(cfg.Session, dialer, render, mux)
	if err != nil {
		zap.S().Fatalf("registry init error: %v", err)
	}

	if err := application.AddJob("@every 1m", func() {
		zap.L().Info("session stats", zap.Any("states", registry.Stats()))
	}); err != nil {
		zap.S().Errorf("stats job error: %v", err)
	}

	server, err := webserver.NewWebServer(cfg, registry, mux)
	if err != nil {
		zap.S().Fatalf("webserver init error: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			zap.S().Fatalf("webserver error: %v", err)
		}
	case sig := <-quit:
		zap.L().Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		zap.S().Errorf("webserver shutdown error: %v", err)
	}
	registry.Shutdown()
}
