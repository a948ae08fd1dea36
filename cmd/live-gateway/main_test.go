package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/config"
)

func testDeps() gatewayDeps {
	deps := defaultGatewayDeps()
	deps.loadConfig = func() (config.Config, error) {
		return config.Config{
			Addr:                "127.0.0.1:0",
			GeminiAPIKey:        "test",
			DefaultModel:        "gemini-2.0-flash-live-001",
			ReadHeaderTimeout:   time.Second,
			ShutdownGracePeriod: time.Second,
		}, nil
	}
	return deps
}

func TestRunGatewayMissingDeps(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := runGateway(context.Background(), logger, gatewayDeps{}); err == nil {
		t.Fatal("expected error with empty deps")
	}
}

func TestRunGatewayShutsDownOnSignal(t *testing.T) {
	deps := testDeps()
	sigCh := make(chan chan<- os.Signal, 1)
	deps.signalNotify = func(c chan<- os.Signal, sig ...os.Signal) { sigCh <- c }
	deps.signalStop = func(chan<- os.Signal) {}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	done := make(chan error, 1)
	go func() { done <- runGateway(context.Background(), logger, deps) }()

	select {
	case c := <-sigCh:
		c <- os.Interrupt
	case <-time.After(2 * time.Second):
		t.Fatal("signal channel never registered")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down")
	}
}

func TestRunGatewayBadConfig(t *testing.T) {
	deps := testDeps()
	deps.loadConfig = func() (config.Config, error) {
		return config.Config{}, os.ErrInvalid
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := runGateway(context.Background(), logger, deps); err == nil {
		t.Fatal("expected config error")
	}
}
