package server_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/example/go-wordalign/internal/align"
	"github.com/example/go-wordalign/internal/align/aligntest"
	"github.com/example/go-wordalign/internal/config"
	"github.com/example/go-wordalign/internal/server"
)

func freeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	return addr
}

func waitHealthy(t *testing.T, addr string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if server.ProbeHTTP(addr) == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server at %s never became healthy", addr)
}

func TestServerStart_AcquiresOnceAndShutsDown(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.ListenAddr = freeAddr(t)

	spy := &aligntest.Spy{}
	srv := server.New(cfg, spy).WithShutdownTimeout(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	waitHealthy(t, cfg.Server.ListenAddr)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	if spy.Acquires != 1 || spy.Releases != 1 {
		t.Errorf("acquires=%d releases=%d; want 1/1", spy.Acquires, spy.Releases)
	}
}

type failingAcquire struct{ align.Aligner }

func (failingAcquire) Acquire(context.Context) error { return errors.New("no model") }

func TestServerStart_AcquireError(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.ListenAddr = freeAddr(t)

	err := server.New(cfg, failingAcquire{align.NewExactMatch()}).Start(context.Background())
	if err == nil {
		t.Fatal("expected acquire error")
	}
}

func TestServerStart_UnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Align.Backend = "giza"

	err := server.New(cfg, nil).Start(context.Background())

	var cfgErr *align.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v; want ConfigurationError", err)
	}
}

func TestProbeHTTP_Unreachable(t *testing.T) {
	if err := server.ProbeHTTP(freeAddr(t)); err == nil {
		t.Fatal("expected error probing a closed port")
	}
}
