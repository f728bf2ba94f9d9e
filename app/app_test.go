package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/searchktools/static-server/config"
	"github.com/searchktools/static-server/core"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("app"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &config.Config{
		Host:        "127.0.0.1",
		Port:        0,
		Path:        dir,
		Workers:     4,
		MaxClients:  16,
		BufferSize:  4096,
		URIMax:      1024,
		MaxHeaders:  16,
		WaitTimeout: 20 * time.Millisecond,
		ServerName:  "app-test",
		LogLevel:    "error",
		Env:         "development",
	}
}

func TestNewLogger(t *testing.T) {
	cfg := testConfig(t)
	cfg.LogLevel = "debug"
	cfg.Env = "production"

	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("Expected debug level, got %s", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("Expected JSON formatter in production, got %T", logger.Formatter)
	}

	cfg.LogLevel = "nope"
	if _, err := NewLogger(cfg); err == nil {
		t.Error("Expected error for a bad level")
	}
}

func TestEngineOptions(t *testing.T) {
	cfg := testConfig(t)
	opts := EngineOptions(cfg, nil)

	if opts.Root != cfg.Path || opts.Workers != 4 || opts.MaxClients != 16 {
		t.Errorf("Unexpected options: %+v", opts)
	}
	if opts.BufferSize != 4096 || opts.MaxURILength != 1024 || opts.MaxHeaders != 16 {
		t.Errorf("Unexpected limits: %+v", opts)
	}
	if opts.ServerName != "app-test" || opts.WaitTimeout != 20*time.Millisecond {
		t.Errorf("Unexpected settings: %+v", opts)
	}
}

func TestApp_RunUntilCancelled(t *testing.T) {
	a, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	a.log.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for a.Engine().Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("engine did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn, err := net.DialTimeout("tcp", a.Engine().Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	fmt.Fprint(conn, "GET /index.html HTTP/1.1\r\n\r\n")
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Server") != "app-test" {
		t.Errorf("Unexpected response: %d %v", resp.StatusCode, resp.Header)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if a.Engine().State() != core.StateTerminated {
		t.Errorf("Expected terminated engine, got %s", a.Engine().State())
	}
}
