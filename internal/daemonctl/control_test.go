package daemonctl

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"dramaforge/internal/api"
	"dramaforge/internal/testsupport"
)

func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestStatusSnapshotFallsBackOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client := api.NewClient(closedAddr(t), "")

	status, err := StatusSnapshot(context.Background(), client, cfg)
	if err != nil {
		t.Fatalf("StatusSnapshot: %v", err)
	}
	if status.Running {
		t.Fatal("offline snapshot reports running")
	}
	if status.DatabasePath != cfg.DatabasePath() || len(status.Checks) == 0 {
		t.Fatalf("offline snapshot missing local details: %+v", status)
	}
}

func TestStatusSnapshotUsesLiveDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.StatusResponse{Running: true, PID: 4242})
	}))
	defer srv.Close()

	status, err := StatusSnapshot(context.Background(), api.NewClient(srv.URL, ""), cfg)
	if err != nil {
		t.Fatalf("StatusSnapshot: %v", err)
	}
	if !status.Running || status.PID != 4242 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := Stop(context.Background(), api.NewClient(closedAddr(t), ""), cfg, time.Second)
	if !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("Stop err = %v, want ErrDaemonNotRunning", err)
	}
}

func TestStopRefusesCurrentProcess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.StatusResponse{Running: true, PID: os.Getpid()})
	}))
	defer srv.Close()

	if _, err := Stop(context.Background(), api.NewClient(srv.URL, ""), cfg, time.Second); err == nil {
		t.Fatal("expected Stop to refuse signalling itself")
	}
}

func TestWaitReadyTimesOut(t *testing.T) {
	_, err := WaitReady(context.Background(), api.NewClient(closedAddr(t), ""), 300*time.Millisecond)
	if err == nil {
		t.Fatal("expected WaitReady to time out")
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Fatal("current process reported dead")
	}
}
