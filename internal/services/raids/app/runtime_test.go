package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestNewRuntimeWithDBPathCreatesStorageDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "raidbot.db")
	runtime, err := NewRuntimeWithDBPath(dbPath, 0, nil)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer runtime.Close()

	if runtime.Service() == nil {
		t.Fatal("expected wired service")
	}
	created, err := runtime.Service().RegisterUser(context.Background(), 1, "alice", 0)
	if err != nil {
		t.Fatalf("register user: %v", err)
	}
	if !created {
		t.Fatal("expected user created")
	}
}

func TestRuntimeRunStopsOnCancel(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "raidbot.db")
	runtime, err := NewRuntimeWithDBPath(dbPath, 0, nil)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runtime.Run(ctx)
	}()
	cancel()

	// Cancellation is the normal shutdown path and must not surface as an
	// error to the process entrypoint.
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop after cancellation")
	}
}

func TestNilRuntimeGuards(t *testing.T) {
	var runtime *Runtime
	if runtime.Service() != nil {
		t.Fatal("expected nil service from nil runtime")
	}
	if err := runtime.Run(context.Background()); err == nil {
		t.Fatal("expected nil runtime error")
	}
	runtime.Close()
}
