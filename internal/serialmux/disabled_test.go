package serialmux

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDisabledSerialMux(t *testing.T) {
	mux := NewDisabledSerialMux()

	id, ch := mux.Subscribe()
	if id == "" || ch == nil {
		t.Fatal("Subscribe returned empty values")
	}

	if err := mux.SendCommand("PSOCONTROL @0 ARM"); err != nil {
		t.Errorf("SendCommand should be a no-op, got %v", err)
	}
	if err := mux.Initialize(); err != nil {
		t.Errorf("Initialize should be a no-op, got %v", err)
	}

	mux.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestDisabledSerialMux_CloseUnblocksSubscribers(t *testing.T) {
	mux := NewDisabledSerialMux()
	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed")
	}

	// Subscribing after close returns an already-closed channel.
	_, ch2 := mux.Subscribe()
	if _, ok := <-ch2; ok {
		t.Error("post-close subscription should yield a closed channel")
	}

	// Close is idempotent.
	if err := mux.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestDisabledSerialMux_MonitorWaitsForContext(t *testing.T) {
	mux := NewDisabledSerialMux()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- mux.Monitor(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return")
	}
}
