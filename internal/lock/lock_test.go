package lock

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireThenCloseReleases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.lock")

	g, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	g2, err := Acquire(path)
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	defer g2.Close()
}

func TestTryAcquireReturnsNotAvailableOnContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.lock")

	g, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer g.Close()

	_, err = TryAcquire(path)
	if !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("expected ErrNotAvailable, got %v", err)
	}
}

func TestAcquireBlocksUntilReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.lock")

	g, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		g2, err := Acquire(path)
		if err != nil {
			t.Errorf("second Acquire: %v", err)
			return
		}
		defer g2.Close()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire returned before first lock was released")
	case <-time.After(100 * time.Millisecond):
	}

	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second Acquire never completed after release")
	}
}
