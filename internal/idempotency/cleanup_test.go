package idempotency

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestCleanupOldKeys(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	old := testRecord("old")
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	if err := repo.Store(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := repo.Store(ctx, testRecord("new")); err != nil {
		t.Fatal(err)
	}

	deleted, err := CleanupOldKeys(ctx, repo, DefaultExpiry, logger)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}

func TestRunPeriodicCleanup_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	done := make(chan struct{})
	go func() {
		RunPeriodicCleanup(ctx, NewInMemoryRepository(), 10*time.Millisecond, DefaultExpiry, logger)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPeriodicCleanup did not stop after cancellation")
	}
}
