package store

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/testutil"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithIDGenerator(testutil.NewSequenceIDGenerator("link")),
	)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var epoch = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

// createTestTask creates a task with minimal required fields.
func createTestTask(id string) model.Task {
	return model.Task{
		ID:         id,
		Name:       "task " + id,
		Priority:   model.DefaultPriority,
		CreateTime: epoch,
		Version:    1,
	}
}
