package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun registers run so events and failures can reference it.
func createTestRun(t *testing.T, s *Store, run string) {
	t.Helper()
	if _, err := NewJournal(context.Background(), s, run); err != nil {
		t.Fatalf("NewJournal() failed: %v", err)
	}
}
