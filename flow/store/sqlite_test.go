package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	storeContract(t, s)

	t.Run("reopen sees persisted data", func(t *testing.T) {
		if err := s.SaveSnapshot(context.Background(), sampleSnapshot("durable")); err != nil {
			t.Fatalf("SaveSnapshot failed: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		reopened, err := NewSQLiteStore(path)
		if err != nil {
			t.Fatalf("reopen failed: %v", err)
		}
		defer reopened.Close()

		got, err := reopened.LoadSnapshot(context.Background(), "durable")
		if err != nil {
			t.Fatalf("LoadSnapshot after reopen failed: %v", err)
		}
		assertSnapshotEqual(t, sampleSnapshot("durable"), got)
	})
}

func TestSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore(:memory:) failed: %v", err)
	}
	defer s.Close()

	want := sampleSnapshot("mem")
	if err := s.SaveSnapshot(context.Background(), want); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	got, err := s.LoadSnapshot(context.Background(), "mem")
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	assertSnapshotEqual(t, want, got)
}
