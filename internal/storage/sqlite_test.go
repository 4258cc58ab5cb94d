package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/loomnotes/oracle/internal/oracle"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestSaveAndGetQuery(t *testing.T) {
	s := openTestStore(t)

	asked := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rec := QueryRecord{ID: "q-1", Question: "What is recursion?", AskedAt: asked, Success: true}
	if err := s.SaveQuery(rec); err != nil {
		t.Fatalf("SaveQuery: %v", err)
	}

	got, err := s.GetQuery("q-1")
	if err != nil {
		t.Fatalf("GetQuery: %v", err)
	}
	if got.Question != rec.Question || !got.Success {
		t.Errorf("got %+v, want %+v", got, rec)
	}
	if !got.AskedAt.Equal(asked) {
		t.Errorf("asked_at = %v, want %v", got.AskedAt, asked)
	}
}

func TestGetQueryNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetQuery("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRecentQueriesOrderAndLimit(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		rec := QueryRecord{
			ID:       fmt.Sprintf("q-%d", i),
			Question: fmt.Sprintf("question %d", i),
			AskedAt:  base.Add(time.Duration(i) * time.Minute),
			Success:  true,
		}
		if err := s.SaveQuery(rec); err != nil {
			t.Fatalf("SaveQuery %d: %v", i, err)
		}
	}

	recent, err := s.RecentQueries(3)
	if err != nil {
		t.Fatalf("RecentQueries: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("got %d records, want 3", len(recent))
	}
	if recent[0].ID != "q-9" || recent[2].ID != "q-7" {
		t.Errorf("order wrong: %s, %s, %s", recent[0].ID, recent[1].ID, recent[2].ID)
	}
}

func TestPurgeQueriesBefore(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := QueryRecord{
			ID:      fmt.Sprintf("q-%d", i),
			AskedAt: base.Add(time.Duration(i) * time.Hour),
		}
		rec.Question = "q"
		if err := s.SaveQuery(rec); err != nil {
			t.Fatalf("SaveQuery %d: %v", i, err)
		}
	}

	n, err := s.PurgeQueriesBefore(base.Add(3 * time.Hour))
	if err != nil {
		t.Fatalf("PurgeQueriesBefore: %v", err)
	}
	if n != 3 {
		t.Errorf("purged %d records, want 3", n)
	}

	remaining, err := s.RecentQueries(10)
	if err != nil {
		t.Fatalf("RecentQueries: %v", err)
	}
	if len(remaining) != 2 {
		t.Errorf("got %d remaining, want 2", len(remaining))
	}
}

func TestRecorderWritesThrough(t *testing.T) {
	s := openTestStore(t)
	rec := NewRecorder(s)

	entry := oracle.HistoryEntry{
		ID:        "h-1",
		Question:  "persist me",
		Timestamp: time.Now().UTC(),
		Success:   true,
	}
	if err := rec.Record(entry); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := s.GetQuery("h-1")
	if err != nil {
		t.Fatalf("GetQuery: %v", err)
	}
	if got.Question != "persist me" || !got.Success {
		t.Errorf("stored record = %+v", got)
	}
}
