package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

type journalFactory struct {
	name string
	new  func(t *testing.T) Journal
}

func contractJournalFactories() []journalFactory {
	out := []journalFactory{
		{
			name: "memory",
			new: func(t *testing.T) Journal {
				t.Helper()
				return NewMemoryJournal()
			},
		},
		{
			name: "sqlite",
			new: func(t *testing.T) Journal {
				t.Helper()
				dbPath := filepath.Join(t.TempDir(), "notify", "brokeradmin.db")
				j, err := NewSQLiteJournal(dbPath)
				if err != nil {
					t.Fatalf("new sqlite journal: %v", err)
				}
				t.Cleanup(func() { _ = j.Close() })
				return j
			},
		},
	}

	dsn := strings.TrimSpace(os.Getenv("BROKERADMIN_TEST_POSTGRES_DSN"))
	if dsn != "" {
		out = append(out, journalFactory{
			name: "postgres",
			new: func(t *testing.T) Journal {
				t.Helper()
				j, err := NewPostgresJournal(dsn)
				if err != nil {
					t.Fatalf("new postgres journal: %v", err)
				}
				t.Cleanup(func() { _ = j.Close() })
				return j
			},
		})
	}
	return out
}

// testKind keeps runs against a shared database apart.
func testKind() string {
	return "queue-" + uuid.NewString()[:8]
}

func TestJournalContract_AppendList(t *testing.T) {
	for _, factory := range contractJournalFactories() {
		t.Run(factory.name, func(t *testing.T) {
			j := factory.new(t)
			ctx := context.Background()
			kind := testKind()
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

			var want []Event
			for i, name := range []string{"a", "b", "c"} {
				ev := NewEvent(TypeRegistered, kind, kind+"."+name, "h-"+name, base.Add(time.Duration(i)*time.Second))
				if err := j.Append(ctx, ev); err != nil {
					t.Fatalf("append %s: %v", name, err)
				}
				want = append([]Event{ev}, want...)
			}

			got, err := j.List(ctx, ListRequest{Kind: kind})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("events mismatch (-want +got):\n%s", diff)
			}

			limited, err := j.List(ctx, ListRequest{Kind: kind, Limit: 2})
			if err != nil {
				t.Fatalf("list limited: %v", err)
			}
			if len(limited) != 2 || limited[0].Name != kind+".c" {
				t.Fatalf("expected two newest events, got %v", limited)
			}
		})
	}
}

func TestJournalContract_DuplicateID(t *testing.T) {
	for _, factory := range contractJournalFactories() {
		t.Run(factory.name, func(t *testing.T) {
			j := factory.new(t)
			ctx := context.Background()
			ev := NewEvent(TypeRegistered, testKind(), "x", "", time.Now())
			if err := j.Append(ctx, ev); err != nil {
				t.Fatalf("append: %v", err)
			}
			if err := j.Append(ctx, ev); !errors.Is(err, ErrEventExists) {
				t.Fatalf("expected ErrEventExists, got %v", err)
			}
		})
	}
}

func TestJournalContract_FilterByType(t *testing.T) {
	for _, factory := range contractJournalFactories() {
		t.Run(factory.name, func(t *testing.T) {
			j := factory.new(t)
			ctx := context.Background()
			kind := testKind()
			now := time.Now().UTC()
			reg := NewEvent(TypeRegistered, kind, "x", "", now)
			unreg := NewEvent(TypeUnregistered, kind, "x", "", now.Add(time.Second))
			for _, ev := range []Event{reg, unreg} {
				if err := j.Append(ctx, ev); err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			got, err := j.List(ctx, ListRequest{Kind: kind, Type: TypeUnregistered})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != 1 || got[0].ID != unreg.ID {
				t.Fatalf("expected only the unregistered event, got %v", got)
			}
		})
	}
}

func TestJournalContract_Prune(t *testing.T) {
	for _, factory := range contractJournalFactories() {
		t.Run(factory.name, func(t *testing.T) {
			j := factory.new(t)
			ctx := context.Background()
			kind := testKind()
			cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
			old := NewEvent(TypeRegistered, kind, "old", "", cutoff.Add(-time.Hour))
			fresh := NewEvent(TypeRegistered, kind, "fresh", "", cutoff.Add(time.Hour))
			for _, ev := range []Event{old, fresh} {
				if err := j.Append(ctx, ev); err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			removed, err := j.Prune(ctx, cutoff)
			if err != nil {
				t.Fatalf("prune: %v", err)
			}
			if removed < 1 {
				t.Fatalf("expected at least one pruned event, got %d", removed)
			}
			got, err := j.List(ctx, ListRequest{Kind: kind})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != 1 || got[0].ID != fresh.ID {
				t.Fatalf("expected only the fresh event, got %v", got)
			}
		})
	}
}

func TestJournalRejectsInvalidEvent(t *testing.T) {
	j := NewMemoryJournal()
	if err := j.Append(context.Background(), Event{Type: TypeRegistered, At: time.Now()}); err == nil {
		t.Fatalf("expected missing id to be rejected")
	}
}

func TestSQLiteJournalReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "brokeradmin.db")
	j, err := NewSQLiteJournal(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ev := NewEvent(TypeRegistered, "queue", "queue.orders", "", time.Now())
	if err := j.Append(context.Background(), ev); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	j, err = NewSQLiteJournal(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()
	got, err := j.List(context.Background(), ListRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != ev.ID {
		t.Fatalf("expected persisted event after reopen, got %v", got)
	}
}
