package notify

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryJournal struct {
	mu     sync.Mutex
	events []Event
	ids    map[string]struct{}
}

var _ Journal = (*MemoryJournal)(nil)

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{ids: make(map[string]struct{})}
}

func (j *MemoryJournal) Append(_ context.Context, ev Event) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.ids[ev.ID]; ok {
		return ErrEventExists
	}
	ev.At = ev.At.UTC()
	j.ids[ev.ID] = struct{}{}
	j.events = append(j.events, ev)
	return nil
}

func (j *MemoryJournal) List(_ context.Context, req ListRequest) ([]Event, error) {
	req = req.normalized()
	j.mu.Lock()
	out := make([]Event, 0, len(j.events))
	for _, ev := range j.events {
		if req.Kind != "" && ev.Kind != req.Kind {
			continue
		}
		if req.Type != "" && ev.Type != req.Type {
			continue
		}
		out = append(out, ev)
	}
	j.mu.Unlock()

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].At.Equal(out[b].At) {
			return out[a].ID > out[b].ID
		}
		return out[a].At.After(out[b].At)
	})
	if len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

func (j *MemoryJournal) Prune(_ context.Context, before time.Time) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	kept := j.events[:0]
	removed := 0
	for _, ev := range j.events {
		if ev.At.Before(before) {
			delete(j.ids, ev.ID)
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	j.events = kept
	return removed, nil
}

func (j *MemoryJournal) Close() error {
	return nil
}
