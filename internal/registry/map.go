package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/nuetzliches/brokeradmin/internal/control"
	"github.com/nuetzliches/brokeradmin/internal/resource"
)

const shardCount = 32

type shard[C any] struct {
	mu sync.RWMutex
	m  map[string]C
}

// Map holds the controls of one kind keyed by unprefixed name. Names are
// spread over shards by hash so writes to distinct names rarely contend and
// never block readers of other shards.
type Map[C control.Control] struct {
	kind   resource.Kind
	logger *slog.Logger
	shards [shardCount]shard[C]
}

func NewMap[C control.Control](kind resource.Kind, logger *slog.Logger) *Map[C] {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Map[C]{kind: kind, logger: logger}
	for i := range m.shards {
		m.shards[i].m = make(map[string]C)
	}
	return m
}

func (m *Map[C]) shardFor(name string) *shard[C] {
	return &m.shards[xxhash.Sum64String(name)%shardCount]
}

// Register stores c under name, replacing and returning any previous
// control registered under the same name.
func (m *Map[C]) Register(name string, c C) (C, bool) {
	s := m.shardFor(name)
	s.mu.Lock()
	prev, replaced := s.m[name]
	s.m[name] = c
	s.mu.Unlock()

	logRegistered(m.logger, resource.Name(m.kind, name), c, prev, replaced)
	return prev, replaced
}

// Unregister removes name. Removing an absent name is a no-op.
func (m *Map[C]) Unregister(name string) (C, bool) {
	s := m.shardFor(name)
	s.mu.Lock()
	prev, ok := s.m[name]
	if ok {
		delete(s.m, name)
	}
	s.mu.Unlock()

	logUnregistered(m.logger, resource.Name(m.kind, name), prev, ok)
	return prev, ok
}

func (m *Map[C]) Get(name string) (C, bool) {
	s := m.shardFor(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.m[name]
	return c, ok
}

// List returns the controls accepted by pred, ordered by name. A nil pred
// accepts every control. The result is consistent per shard only.
func (m *Map[C]) List(pred func(C) bool) []C {
	type entry struct {
		name string
		c    C
	}
	var entries []entry
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for name, c := range s.m {
			if pred == nil || pred(c) {
				entries = append(entries, entry{name: name, c: c})
			}
		}
		s.mu.RUnlock()
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	out := make([]C, len(entries))
	for i, e := range entries {
		out[i] = e.c
	}
	return out
}

func (m *Map[C]) Count() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

func (m *Map[C]) Names() []string {
	var out []string
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for name := range s.m {
			out = append(out, name)
		}
		s.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

func (m *Map[C]) Clear() {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		s.m = make(map[string]C)
		s.mu.Unlock()
	}
}

func (m *Map[C]) get(name string) (control.Control, bool) {
	c, ok := m.Get(name)
	if !ok {
		return nil, false
	}
	return c, true
}

func (m *Map[C]) remove(name string) (control.Control, bool) {
	c, ok := m.Unregister(name)
	if !ok {
		return nil, false
	}
	return c, true
}

func (m *Map[C]) list(pred func(control.Control) bool) []control.Control {
	var typed func(C) bool
	if pred != nil {
		typed = func(c C) bool { return pred(c) }
	}
	items := m.List(typed)
	out := make([]control.Control, len(items))
	for i, c := range items {
		out[i] = c
	}
	return out
}

func (m *Map[C]) count() int      { return m.Count() }
func (m *Map[C]) names() []string { return m.Names() }
func (m *Map[C]) clear()          { m.Clear() }

type slotEntry[C any] struct {
	c C
}

// Slot holds a singleton control.
type Slot[C control.Control] struct {
	kind   resource.Kind
	logger *slog.Logger
	p      atomic.Pointer[slotEntry[C]]
}

func NewSlot[C control.Control](kind resource.Kind, logger *slog.Logger) *Slot[C] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slot[C]{kind: kind, logger: logger}
}

func (s *Slot[C]) Register(c C) (C, bool) {
	old := s.p.Swap(&slotEntry[C]{c: c})
	var prev C
	if old != nil {
		prev = old.c
	}
	logRegistered(s.logger, resource.Name(s.kind, ""), c, prev, old != nil)
	return prev, old != nil
}

func (s *Slot[C]) Unregister() (C, bool) {
	old := s.p.Swap(nil)
	var prev C
	if old != nil {
		prev = old.c
	}
	logUnregistered(s.logger, resource.Name(s.kind, ""), prev, old != nil)
	return prev, old != nil
}

func (s *Slot[C]) Get() (C, bool) {
	e := s.p.Load()
	if e == nil {
		var zero C
		return zero, false
	}
	return e.c, true
}

func (s *Slot[C]) get(string) (control.Control, bool) {
	c, ok := s.Get()
	if !ok {
		return nil, false
	}
	return c, true
}

func (s *Slot[C]) remove(string) (control.Control, bool) {
	c, ok := s.Unregister()
	if !ok {
		return nil, false
	}
	return c, true
}

func (s *Slot[C]) list(pred func(control.Control) bool) []control.Control {
	c, ok := s.get("")
	if !ok || (pred != nil && !pred(c)) {
		return nil
	}
	return []control.Control{c}
}

func (s *Slot[C]) count() int {
	if s.p.Load() == nil {
		return 0
	}
	return 1
}

func (s *Slot[C]) names() []string {
	if s.p.Load() == nil {
		return nil
	}
	return []string{""}
}

func (s *Slot[C]) clear() {
	s.p.Store(nil)
}

func logRegistered[C control.Control](logger *slog.Logger, name string, c, prev C, replaced bool) {
	attrs := []any{
		slog.String("name", name),
		slog.String("control", fmt.Sprintf("%T", c)),
	}
	if replaced {
		attrs = append(attrs, slog.String("replaced", fmt.Sprintf("%T", prev)))
	}
	logger.Debug("registered_in_management", attrs...)
}

func logUnregistered[C control.Control](logger *slog.Logger, name string, prev C, ok bool) {
	if !ok {
		logger.Debug("unregister_missing", slog.String("name", name))
		return
	}
	logger.Debug("unregistered_from_management",
		slog.String("name", name),
		slog.String("control", fmt.Sprintf("%T", prev)),
	)
}
