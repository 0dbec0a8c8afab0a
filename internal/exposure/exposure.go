// Package exposure publishes management controls under stable handles so
// outer surfaces can enumerate them independently of the registry.
package exposure

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrEmptyHandle = errors.New("empty handle")
	ErrNotExposed  = errors.New("handle is not exposed")
)

type Exposer interface {
	Expose(handle string, obj any) error
	Unexpose(handle string) error
}

type Entry struct {
	Handle string `json:"handle"`
	Type   string `json:"type"`
}

// Directory is an in-process table of exposed objects keyed by handle.
// Exposing an occupied handle replaces the previous object.
type Directory struct {
	mu      sync.RWMutex
	objects map[string]any
}

var _ Exposer = (*Directory)(nil)

func NewDirectory() *Directory {
	return &Directory{objects: make(map[string]any)}
}

func (d *Directory) Expose(handle string, obj any) error {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return ErrEmptyHandle
	}
	if obj == nil {
		return fmt.Errorf("expose %s: nil object", handle)
	}
	d.mu.Lock()
	d.objects[handle] = obj
	d.mu.Unlock()
	return nil
}

func (d *Directory) Unexpose(handle string) error {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return ErrEmptyHandle
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.objects[handle]; !ok {
		return ErrNotExposed
	}
	delete(d.objects, handle)
	return nil
}

func (d *Directory) Lookup(handle string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	obj, ok := d.objects[handle]
	return obj, ok
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.objects)
}

// List returns the exposed handles sorted, optionally restricted to those
// containing match.
func (d *Directory) List(match string) []Entry {
	d.mu.RLock()
	out := make([]Entry, 0, len(d.objects))
	for handle, obj := range d.objects {
		if match != "" && !strings.Contains(handle, match) {
			continue
		}
		out = append(out, Entry{Handle: handle, Type: fmt.Sprintf("%T", obj)})
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}
