// Package notify records and delivers management lifecycle notifications.
package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeRegistered   Type = "registered"
	TypeUnregistered Type = "unregistered"
)

var (
	ErrEventExists = errors.New("event already exists")
	ErrBufferFull  = errors.New("notification buffer is full")
	ErrClosed      = errors.New("notifier is closed")
)

// Event describes one resource lifecycle change.
type Event struct {
	ID     string    `json:"id"`
	Type   Type      `json:"type"`
	Kind   string    `json:"kind"`
	Name   string    `json:"name"`
	Handle string    `json:"handle,omitempty"`
	At     time.Time `json:"at"`
}

func NewEvent(typ Type, kind, name, handle string, at time.Time) Event {
	return Event{
		ID:     uuid.NewString(),
		Type:   typ,
		Kind:   kind,
		Name:   name,
		Handle: handle,
		At:     at.UTC(),
	}
}

// Notifier accepts events without waiting for them to be delivered.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

type ListRequest struct {
	Kind  string
	Type  Type
	Limit int
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func (r ListRequest) normalized() ListRequest {
	r.Kind = strings.TrimSpace(r.Kind)
	if r.Limit <= 0 {
		r.Limit = defaultListLimit
	}
	if r.Limit > maxListLimit {
		r.Limit = maxListLimit
	}
	return r
}

// Journal stores delivered events. List returns newest first.
type Journal interface {
	Append(ctx context.Context, ev Event) error
	List(ctx context.Context, req ListRequest) ([]Event, error)
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}

func validateEvent(ev Event) error {
	if strings.TrimSpace(ev.ID) == "" {
		return errors.New("event id is required")
	}
	if ev.Type == "" {
		return errors.New("event type is required")
	}
	if ev.At.IsZero() {
		return errors.New("event time is required")
	}
	return nil
}
