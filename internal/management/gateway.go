// Package management is the entry point for registering broker resources
// and for generic attribute and operation access to them.
package management

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nuetzliches/brokeradmin/internal/control"
	"github.com/nuetzliches/brokeradmin/internal/exposure"
	"github.com/nuetzliches/brokeradmin/internal/notify"
	"github.com/nuetzliches/brokeradmin/internal/registry"
	"github.com/nuetzliches/brokeradmin/internal/resource"
	"github.com/nuetzliches/brokeradmin/internal/security"
)

const (
	tracerName                  = "github.com/nuetzliches/brokeradmin/internal/management"
	defaultHousekeepingInterval = 30 * time.Second
	nameLockStripes             = 64
)

// CallEvent describes one generic management call.
type CallEvent struct {
	Call     string
	Resource string
	Member   string
	Outcome  string
	Duration time.Duration
}

// LifecycleEvent describes one registration or unregistration.
type LifecycleEvent struct {
	Kind     resource.Kind
	Type     notify.Type
	Replaced bool
}

type Option func(*Gateway)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithBrokerName(name string) Option {
	return func(g *Gateway) {
		if name != "" {
			g.handles = exposure.NewHandles(name)
		}
	}
}

func WithAuthorizer(a security.Authorizer) Option {
	return func(g *Gateway) {
		if a != nil {
			g.authorizer = a
		}
	}
}

// WithExposer enables exposure of every registered control through e.
func WithExposer(e exposure.Exposer) Option {
	return func(g *Gateway) {
		g.exposer = e
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(g *Gateway) {
		g.notifier = n
	}
}

// WithJournalRetention makes housekeeping prune journal entries older than
// retention.
func WithJournalRetention(j notify.Journal, retention time.Duration) Option {
	return func(g *Gateway) {
		g.journal = j
		g.retention = retention
	}
}

func WithHousekeepingInterval(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.housekeepingInterval = d
		}
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) {
		if tp != nil {
			g.tracer = tp.Tracer(tracerName)
		}
	}
}

func WithObserveCall(fn func(CallEvent)) Option {
	return func(g *Gateway) {
		g.observeCall = fn
	}
}

func WithObserveLifecycle(fn func(LifecycleEvent)) Option {
	return func(g *Gateway) {
		g.observeLifecycle = fn
	}
}

// WithSampleCounts receives per-kind control counts on every housekeeping
// tick.
func WithSampleCounts(fn func(map[resource.Kind]int)) Option {
	return func(g *Gateway) {
		g.sampleCounts = fn
	}
}

// Gateway owns the resource registry and mediates all access to it.
type Gateway struct {
	reg        *registry.Registry
	logger     *slog.Logger
	handles    exposure.Handles
	authorizer security.Authorizer
	exposer    exposure.Exposer
	notifier   notify.Notifier
	journal    notify.Journal
	retention  time.Duration
	tracer     trace.Tracer
	now        func() time.Time

	housekeepingInterval time.Duration
	observeCall          func(CallEvent)
	observeLifecycle     func(LifecycleEvent)
	sampleCounts         func(map[resource.Kind]int)

	// exposed maps composite names to the handle they were exposed under.
	exposed sync.Map
	// nameLocks serialize register and unregister of one composite name so
	// the exposed handle and the registry entry change together.
	nameLocks [nameLockStripes]sync.Mutex

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(opts ...Option) *Gateway {
	g := &Gateway{
		logger:               slog.Default(),
		handles:              exposure.NewHandles("localhost"),
		authorizer:           security.AllowAll,
		tracer:               otel.Tracer(tracerName),
		now:                  time.Now,
		housekeepingInterval: defaultHousekeepingInterval,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.reg = registry.New(g.logger)
	return g
}

func (g *Gateway) Registry() *registry.Registry { return g.reg }
func (g *Gateway) Handles() exposure.Handles    { return g.handles }

// Start launches housekeeping. Starting a started gateway is a no-op.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})
	g.started = true
	go g.housekeep(ctx, g.done)
	g.logger.Info("management_started",
		slog.String("broker", g.handles.BrokerName()),
		slog.Duration("housekeeping_interval", g.housekeepingInterval),
	)
	return nil
}

// Stop halts housekeeping and drops every registered control. It is only
// meant for shutdown.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	wasStarted := g.started
	g.started = false
	cancel, done := g.cancel, g.done
	g.mu.Unlock()

	if wasStarted {
		cancel()
		<-done
	}

	if g.exposer != nil {
		g.exposed.Range(func(key, value any) bool {
			if err := g.exposer.Unexpose(value.(string)); err != nil {
				g.logger.Debug("unexpose_failed", slog.String("name", key.(string)), slog.Any("err", err))
			}
			g.exposed.Delete(key)
			return true
		})
	}
	g.reg.Clear()
	g.logger.Info("management_stopped")
	return nil
}

func (g *Gateway) Started() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started
}

func (g *Gateway) housekeep(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(g.housekeepingInterval)
	defer ticker.Stop()
	g.housekeepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.housekeepOnce(ctx)
		}
	}
}

func (g *Gateway) housekeepOnce(ctx context.Context) {
	if g.sampleCounts != nil {
		g.sampleCounts(g.reg.Counts())
	}
	if g.journal == nil || g.retention <= 0 {
		return
	}
	cutoff := g.now().Add(-g.retention)
	n, err := g.journal.Prune(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			g.logger.Warn("notifications_prune_failed", slog.Any("err", err))
		}
		return
	}
	if n > 0 {
		g.logger.Debug("notifications_pruned", slog.Int("count", n), slog.Time("before", cutoff))
	}
}

func (g *Gateway) nameLock(composite string) *sync.Mutex {
	return &g.nameLocks[xxhash.Sum64String(composite)%nameLockStripes]
}

// register exposes c under handle, then stores it. An exposure failure
// leaves the registry untouched.
func (g *Gateway) register(c control.Control, handle string) error {
	name := control.ResourceName(c)
	l := g.nameLock(name)
	l.Lock()
	replaced, err := g.exposeAndStore(c, name, handle)
	l.Unlock()
	if err != nil {
		return err
	}
	g.emit(notify.TypeRegistered, c.Kind(), name, handle, replaced)
	return nil
}

func (g *Gateway) exposeAndStore(c control.Control, name, handle string) (bool, error) {
	if g.exposer != nil && handle != "" {
		if err := g.exposer.Expose(handle, c); err != nil {
			return false, fmt.Errorf("expose %s: %w", name, err)
		}
		if prev, loaded := g.exposed.Swap(name, handle); loaded && prev.(string) != handle {
			if err := g.exposer.Unexpose(prev.(string)); err != nil {
				g.logger.Debug("unexpose_failed", slog.String("name", name), slog.Any("err", err))
			}
		}
	}
	_, replaced := g.reg.Register(c)
	return replaced, nil
}

// unregister removes the control registered as (kind, name). Exposure
// failures are logged and never keep the control registered.
func (g *Gateway) unregister(kind resource.Kind, name string) error {
	composite := resource.Name(kind, name)
	l := g.nameLock(composite)
	l.Lock()
	handle, removed := g.unexposeAndRemove(kind, name, composite)
	l.Unlock()
	if removed {
		g.emit(notify.TypeUnregistered, kind, composite, handle, false)
	}
	return nil
}

func (g *Gateway) unexposeAndRemove(kind resource.Kind, name, composite string) (handle string, removed bool) {
	if v, ok := g.exposed.LoadAndDelete(composite); ok {
		handle = v.(string)
		if err := g.exposer.Unexpose(handle); err != nil {
			g.logger.Warn("unexpose_failed",
				slog.String("name", composite),
				slog.String("handle", handle),
				slog.Any("err", err),
			)
		}
	}
	_, removed = g.reg.Unregister(kind, name)
	return handle, removed
}

func (g *Gateway) emit(typ notify.Type, kind resource.Kind, name, handle string, replaced bool) {
	if g.observeLifecycle != nil {
		g.observeLifecycle(LifecycleEvent{Kind: kind, Type: typ, Replaced: replaced})
	}
	if g.notifier == nil {
		return
	}
	ev := notify.NewEvent(typ, string(kind), name, handle, g.now())
	if err := g.notifier.Notify(context.Background(), ev); err != nil {
		g.logger.Debug("notification_not_sent",
			slog.String("type", string(typ)),
			slog.String("name", name),
			slog.Any("err", err),
		)
	}
}
