package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"github.com/nuetzliches/brokeradmin/internal/broker"
	"github.com/nuetzliches/brokeradmin/internal/config"
	"github.com/nuetzliches/brokeradmin/internal/exposure"
	"github.com/nuetzliches/brokeradmin/internal/management"
	"github.com/nuetzliches/brokeradmin/internal/notify"
	"github.com/nuetzliches/brokeradmin/internal/security"
)

// remoteProtocol is the protocol recorded for connections to cluster members.
const remoteProtocol = "CORE"

// brokerRuntime owns the in-memory broker and everything registered with
// the management gateway on its behalf.
type brokerRuntime struct {
	logger     *slog.Logger
	broker     *broker.Memory
	gateway    *management.Gateway
	guard      *security.Guard
	directory  *exposure.Directory
	journal    notify.Journal
	dispatcher *notify.Dispatcher
	resources  config.ResourcesConfig

	// Addresses created for queues whose address is not declared.
	autoAddresses map[string]bool
}

func newBrokerRuntime(compiled config.Compiled, logger *slog.Logger, metrics *runtimeMetrics) (*brokerRuntime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	policy, err := buildPolicy(compiled.Security)
	if err != nil {
		return nil, err
	}

	rt := &brokerRuntime{
		logger: logger,
		broker: broker.NewMemory(compiled.Broker.Name, broker.WithVersion(version)),
		guard:  security.NewGuard(policy),

		autoAddresses: map[string]bool{},
	}

	opts := []management.Option{
		management.WithLogger(logger),
		management.WithBrokerName(compiled.Broker.Name),
		management.WithAuthorizer(rt.guard),
		management.WithHousekeepingInterval(compiled.Broker.HousekeepingInterval),
	}
	if compiled.Broker.Exposure {
		rt.directory = exposure.NewDirectory()
		opts = append(opts, management.WithExposer(rt.directory))
	}
	if compiled.Notifications.Enabled {
		journal, err := openJournal(compiled.Notifications)
		if err != nil {
			return nil, fmt.Errorf("notifications: %w", err)
		}
		rt.journal = journal
		rt.dispatcher = notify.NewDispatcher(journal,
			notify.WithBufferSize(compiled.Notifications.Buffer),
			notify.WithLogger(logger),
		)
		opts = append(opts,
			management.WithNotifier(rt.dispatcher),
			management.WithJournalRetention(journal, compiled.Notifications.Retention),
		)
	}
	if metrics != nil {
		opts = append(opts,
			management.WithObserveCall(metrics.observeCall),
			management.WithObserveLifecycle(metrics.observeLifecycle),
			management.WithSampleCounts(metrics.sampleControls),
		)
		if rt.dispatcher != nil {
			metrics.notifications = rt.dispatcher.Stats
		}
	}
	rt.gateway = management.New(opts...)
	if metrics != nil {
		metrics.counts = rt.gateway.Registry().Counts
	}
	return rt, nil
}

// buildPolicy resolves token secrets and role rules into a policy the
// guard can swap in atomically.
func buildPolicy(cfg config.SecurityConfig) (*security.Policy, error) {
	tokens := security.NewTokenAuthenticator()
	for i, tc := range cfg.Tokens {
		secret, err := security.LoadRef(tc.Ref)
		if err != nil {
			return nil, fmt.Errorf("security.token[%d] (user %q): %w", i, tc.User, err)
		}
		tokens.Add(secret, security.Subject{User: tc.User, Roles: append([]string(nil), tc.Roles...)})
	}
	return &security.Policy{
		Tokens:     tokens,
		Authorizer: security.NewRoleAuthorizer(cfg.Roles),
		Open:       cfg.AllowAll,
	}, nil
}

func openJournal(cfg config.NotificationsConfig) (notify.Journal, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return notify.NewMemoryJournal(), nil
	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create journal dir: %w", err)
			}
		}
		return notify.NewSQLiteJournal(cfg.Path)
	case config.BackendPostgres:
		return notify.NewPostgresJournal(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

// start registers the broker, its security settings and the configured
// resources, then starts housekeeping.
func (rt *brokerRuntime) start(ctx context.Context, res config.ResourcesConfig) error {
	rt.broker.Start()
	if _, err := rt.gateway.RegisterServer(rt.broker); err != nil {
		return fmt.Errorf("register broker: %w", err)
	}
	if _, err := rt.gateway.RegisterSecurity(rt.guard); err != nil {
		return fmt.Errorf("register security: %w", err)
	}
	if err := rt.applyResources(res); err != nil {
		return err
	}
	return rt.gateway.Start(ctx)
}

func (rt *brokerRuntime) applySecurity(cfg config.SecurityConfig) error {
	p, err := buildPolicy(cfg)
	if err != nil {
		return err
	}
	rt.guard.Swap(p)
	return nil
}

// applyResources moves the broker from the current resource set to next.
// Entries that changed are removed and registered again.
func (rt *brokerRuntime) applyResources(next config.ResourcesConfig) error {
	prev := rt.resources
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(reconcile(prev.ConnectionRouters, next.ConnectionRouters, func(r broker.ConnectionRouterInfo) string { return r.Name },
		func(r broker.ConnectionRouterInfo) error { return rt.gateway.UnregisterConnectionRouter(r.Name) },
		func(r broker.ConnectionRouterInfo) error {
			return rt.gateway.RegisterConnectionRouter(broker.NewMemoryConnectionRouter(r, rt.broker.Info().NodeID))
		}))
	add(reconcile(prev.BrokerConnections, next.BrokerConnections, func(c broker.BrokerConnectionInfo) string { return c.Name },
		func(c broker.BrokerConnectionInfo) error { return rt.gateway.UnregisterBrokerConnection(c.Name) },
		func(c broker.BrokerConnectionInfo) error {
			bc := broker.NewMemoryBrokerConnection(c)
			if err := bc.Start(); err != nil {
				return err
			}
			return rt.gateway.RegisterBrokerConnection(bc)
		}))
	add(reconcile(prev.BroadcastGroups, next.BroadcastGroups, func(b broker.BroadcastGroupInfo) string { return b.Name },
		func(b broker.BroadcastGroupInfo) error { return rt.gateway.UnregisterBroadcastGroup(b.Name) },
		func(b broker.BroadcastGroupInfo) error {
			g := broker.NewMemoryBroadcastGroup(b)
			if err := g.Start(); err != nil {
				return err
			}
			return rt.gateway.RegisterBroadcastGroup(g)
		}))
	add(reconcile(prev.ClusterConnections, next.ClusterConnections, func(c broker.ClusterConnectionInfo) string { return c.Name },
		rt.removeClusterConnection, rt.addClusterConnection))
	add(reconcile(prev.Bridges, next.Bridges, func(b broker.BridgeInfo) string { return b.Name },
		func(b broker.BridgeInfo) error { return rt.gateway.UnregisterBridge(b.Name) },
		func(b broker.BridgeInfo) error {
			br := broker.NewMemoryBridge(b)
			if err := br.Start(); err != nil {
				return err
			}
			return rt.gateway.RegisterBridge(br)
		}))
	add(reconcile(prev.Diverts, next.Diverts, func(d broker.DivertInfo) string { return d.UniqueName },
		func(d broker.DivertInfo) error { return rt.gateway.UnregisterDivert(d.UniqueName) },
		func(d broker.DivertInfo) error { return rt.gateway.RegisterDivert(broker.NewMemoryDivert(d)) }))
	add(reconcile(prev.Acceptors, next.Acceptors, func(a broker.AcceptorInfo) string { return a.Name },
		func(a broker.AcceptorInfo) error { return rt.gateway.UnregisterAcceptor(a.Name) },
		func(a broker.AcceptorInfo) error {
			acc := broker.NewMemoryAcceptor(a)
			if err := acc.Start(); err != nil {
				return err
			}
			return rt.gateway.RegisterAcceptor(acc)
		}))

	// Queues leave before their addresses and arrive after them.
	add(reconcile(prev.Queues, next.Queues, func(q broker.QueueInfo) string { return q.Name },
		rt.removeQueue, nil))
	add(reconcile(prev.Addresses, next.Addresses, func(a config.AddressConfig) string { return a.Name },
		func(a config.AddressConfig) error { return rt.removeAddress(a.Name, next) },
		func(a config.AddressConfig) error { return rt.ensureAddress(a.Name, a.Routing...) }))
	add(reconcile(prev.Queues, next.Queues, func(q broker.QueueInfo) string { return q.Name },
		nil, rt.addQueue))
	add(rt.pruneAutoAddresses(next))

	rt.resources = next
	return errors.Join(errs...)
}

// reconcile calls remove for entries of prev that are gone or changed in
// next, then add for entries of next that are new or changed. Either
// callback may be nil.
func reconcile[T any](prev, next []T, name func(T) string, remove, add func(T) error) error {
	want := make(map[string]T, len(next))
	for _, v := range next {
		want[name(v)] = v
	}
	have := make(map[string]T, len(prev))
	for _, v := range prev {
		have[name(v)] = v
	}

	var errs []error
	if remove != nil {
		for _, v := range prev {
			if w, ok := want[name(v)]; ok && reflect.DeepEqual(v, w) {
				continue
			}
			if err := remove(v); err != nil {
				errs = append(errs, fmt.Errorf("remove %q: %w", name(v), err))
			}
		}
	}
	if add != nil {
		for _, v := range next {
			if h, ok := have[name(v)]; ok && reflect.DeepEqual(v, h) {
				continue
			}
			if err := add(v); err != nil {
				errs = append(errs, fmt.Errorf("add %q: %w", name(v), err))
			}
		}
	}
	return errors.Join(errs...)
}

func (rt *brokerRuntime) ensureAddress(name string, routing ...broker.RoutingType) error {
	a, created := rt.broker.CreateAddress(name, routing...)
	if !created {
		return nil
	}
	return rt.gateway.RegisterAddress(a)
}

// removeAddress keeps addresses that a remaining queue is bound to.
func (rt *brokerRuntime) removeAddress(name string, next config.ResourcesConfig) error {
	for _, q := range next.Queues {
		if q.Address == name {
			return nil
		}
	}
	if _, ok := rt.broker.DeleteAddress(name); !ok {
		return nil
	}
	return rt.gateway.UnregisterAddress(name)
}

func (rt *brokerRuntime) addQueue(info broker.QueueInfo) error {
	if _, ok := rt.broker.Address(info.Address); !ok {
		if err := rt.ensureAddress(info.Address, info.RoutingType); err != nil {
			return err
		}
		rt.autoAddresses[info.Address] = true
		rt.logger.Info("address_auto_created",
			slog.String("address", info.Address),
			slog.String("queue", info.Name),
		)
	}
	q, err := rt.broker.CreateQueue(info)
	if err != nil {
		return err
	}
	return rt.gateway.RegisterQueue(q)
}

// pruneAutoAddresses drops auto-created addresses that neither a queue
// nor an address entry of next still needs.
func (rt *brokerRuntime) pruneAutoAddresses(next config.ResourcesConfig) error {
	needed := make(map[string]bool, len(next.Addresses)+len(next.Queues))
	for _, a := range next.Addresses {
		needed[a.Name] = true
		delete(rt.autoAddresses, a.Name)
	}
	for _, q := range next.Queues {
		needed[q.Address] = true
	}
	var errs []error
	for name := range rt.autoAddresses {
		if needed[name] {
			continue
		}
		delete(rt.autoAddresses, name)
		if _, ok := rt.broker.DeleteAddress(name); !ok {
			continue
		}
		if err := rt.gateway.UnregisterAddress(name); err != nil {
			errs = append(errs, fmt.Errorf("remove %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (rt *brokerRuntime) removeQueue(info broker.QueueInfo) error {
	if _, ok := rt.broker.DeleteQueue(info.Name); !ok {
		return nil
	}
	return rt.gateway.UnregisterQueue(info.Name)
}

// addClusterConnection also registers one remote broker connection per
// cluster member.
func (rt *brokerRuntime) addClusterConnection(info broker.ClusterConnectionInfo) error {
	cc := broker.NewMemoryClusterConnection(info)
	if err := cc.Start(); err != nil {
		return err
	}
	if err := rt.gateway.RegisterClusterConnection(cc); err != nil {
		return err
	}
	var errs []error
	for _, nodeID := range sortedKeys(info.Nodes) {
		rc := broker.NewMemoryRemoteBrokerConnection(broker.RemoteBrokerConnectionInfo{
			NodeID:   nodeID,
			Name:     info.Name,
			Protocol: remoteProtocol,
		})
		if err := rt.gateway.RegisterRemoteBrokerConnection(rc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (rt *brokerRuntime) removeClusterConnection(info broker.ClusterConnectionInfo) error {
	var errs []error
	for _, nodeID := range sortedKeys(info.Nodes) {
		if err := rt.gateway.UnregisterRemoteBrokerConnection(nodeID, info.Name); err != nil {
			errs = append(errs, err)
		}
	}
	if err := rt.gateway.UnregisterClusterConnection(info.Name); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// close stops housekeeping, drains pending notifications and closes the
// journal. The broker stops last so late reads still see its state.
func (rt *brokerRuntime) close(ctx context.Context) error {
	var errs []error
	if err := rt.gateway.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("gateway: %w", err))
	}
	if rt.dispatcher != nil {
		if err := rt.dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("notifications: %w", err))
		}
	}
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
	}
	rt.broker.Stop()
	return errors.Join(errs...)
}

func (rt *brokerRuntime) objects(match string) []exposure.Entry {
	if rt.directory == nil {
		return nil
	}
	return rt.directory.List(strings.TrimSpace(match))
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
