// Package registry tracks every live management control by kind and name.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/nuetzliches/brokeradmin/internal/control"
	"github.com/nuetzliches/brokeradmin/internal/resource"
)

type table interface {
	get(name string) (control.Control, bool)
	remove(name string) (control.Control, bool)
	list(pred func(control.Control) bool) []control.Control
	count() int
	names() []string
	clear()
}

// Registry holds one map per resource kind, the broker and security
// singletons, and the untyped map keyed by literal name. No operation spans
// more than one kind.
type Registry struct {
	logger *slog.Logger

	broker                  *Slot[*control.Broker]
	security                *Slot[*control.Security]
	addresses               *Map[*control.Address]
	queues                  *Map[*control.Queue]
	acceptors               *Map[*control.Acceptor]
	broadcastGroups         *Map[*control.BroadcastGroup]
	brokerConnections       *Map[*control.BrokerConnection]
	remoteBrokerConnections *Map[*control.RemoteBrokerConnection]
	bridges                 *Map[*control.Bridge]
	clusterConnections      *Map[*control.ClusterConnection]
	connectionRouters       *Map[*control.ConnectionRouter]
	diverts                 *Map[*control.Divert]
	untyped                 *Map[*control.Opaque]

	tables map[resource.Kind]table
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:                  logger,
		broker:                  NewSlot[*control.Broker](resource.KindBroker, logger),
		security:                NewSlot[*control.Security](resource.KindSecurity, logger),
		addresses:               NewMap[*control.Address](resource.KindAddress, logger),
		queues:                  NewMap[*control.Queue](resource.KindQueue, logger),
		acceptors:               NewMap[*control.Acceptor](resource.KindAcceptor, logger),
		broadcastGroups:         NewMap[*control.BroadcastGroup](resource.KindBroadcastGroup, logger),
		brokerConnections:       NewMap[*control.BrokerConnection](resource.KindBrokerConnection, logger),
		remoteBrokerConnections: NewMap[*control.RemoteBrokerConnection](resource.KindRemoteBrokerConnection, logger),
		bridges:                 NewMap[*control.Bridge](resource.KindBridge, logger),
		clusterConnections:      NewMap[*control.ClusterConnection](resource.KindClusterConnection, logger),
		connectionRouters:       NewMap[*control.ConnectionRouter](resource.KindConnectionRouter, logger),
		diverts:                 NewMap[*control.Divert](resource.KindDivert, logger),
		untyped:                 NewMap[*control.Opaque](resource.KindUntyped, logger),
	}
	r.tables = map[resource.Kind]table{
		resource.KindBroker:                 r.broker,
		resource.KindSecurity:               r.security,
		resource.KindAddress:                r.addresses,
		resource.KindQueue:                  r.queues,
		resource.KindAcceptor:               r.acceptors,
		resource.KindBroadcastGroup:         r.broadcastGroups,
		resource.KindBrokerConnection:       r.brokerConnections,
		resource.KindRemoteBrokerConnection: r.remoteBrokerConnections,
		resource.KindBridge:                 r.bridges,
		resource.KindClusterConnection:      r.clusterConnections,
		resource.KindConnectionRouter:       r.connectionRouters,
		resource.KindDivert:                 r.diverts,
		resource.KindUntyped:                r.untyped,
	}
	return r
}

func (r *Registry) Broker() *Slot[*control.Broker]     { return r.broker }
func (r *Registry) Security() *Slot[*control.Security] { return r.security }
func (r *Registry) Addresses() *Map[*control.Address]  { return r.addresses }
func (r *Registry) Queues() *Map[*control.Queue]       { return r.queues }
func (r *Registry) Acceptors() *Map[*control.Acceptor] { return r.acceptors }
func (r *Registry) Bridges() *Map[*control.Bridge]     { return r.bridges }
func (r *Registry) Diverts() *Map[*control.Divert]     { return r.diverts }
func (r *Registry) Untyped() *Map[*control.Opaque]     { return r.untyped }
func (r *Registry) BroadcastGroups() *Map[*control.BroadcastGroup] {
	return r.broadcastGroups
}
func (r *Registry) BrokerConnections() *Map[*control.BrokerConnection] {
	return r.brokerConnections
}
func (r *Registry) RemoteBrokerConnections() *Map[*control.RemoteBrokerConnection] {
	return r.remoteBrokerConnections
}
func (r *Registry) ClusterConnections() *Map[*control.ClusterConnection] {
	return r.clusterConnections
}
func (r *Registry) ConnectionRouters() *Map[*control.ConnectionRouter] {
	return r.connectionRouters
}

// Register stores c in the map of its variant under c.Name(). Controls of
// an unknown concrete type are wrapped as untyped under their composite
// name when they report the untyped kind and are dropped otherwise.
func (r *Registry) Register(c control.Control) (control.Control, bool) {
	switch x := c.(type) {
	case *control.Broker:
		return erase(r.broker.Register(x))
	case *control.Security:
		return erase(r.security.Register(x))
	case *control.Address:
		return erase(r.addresses.Register(x.Name(), x))
	case *control.Queue:
		return erase(r.queues.Register(x.Name(), x))
	case *control.Acceptor:
		return erase(r.acceptors.Register(x.Name(), x))
	case *control.BroadcastGroup:
		return erase(r.broadcastGroups.Register(x.Name(), x))
	case *control.BrokerConnection:
		return erase(r.brokerConnections.Register(x.Name(), x))
	case *control.RemoteBrokerConnection:
		return erase(r.remoteBrokerConnections.Register(x.Name(), x))
	case *control.Bridge:
		return erase(r.bridges.Register(x.Name(), x))
	case *control.ClusterConnection:
		return erase(r.clusterConnections.Register(x.Name(), x))
	case *control.ConnectionRouter:
		return erase(r.connectionRouters.Register(x.Name(), x))
	case *control.Divert:
		return erase(r.diverts.Register(x.Name(), x))
	case *control.Opaque:
		return erase(r.untyped.Register(x.Name(), x))
	default:
		// A foreign control claiming a typed kind could never be reached
		// through GetByName, which dispatches that prefix to the typed map.
		if c == nil || c.Kind() != resource.KindUntyped {
			r.logger.Warn("register_rejected",
				slog.String("kind", kindOf(c)),
				slog.String("type", fmt.Sprintf("%T", c)),
			)
			return nil, false
		}
		name := control.ResourceName(c)
		return erase(r.untyped.Register(name, control.NewOpaque(name, c, "")))
	}
}

func erase[C control.Control](c C, ok bool) (control.Control, bool) {
	if !ok {
		return nil, false
	}
	return c, true
}

func (r *Registry) Unregister(kind resource.Kind, name string) (control.Control, bool) {
	t, ok := r.tables[kind]
	if !ok {
		return nil, false
	}
	return t.remove(name)
}

func (r *Registry) Get(kind resource.Kind, name string) (control.Control, bool) {
	t, ok := r.tables[kind]
	if !ok {
		return nil, false
	}
	return t.get(name)
}

// GetByName resolves a composite resource name. Names without a known
// prefix are looked up in the untyped map by the full name.
func (r *Registry) GetByName(composite string) (control.Control, bool) {
	kind, name := resource.ParseName(composite)
	return r.Get(kind, name)
}

func (r *Registry) List(kind resource.Kind) []control.Control {
	return r.ListFunc(kind, nil)
}

func (r *Registry) ListFunc(kind resource.Kind, pred func(control.Control) bool) []control.Control {
	t, ok := r.tables[kind]
	if !ok {
		return nil
	}
	return t.list(pred)
}

func (r *Registry) Count(kind resource.Kind) int {
	t, ok := r.tables[kind]
	if !ok {
		return 0
	}
	return t.count()
}

func (r *Registry) Names(kind resource.Kind) []string {
	t, ok := r.tables[kind]
	if !ok {
		return nil
	}
	return t.names()
}

// Counts samples every kind. Kinds are read one after another, so the
// result is not a consistent cut across kinds.
func (r *Registry) Counts() map[resource.Kind]int {
	out := make(map[resource.Kind]int, len(r.tables))
	for kind, t := range r.tables {
		out[kind] = t.count()
	}
	return out
}

// Clear empties every map and both singleton slots, one kind at a time.
// No lock spans kinds, so a registration racing Clear may survive it.
// It is meant for shutdown, after registrations have stopped.
func (r *Registry) Clear() {
	for _, kind := range resource.Kinds {
		if t, ok := r.tables[kind]; ok {
			t.clear()
		}
	}
	r.logger.Debug("registry_cleared")
}

func kindOf(c control.Control) string {
	if c == nil {
		return ""
	}
	return string(c.Kind())
}
