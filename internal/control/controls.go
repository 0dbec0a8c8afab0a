package control

import (
	"context"
	"log/slog"
	"sort"

	"github.com/nuetzliches/brokeradmin/internal/broker"
	"github.com/nuetzliches/brokeradmin/internal/resource"
	"github.com/nuetzliches/brokeradmin/internal/security"
	"github.com/nuetzliches/brokeradmin/internal/view"
)

// Broker is the control of the broker singleton.
type Broker struct {
	srv    broker.Server
	logger *slog.Logger
}

func NewBroker(srv broker.Server, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{srv: srv, logger: logger}
}

func (b *Broker) Server() broker.Server { return b.srv }
func (b *Broker) Kind() resource.Kind   { return resource.KindBroker }
func (b *Broker) Name() string          { return "" }

func (b *Broker) Attribute(name string) (any, error) { return brokerTable.get(b, name) }
func (b *Broker) Invoke(ctx context.Context, name string, params []any) (any, error) {
	return brokerTable.invoke(ctx, b, name, params)
}
func (b *Broker) Attributes() []string { return brokerTable.attributeNames() }
func (b *Broker) Operations() []string { return brokerTable.operationNames() }

// Query runs a paged view query over one entity collection of the broker.
func (b *Broker) Query(entity, options string, page, pageSize int) ([]byte, error) {
	return view.Query(b.srv, entity, options, page, pageSize, b.logger)
}

func listOp(entity string) func(context.Context, *Broker, Args) (any, error) {
	return func(_ context.Context, b *Broker, args Args) (any, error) {
		options, err := args.String(0)
		if err != nil {
			return nil, err
		}
		page, err := args.Int(1, -1)
		if err != nil {
			return nil, err
		}
		pageSize, err := args.Int(2, -1)
		if err != nil {
			return nil, err
		}
		out, err := b.Query(entity, options, page, pageSize)
		if err != nil {
			return nil, err
		}
		return string(out), nil
	}
}

var brokerTable = newTable[*Broker](resource.KindBroker).
	attr("name", func(b *Broker) any { return b.srv.Info().Name }).
	attr("version", func(b *Broker) any { return b.srv.Info().Version }).
	attr("nodeID", func(b *Broker) any { return b.srv.Info().NodeID }).
	attr("started", func(b *Broker) any { return b.srv.Info().Started }).
	attr("startedAt", func(b *Broker) any { return b.srv.Info().StartedAt.UnixMilli() }).
	attr("addressCount", func(b *Broker) any { return len(b.srv.Addresses()) }).
	attr("queueCount", func(b *Broker) any { return len(b.srv.Queues()) }).
	attr("connectionCount", func(b *Broker) any { return len(b.srv.Connections()) }).
	attr("consumerCount", func(b *Broker) any { return len(b.srv.Consumers()) }).
	attr("producerCount", func(b *Broker) any { return len(b.srv.Producers()) }).
	attr("addressNames", func(b *Broker) any {
		out := []string{}
		for _, a := range b.srv.Addresses() {
			out = append(out, a.Name)
		}
		sort.Strings(out)
		return out
	}).
	attr("queueNames", func(b *Broker) any {
		out := []string{}
		for _, q := range b.srv.Queues() {
			out = append(out, q.Name)
		}
		sort.Strings(out)
		return out
	}).
	op("listAddresses", 0, 3, listOp(view.EntityAddress)).
	op("listQueues", 0, 3, listOp(view.EntityQueue)).
	op("listConnections", 0, 3, listOp(view.EntityConnection)).
	op("listConsumers", 0, 3, listOp(view.EntityConsumer)).
	op("listProducers", 0, 3, listOp(view.EntityProducer))

type Address struct {
	live broker.Address
	name string
}

func NewAddress(a broker.Address) *Address {
	return &Address{live: a, name: a.Info().Name}
}

func (a *Address) Live() broker.Address { return a.live }
func (a *Address) Kind() resource.Kind  { return resource.KindAddress }
func (a *Address) Name() string         { return a.name }

func (a *Address) Attribute(name string) (any, error) { return addressTable.get(a, name) }
func (a *Address) Invoke(ctx context.Context, name string, params []any) (any, error) {
	return addressTable.invoke(ctx, a, name, params)
}
func (a *Address) Attributes() []string { return addressTable.attributeNames() }
func (a *Address) Operations() []string { return addressTable.operationNames() }

var addressTable = newTable[*Address](resource.KindAddress).
	attr("id", func(a *Address) any { return a.live.Info().ID }).
	attr("name", func(a *Address) any { return a.name }).
	attr("routingTypes", func(a *Address) any { return routingTypeNames(a.live.Info().RoutingTypes) }).
	attr("queueNames", func(a *Address) any { return append([]string{}, a.live.Info().QueueNames...) }).
	attr("internal", func(a *Address) any { return a.live.Info().Internal }).
	attr("temporary", func(a *Address) any { return a.live.Info().Temporary }).
	attr("autoCreated", func(a *Address) any { return a.live.Info().AutoCreated }).
	attr("paused", func(a *Address) any { return a.live.Info().Paused }).
	attr("messageCount", func(a *Address) any { return a.live.Info().MessageCount }).
	attr("addressSize", func(a *Address) any { return a.live.Info().Size }).
	action("pause", func(a *Address) error { return a.live.Pause() }).
	action("resume", func(a *Address) error { return a.live.Resume() }).
	op("isPaused", 0, 0, func(_ context.Context, a *Address, _ Args) (any, error) { return a.live.Info().Paused, nil })

type Queue struct {
	live broker.Queue
	name string
}

func NewQueue(q broker.Queue) *Queue {
	return &Queue{live: q, name: q.Info().Name}
}

func (q *Queue) Live() broker.Queue  { return q.live }
func (q *Queue) Kind() resource.Kind { return resource.KindQueue }
func (q *Queue) Name() string        { return q.name }

func (q *Queue) Attribute(name string) (any, error) { return queueTable.get(q, name) }
func (q *Queue) Invoke(ctx context.Context, name string, params []any) (any, error) {
	return queueTable.invoke(ctx, q, name, params)
}
func (q *Queue) Attributes() []string { return queueTable.attributeNames() }
func (q *Queue) Operations() []string { return queueTable.operationNames() }

var queueTable = newTable[*Queue](resource.KindQueue).
	attr("id", func(q *Queue) any { return q.live.Info().ID }).
	attr("name", func(q *Queue) any { return q.name }).
	attr("address", func(q *Queue) any { return q.live.Info().Address }).
	attr("routingType", func(q *Queue) any { return string(q.live.Info().RoutingType) }).
	attr("filter", func(q *Queue) any { return q.live.Info().Filter }).
	attr("durable", func(q *Queue) any { return q.live.Info().Durable }).
	attr("temporary", func(q *Queue) any { return q.live.Info().Temporary }).
	attr("autoCreated", func(q *Queue) any { return q.live.Info().AutoCreated }).
	attr("autoDelete", func(q *Queue) any { return q.live.Info().AutoDelete }).
	attr("exclusive", func(q *Queue) any { return q.live.Info().Exclusive }).
	attr("lastValue", func(q *Queue) any { return q.live.Info().LastValue }).
	attr("paused", func(q *Queue) any { return q.live.Info().Paused }).
	attr("user", func(q *Queue) any { return q.live.Info().User }).
	attr("maxConsumers", func(q *Queue) any { return q.live.Info().MaxConsumers }).
	attr("consumerCount", func(q *Queue) any { return q.live.Info().ConsumerCount }).
	attr("messageCount", func(q *Queue) any { return q.live.Info().MessageCount }).
	attr("deliveringCount", func(q *Queue) any { return q.live.Info().DeliveringCount }).
	attr("scheduledCount", func(q *Queue) any { return q.live.Info().ScheduledCount }).
	attr("messagesAdded", func(q *Queue) any { return q.live.Info().MessagesAdded }).
	attr("messagesAcknowledged", func(q *Queue) any { return q.live.Info().MessagesAcknowledged }).
	attr("messagesExpired", func(q *Queue) any { return q.live.Info().MessagesExpired }).
	attr("messagesKilled", func(q *Queue) any { return q.live.Info().MessagesKilled }).
	action("pause", func(q *Queue) error { return q.live.Pause() }).
	action("resume", func(q *Queue) error { return q.live.Resume() }).
	op("isPaused", 0, 0, func(_ context.Context, q *Queue, _ Args) (any, error) { return q.live.Info().Paused, nil }).
	op("countMessages", 0, 0, func(_ context.Context, q *Queue, _ Args) (any, error) { return q.live.Info().MessageCount, nil }).
	op("removeAllMessages", 0, 0, func(_ context.Context, q *Queue, _ Args) (any, error) { return q.live.Purge() })

type Acceptor struct {
	live broker.Acceptor
	name string
}

func NewAcceptor(a broker.Acceptor) *Acceptor {
	return &Acceptor{live: a, name: a.Info().Name}
}

func (a *Acceptor) Live() broker.Acceptor { return a.live }
func (a *Acceptor) Kind() resource.Kind   { return resource.KindAcceptor }
func (a *Acceptor) Name() string          { return a.name }

func (a *Acceptor) Attribute(name string) (any, error) { return acceptorTable.get(a, name) }
func (a *Acceptor) Invoke(ctx context.Context, name string, params []any) (any, error) {
	return acceptorTable.invoke(ctx, a, name, params)
}
func (a *Acceptor) Attributes() []string { return acceptorTable.attributeNames() }
func (a *Acceptor) Operations() []string { return acceptorTable.operationNames() }

var acceptorTable = newTable[*Acceptor](resource.KindAcceptor).
	attr("name", func(a *Acceptor) any { return a.name }).
	attr("factoryClassName", func(a *Acceptor) any { return a.live.Info().Factory }).
	attr("protocols", func(a *Acceptor) any { return append([]string{}, a.live.Info().Protocols...) }).
	attr("parameters", func(a *Acceptor) any { return copyParams(a.live.Info().Params) }).
	attr("started", func(a *Acceptor) any { return a.live.Info().Started }).
	action("start", func(a *Acceptor) error { return a.live.Start() }).
	action("stop", func(a *Acceptor) error { return a.live.Stop() })

type BroadcastGroup struct {
	live broker.BroadcastGroup
	name string
}

func NewBroadcastGroup(g broker.BroadcastGroup) *BroadcastGroup {
	return &BroadcastGroup{live: g, name: g.Info().Name}
}

func (g *BroadcastGroup) Live() broker.BroadcastGroup { return g.live }
func (g *BroadcastGroup) Kind() resource.Kind         { return resource.KindBroadcastGroup }
func (g *BroadcastGroup) Name() string                { return g.name }

func (g *BroadcastGroup) Attribute(name string) (any, error) { return broadcastGroupTable.get(g, name) }
func (g *BroadcastGroup) Invoke(ctx context.Context, name string, params []any) (any, error) {
	return broadcastGroupTable.invoke(ctx, g, name, params)
}
func (g *BroadcastGroup) Attributes() []string { return broadcastGroupTable.attributeNames() }
func (g *BroadcastGroup) Operations() []string { return broadcastGroupTable.operationNames() }

var broadcastGroupTable = newTable[*BroadcastGroup](resource.KindBroadcastGroup).
	attr("name", func(g *BroadcastGroup) any { return g.name }).
	attr("connectorPairs", func(g *BroadcastGroup) any { return append([]string{}, g.live.Info().Connectors...) }).
	attr("broadcastPeriod", func(g *BroadcastGroup) any { return g.live.Info().BroadcastPeriod.Milliseconds() }).
	attr("started", func(g *BroadcastGroup) any { return g.live.Info().Started }).
	action("start", func(g *BroadcastGroup) error { return g.live.Start() }).
	action("stop", func(g *BroadcastGroup) error { return g.live.Stop() })

type BrokerConnection struct {
	live broker.BrokerConnection
	name string
}

func NewBrokerConnection(c broker.BrokerConnection) *BrokerConnection {
	return &BrokerConnection{live: c, name: c.Info().Name}
}

func (c *BrokerConnection) Live() broker.BrokerConnection { return c.live }
func (c *BrokerConnection) Kind() resource.Kind           { return resource.KindBrokerConnection }
func (c *BrokerConnection) Name() string                  { return c.name }

func (c *BrokerConnection) Attribute(name string) (any, error) {
	return brokerConnectionTable.get(c, name)
}
func (c *BrokerConnection) Invoke(ctx context.Context, name string, params []any) (any, error) {
	return brokerConnectionTable.invoke(ctx, c, name, params)
}
func (c *BrokerConnection) Attributes() []string { return brokerConnectionTable.attributeNames() }
func (c *BrokerConnection) Operations() []string { return brokerConnectionTable.operationNames() }

var brokerConnectionTable = newTable[*BrokerConnection](resource.KindBrokerConnection).
	attr("name", func(c *BrokerConnection) any { return c.name }).
	attr("protocol", func(c *BrokerConnection) any { return c.live.Info().Protocol }).
	attr("uri", func(c *BrokerConnection) any { return c.live.Info().URI }).
	attr("started", func(c *BrokerConnection) any { return c.live.Info().Started }).
	attr("connected", func(c *BrokerConnection) any { return c.live.Info().Connected }).
	action("start", func(c *BrokerConnection) error { return c.live.Start() }).
	action("stop", func(c *BrokerConnection) error { return c.live.Stop() })

// RemoteBrokerConnection is keyed by "nodeID.name" since several remote
// nodes may open connections with the same name.
type RemoteBrokerConnection struct {
	live broker.RemoteBrokerConnection
	name string
}

func NewRemoteBrokerConnection(c broker.RemoteBrokerConnection) *RemoteBrokerConnection {
	info := c.Info()
	return &RemoteBrokerConnection{live: c, name: RemoteBrokerConnectionName(info.NodeID, info.Name)}
}

func RemoteBrokerConnectionName(nodeID, name string) string {
	return nodeID + "." + name
}

func (c *RemoteBrokerConnection) Live() broker.RemoteBrokerConnection { return c.live }
func (c *RemoteBrokerConnection) Kind() resource.Kind {
	return resource.KindRemoteBrokerConnection
}
func (c *RemoteBrokerConnection) Name() string { return c.name }

func (c *RemoteBrokerConnection) Attribute(name string) (any, error) {
	return remoteBrokerConnectionTable.get(c, name)
}
func (c *RemoteBrokerConnection) Invoke(ctx context.Context, name string, params []any) (any, error) {
	return remoteBrokerConnectionTable.invoke(ctx, c, name, params)
}
func (c *RemoteBrokerConnection) Attributes() []string {
	return remoteBrokerConnectionTable.attributeNames()
}
func (c *RemoteBrokerConnection) Operations() []string {
	return remoteBrokerConnectionTable.operationNames()
}

var remoteBrokerConnectionTable = newTable[*RemoteBrokerConnection](resource.KindRemoteBrokerConnection).
	attr("nodeID", func(c *RemoteBrokerConnection) any { return c.live.Info().NodeID }).
	attr("name", func(c *RemoteBrokerConnection) any { return c.live.Info().Name }).
	attr("protocol", func(c *RemoteBrokerConnection) any { return c.live.Info().Protocol })

type Bridge struct {
	live broker.Bridge
	name string
}

func NewBridge(b broker.Bridge) *Bridge {
	return &Bridge{live: b, name: b.Info().Name}
}

func (b *Bridge) Live() broker.Bridge { return b.live }
func (b *Bridge) Kind() resource.Kind { return resource.KindBridge }
func (b *Bridge) Name() string        { return b.name }

func (b *Bridge) Attribute(name string) (any, error) { return bridgeTable.get(b, name) }
func (b *Bridge) Invoke(ctx context.Context, name string, params []any) (any, error) {
	return bridgeTable.invoke(ctx, b, name, params)
}
func (b *Bridge) Attributes() []string { return bridgeTable.attributeNames() }
func (b *Bridge) Operations() []string { return bridgeTable.operationNames() }

var bridgeTable = newTable[*Bridge](resource.KindBridge).
	attr("name", func(b *Bridge) any { return b.name }).
	attr("queueName", func(b *Bridge) any { return b.live.Info().Queue }).
	attr("forwardingAddress", func(b *Bridge) any { return b.live.Info().ForwardingAddress }).
	attr("started", func(b *Bridge) any { return b.live.Info().Started }).
	attr("paused", func(b *Bridge) any { return b.live.Info().Paused }).
	attr("messagesPendingAcknowledgement", func(b *Bridge) any { return b.live.Info().MessagesPendingAcknowledgement }).
	attr("messagesAcknowledged", func(b *Bridge) any { return b.live.Info().MessagesAcknowledged }).
	action("start", func(b *Bridge) error { return b.live.Start() }).
	action("stop", func(b *Bridge) error { return b.live.Stop() }).
	action("pause", func(b *Bridge) error { return b.live.Pause() }).
	action("resume", func(b *Bridge) error { return b.live.Resume() })

type ClusterConnection struct {
	live broker.ClusterConnection
	name string
}

func NewClusterConnection(c broker.ClusterConnection) *ClusterConnection {
	return &ClusterConnection{live: c, name: c.Info().Name}
}

func (c *ClusterConnection) Live() broker.ClusterConnection { return c.live }
func (c *ClusterConnection) Kind() resource.Kind            { return resource.KindClusterConnection }
func (c *ClusterConnection) Name() string                   { return c.name }

func (c *ClusterConnection) Attribute(name string) (any, error) {
	return clusterConnectionTable.get(c, name)
}
func (c *ClusterConnection) Invoke(ctx context.Context, name string, params []any) (any, error) {
	return clusterConnectionTable.invoke(ctx, c, name, params)
}
func (c *ClusterConnection) Attributes() []string { return clusterConnectionTable.attributeNames() }
func (c *ClusterConnection) Operations() []string { return clusterConnectionTable.operationNames() }

var clusterConnectionTable = newTable[*ClusterConnection](resource.KindClusterConnection).
	attr("name", func(c *ClusterConnection) any { return c.name }).
	attr("address", func(c *ClusterConnection) any { return c.live.Info().Address }).
	attr("nodeID", func(c *ClusterConnection) any { return c.live.Info().NodeID }).
	attr("started", func(c *ClusterConnection) any { return c.live.Info().Started }).
	attr("nodes", func(c *ClusterConnection) any { return copyParams(c.live.Info().Nodes) }).
	action("start", func(c *ClusterConnection) error { return c.live.Start() }).
	action("stop", func(c *ClusterConnection) error { return c.live.Stop() })

type ConnectionRouter struct {
	live broker.ConnectionRouter
	name string
}

func NewConnectionRouter(r broker.ConnectionRouter) *ConnectionRouter {
	return &ConnectionRouter{live: r, name: r.Info().Name}
}

func (r *ConnectionRouter) Live() broker.ConnectionRouter { return r.live }
func (r *ConnectionRouter) Kind() resource.Kind           { return resource.KindConnectionRouter }
func (r *ConnectionRouter) Name() string                  { return r.name }

func (r *ConnectionRouter) Attribute(name string) (any, error) {
	return connectionRouterTable.get(r, name)
}
func (r *ConnectionRouter) Invoke(ctx context.Context, name string, params []any) (any, error) {
	return connectionRouterTable.invoke(ctx, r, name, params)
}
func (r *ConnectionRouter) Attributes() []string { return connectionRouterTable.attributeNames() }
func (r *ConnectionRouter) Operations() []string { return connectionRouterTable.operationNames() }

var connectionRouterTable = newTable[*ConnectionRouter](resource.KindConnectionRouter).
	attr("name", func(r *ConnectionRouter) any { return r.name }).
	attr("key", func(r *ConnectionRouter) any { return r.live.Info().Key }).
	attr("localTargetEnabled", func(r *ConnectionRouter) any { return r.live.Info().LocalTargetEnabled }).
	op("getTarget", 1, 1, func(_ context.Context, r *ConnectionRouter, args Args) (any, error) {
		key, err := args.String(0)
		if err != nil {
			return nil, err
		}
		return r.live.Target(key)
	})

type Divert struct {
	live broker.Divert
	name string
}

func NewDivert(d broker.Divert) *Divert {
	return &Divert{live: d, name: d.Info().UniqueName}
}

func (d *Divert) Live() broker.Divert { return d.live }
func (d *Divert) Kind() resource.Kind { return resource.KindDivert }
func (d *Divert) Name() string        { return d.name }

func (d *Divert) Attribute(name string) (any, error) { return divertTable.get(d, name) }
func (d *Divert) Invoke(ctx context.Context, name string, params []any) (any, error) {
	return divertTable.invoke(ctx, d, name, params)
}
func (d *Divert) Attributes() []string { return divertTable.attributeNames() }
func (d *Divert) Operations() []string { return divertTable.operationNames() }

var divertTable = newTable[*Divert](resource.KindDivert).
	attr("uniqueName", func(d *Divert) any { return d.name }).
	attr("routingName", func(d *Divert) any { return d.live.Info().RoutingName }).
	attr("address", func(d *Divert) any { return d.live.Info().Address }).
	attr("forwardingAddress", func(d *Divert) any { return d.live.Info().ForwardingAddress }).
	attr("exclusive", func(d *Divert) any { return d.live.Info().Exclusive }).
	attr("filter", func(d *Divert) any { return d.live.Info().Filter }).
	attr("routingType", func(d *Divert) any { return string(d.live.Info().RoutingType) })

// Security is the control of the management security singleton.
type Security struct {
	authorizer security.Authorizer
}

func NewSecurity(a security.Authorizer) *Security {
	if a == nil {
		a = security.AllowAll
	}
	return &Security{authorizer: a}
}

func (s *Security) Kind() resource.Kind { return resource.KindSecurity }
func (s *Security) Name() string        { return "" }

func (s *Security) Attribute(name string) (any, error) { return securityTable.get(s, name) }
func (s *Security) Invoke(ctx context.Context, name string, params []any) (any, error) {
	return securityTable.invoke(ctx, s, name, params)
}
func (s *Security) Attributes() []string { return securityTable.attributeNames() }
func (s *Security) Operations() []string { return securityTable.operationNames() }

// CanInvoke reports whether the subject carried by ctx may call member on
// resourceName. An empty member asks for read access to the resource.
func (s *Security) CanInvoke(ctx context.Context, resourceName, member string) bool {
	if member == "" {
		member = security.AttributeMember("")
	}
	subject, _ := security.SubjectFrom(ctx)
	return s.authorizer.Authorize(ctx, subject, resourceName, member)
}

type policyHolder interface {
	Policy() *security.Policy
}

var securityTable = newTable[*Security](resource.KindSecurity).
	attr("securityEnabled", func(s *Security) any {
		if h, ok := s.authorizer.(policyHolder); ok {
			return !h.Policy().Open
		}
		return s.authorizer != security.AllowAll
	}).
	op("canInvoke", 1, 2, func(ctx context.Context, s *Security, args Args) (any, error) {
		res, err := args.String(0)
		if err != nil {
			return nil, err
		}
		member, err := args.String(1)
		if err != nil {
			return nil, err
		}
		return s.CanInvoke(ctx, res, member), nil
	})

func routingTypeNames(in []broker.RoutingType) []string {
	out := make([]string, len(in))
	for i, rt := range in {
		out[i] = string(rt)
	}
	return out
}

func copyParams(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
