package management

import (
	"errors"

	"github.com/nuetzliches/brokeradmin/internal/broker"
	"github.com/nuetzliches/brokeradmin/internal/control"
	"github.com/nuetzliches/brokeradmin/internal/resource"
	"github.com/nuetzliches/brokeradmin/internal/security"
)

var errNilResource = errors.New("nil resource")

// Broker singleton.

func (g *Gateway) RegisterServer(srv broker.Server) (*control.Broker, error) {
	if srv == nil {
		return nil, errNilResource
	}
	c := control.NewBroker(srv, g.logger)
	if err := g.register(c, g.handles.Broker()); err != nil {
		return nil, err
	}
	return c, nil
}

func (g *Gateway) UnregisterServer() error {
	return g.unregister(resource.KindBroker, "")
}

func (g *Gateway) BrokerControl() *control.Broker {
	c, _ := g.reg.Broker().Get()
	return c
}

// Security singleton.

func (g *Gateway) RegisterSecurity(a security.Authorizer) (*control.Security, error) {
	c := control.NewSecurity(a)
	if err := g.register(c, g.handles.Security()); err != nil {
		return nil, err
	}
	return c, nil
}

func (g *Gateway) UnregisterSecurity() error {
	return g.unregister(resource.KindSecurity, "")
}

func (g *Gateway) SecurityControl() *control.Security {
	c, _ := g.reg.Security().Get()
	return c
}

// Addresses.

func (g *Gateway) RegisterAddress(a broker.Address) error {
	if a == nil {
		return errNilResource
	}
	c := control.NewAddress(a)
	return g.register(c, g.handles.Address(c.Name()))
}

func (g *Gateway) UnregisterAddress(name string) error {
	return g.unregister(resource.KindAddress, name)
}

func (g *Gateway) AddressControl(name string) *control.Address {
	c, _ := g.reg.Addresses().Get(name)
	return c
}

func (g *Gateway) AddressControls(pred func(*control.Address) bool) []*control.Address {
	return g.reg.Addresses().List(pred)
}

func (g *Gateway) AddressControlCount() int      { return g.reg.Addresses().Count() }
func (g *Gateway) AddressControlNames() []string { return g.reg.Addresses().Names() }

// Queues.

func (g *Gateway) RegisterQueue(q broker.Queue) error {
	if q == nil {
		return errNilResource
	}
	info := q.Info()
	c := control.NewQueue(q)
	return g.register(c, g.handles.Queue(info.Address, info.Name, string(info.RoutingType)))
}

func (g *Gateway) UnregisterQueue(name string) error {
	return g.unregister(resource.KindQueue, name)
}

func (g *Gateway) QueueControl(name string) *control.Queue {
	c, _ := g.reg.Queues().Get(name)
	return c
}

func (g *Gateway) QueueControls(pred func(*control.Queue) bool) []*control.Queue {
	return g.reg.Queues().List(pred)
}

func (g *Gateway) QueueControlCount() int      { return g.reg.Queues().Count() }
func (g *Gateway) QueueControlNames() []string { return g.reg.Queues().Names() }

// Acceptors.

func (g *Gateway) RegisterAcceptor(a broker.Acceptor) error {
	if a == nil {
		return errNilResource
	}
	c := control.NewAcceptor(a)
	return g.register(c, g.handles.Acceptor(c.Name()))
}

func (g *Gateway) UnregisterAcceptor(name string) error {
	return g.unregister(resource.KindAcceptor, name)
}

// UnregisterAcceptors removes every registered acceptor.
func (g *Gateway) UnregisterAcceptors() {
	for _, name := range g.reg.Acceptors().Names() {
		_ = g.UnregisterAcceptor(name)
	}
}

func (g *Gateway) AcceptorControl(name string) *control.Acceptor {
	c, _ := g.reg.Acceptors().Get(name)
	return c
}

func (g *Gateway) AcceptorControls(pred func(*control.Acceptor) bool) []*control.Acceptor {
	return g.reg.Acceptors().List(pred)
}

// Diverts.

func (g *Gateway) RegisterDivert(d broker.Divert) error {
	if d == nil {
		return errNilResource
	}
	info := d.Info()
	c := control.NewDivert(d)
	return g.register(c, g.handles.Divert(info.UniqueName, info.Address))
}

func (g *Gateway) UnregisterDivert(name string) error {
	return g.unregister(resource.KindDivert, name)
}

func (g *Gateway) DivertControl(name string) *control.Divert {
	c, _ := g.reg.Diverts().Get(name)
	return c
}

func (g *Gateway) DivertControls(pred func(*control.Divert) bool) []*control.Divert {
	return g.reg.Diverts().List(pred)
}

// Broadcast groups.

func (g *Gateway) RegisterBroadcastGroup(b broker.BroadcastGroup) error {
	if b == nil {
		return errNilResource
	}
	c := control.NewBroadcastGroup(b)
	return g.register(c, g.handles.BroadcastGroup(c.Name()))
}

func (g *Gateway) UnregisterBroadcastGroup(name string) error {
	return g.unregister(resource.KindBroadcastGroup, name)
}

func (g *Gateway) BroadcastGroupControl(name string) *control.BroadcastGroup {
	c, _ := g.reg.BroadcastGroups().Get(name)
	return c
}

func (g *Gateway) BroadcastGroupControls(pred func(*control.BroadcastGroup) bool) []*control.BroadcastGroup {
	return g.reg.BroadcastGroups().List(pred)
}

// Bridges.

func (g *Gateway) RegisterBridge(b broker.Bridge) error {
	if b == nil {
		return errNilResource
	}
	c := control.NewBridge(b)
	return g.register(c, g.handles.Bridge(c.Name()))
}

func (g *Gateway) UnregisterBridge(name string) error {
	return g.unregister(resource.KindBridge, name)
}

func (g *Gateway) BridgeControl(name string) *control.Bridge {
	c, _ := g.reg.Bridges().Get(name)
	return c
}

func (g *Gateway) BridgeControls(pred func(*control.Bridge) bool) []*control.Bridge {
	return g.reg.Bridges().List(pred)
}

// Cluster connections.

func (g *Gateway) RegisterClusterConnection(cc broker.ClusterConnection) error {
	if cc == nil {
		return errNilResource
	}
	c := control.NewClusterConnection(cc)
	return g.register(c, g.handles.ClusterConnection(c.Name()))
}

func (g *Gateway) UnregisterClusterConnection(name string) error {
	return g.unregister(resource.KindClusterConnection, name)
}

func (g *Gateway) ClusterConnectionControl(name string) *control.ClusterConnection {
	c, _ := g.reg.ClusterConnections().Get(name)
	return c
}

func (g *Gateway) ClusterConnectionControls(pred func(*control.ClusterConnection) bool) []*control.ClusterConnection {
	return g.reg.ClusterConnections().List(pred)
}

// Connection routers.

func (g *Gateway) RegisterConnectionRouter(r broker.ConnectionRouter) error {
	if r == nil {
		return errNilResource
	}
	c := control.NewConnectionRouter(r)
	return g.register(c, g.handles.ConnectionRouter(c.Name()))
}

func (g *Gateway) UnregisterConnectionRouter(name string) error {
	return g.unregister(resource.KindConnectionRouter, name)
}

func (g *Gateway) ConnectionRouterControl(name string) *control.ConnectionRouter {
	c, _ := g.reg.ConnectionRouters().Get(name)
	return c
}

func (g *Gateway) ConnectionRouterControls(pred func(*control.ConnectionRouter) bool) []*control.ConnectionRouter {
	return g.reg.ConnectionRouters().List(pred)
}

// Broker connections.

func (g *Gateway) RegisterBrokerConnection(bc broker.BrokerConnection) error {
	if bc == nil {
		return errNilResource
	}
	c := control.NewBrokerConnection(bc)
	return g.register(c, g.handles.BrokerConnection(c.Name()))
}

func (g *Gateway) UnregisterBrokerConnection(name string) error {
	return g.unregister(resource.KindBrokerConnection, name)
}

func (g *Gateway) BrokerConnectionControl(name string) *control.BrokerConnection {
	c, _ := g.reg.BrokerConnections().Get(name)
	return c
}

func (g *Gateway) BrokerConnectionControls(pred func(*control.BrokerConnection) bool) []*control.BrokerConnection {
	return g.reg.BrokerConnections().List(pred)
}

// Remote broker connections are keyed by node id and name.

func (g *Gateway) RegisterRemoteBrokerConnection(rc broker.RemoteBrokerConnection) error {
	if rc == nil {
		return errNilResource
	}
	info := rc.Info()
	c := control.NewRemoteBrokerConnection(rc)
	return g.register(c, g.handles.RemoteBrokerConnection(info.NodeID, info.Name))
}

func (g *Gateway) UnregisterRemoteBrokerConnection(nodeID, name string) error {
	return g.unregister(resource.KindRemoteBrokerConnection, control.RemoteBrokerConnectionName(nodeID, name))
}

func (g *Gateway) RemoteBrokerConnectionControl(nodeID, name string) *control.RemoteBrokerConnection {
	c, _ := g.reg.RemoteBrokerConnections().Get(control.RemoteBrokerConnectionName(nodeID, name))
	return c
}

func (g *Gateway) RemoteBrokerConnectionControls(pred func(*control.RemoteBrokerConnection) bool) []*control.RemoteBrokerConnection {
	return g.reg.RemoteBrokerConnections().List(pred)
}
