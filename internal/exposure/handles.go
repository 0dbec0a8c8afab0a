package exposure

import (
	"strconv"
	"strings"
)

// Handles builds canonical handles for one broker instance, e.g.
// broker="main",component=addresses,address="orders".
type Handles struct {
	broker string
}

func NewHandles(brokerName string) Handles {
	return Handles{broker: brokerName}
}

func (h Handles) BrokerName() string { return h.broker }

func (h Handles) Broker() string {
	return "broker=" + quote(h.broker)
}

func (h Handles) Security() string {
	return h.Broker() + ",component=security"
}

func (h Handles) Address(address string) string {
	return h.Broker() + ",component=addresses,address=" + quote(address)
}

func (h Handles) Queue(address, queue, routingType string) string {
	return h.Address(address) +
		",subcomponent=queues,routing-type=" + quote(strings.ToLower(routingType)) +
		",queue=" + quote(queue)
}

func (h Handles) Divert(name, address string) string {
	return h.Address(address) + ",subcomponent=diverts,divert=" + quote(name)
}

func (h Handles) Acceptor(name string) string          { return h.component("acceptors", name) }
func (h Handles) BroadcastGroup(name string) string    { return h.component("broadcast-groups", name) }
func (h Handles) Bridge(name string) string            { return h.component("bridges", name) }
func (h Handles) ClusterConnection(name string) string { return h.component("cluster-connections", name) }
func (h Handles) BrokerConnection(name string) string  { return h.component("broker-connections", name) }
func (h Handles) ConnectionRouter(name string) string  { return h.component("connection-routers", name) }

func (h Handles) RemoteBrokerConnection(nodeID, name string) string {
	return h.component("remote-broker-connections", name) + ",node-id=" + quote(nodeID)
}

func (h Handles) component(component, name string) string {
	return h.Broker() + ",component=" + component + ",name=" + quote(name)
}

func quote(v string) string {
	return strconv.Quote(v)
}
