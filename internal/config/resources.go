package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/nuetzliches/brokeradmin/internal/broker"
)

const defaultAcceptorFactory = "netty"

var resourceDirectives = []string{
	"address", "queue", "acceptor", "divert", "bridge",
	"cluster_connection", "broadcast_group", "broker_connection", "connection_router",
}

func compileResources(n *Node, res *ValidationResult) ResourcesConfig {
	var out ResourcesConfig
	if n == nil {
		return out
	}
	if len(n.Args) > 0 {
		res.errorf(n, "resources", "takes no arguments")
	}
	type pendingDivert struct {
		node *Node
		info broker.DivertInfo
	}
	var diverts []pendingDivert
	// Names are unique per directive kind.
	seen := map[string]map[string]bool{}
	named := func(c *Node) (string, bool) {
		field := "resources." + c.Name
		if len(c.Args) != 1 || strings.TrimSpace(c.Args[0].Value) == "" {
			res.errorf(c, field, "expects exactly one name")
			return "", false
		}
		name := strings.TrimSpace(resolveValue(c, c.Args[0].Value, field, res))
		if seen[c.Name] == nil {
			seen[c.Name] = map[string]bool{}
		}
		if seen[c.Name][name] {
			res.errorf(c, field, "duplicate name %q", name)
			return "", false
		}
		seen[c.Name][name] = true
		return name, true
	}

	directives(n, "resources", res, resourceDirectives, resourceDirectives, func(c *Node) {
		name, ok := named(c)
		if !ok {
			return
		}
		switch c.Name {
		case "address":
			out.Addresses = append(out.Addresses, compileAddress(c, name, res))
		case "queue":
			out.Queues = append(out.Queues, compileQueue(c, name, res))
		case "acceptor":
			out.Acceptors = append(out.Acceptors, compileAcceptor(c, name, res))
		case "divert":
			d := compileDivert(c, name, res)
			out.Diverts = append(out.Diverts, d)
			diverts = append(diverts, pendingDivert{node: c, info: d})
		case "bridge":
			out.Bridges = append(out.Bridges, compileBridge(c, name, res))
		case "cluster_connection":
			out.ClusterConnections = append(out.ClusterConnections, compileClusterConnection(c, name, res))
		case "broadcast_group":
			out.BroadcastGroups = append(out.BroadcastGroups, compileBroadcastGroup(c, name, res))
		case "broker_connection":
			out.BrokerConnections = append(out.BrokerConnections, compileBrokerConnection(c, name, res))
		case "connection_router":
			out.ConnectionRouters = append(out.ConnectionRouters, compileConnectionRouter(c, name, res))
		}
	})

	// Queues and diverts may name addresses that only come into existence
	// through auto-creation, so a missing address is a warning.
	addresses := map[string]bool{}
	for _, a := range out.Addresses {
		addresses[a.Name] = true
	}
	for _, q := range out.Queues {
		addresses[q.Address] = true
	}
	for _, d := range diverts {
		if d.info.Address != "" && !addresses[d.info.Address] {
			res.warnf(d.node, "resources.divert.address", "address %q is not declared", d.info.Address)
		}
	}
	return out
}

func parseRoutingValue(c *Node, field string, res *ValidationResult) (broker.RoutingType, bool) {
	raw, ok := singleValue(c, field, res)
	if !ok {
		return "", false
	}
	rt, ok := parseRoutingType(raw)
	if !ok {
		res.errorf(c, field, "must be anycast|multicast")
	}
	return rt, ok
}

func parseRoutingType(raw string) (broker.RoutingType, bool) {
	switch broker.RoutingType(strings.ToUpper(strings.TrimSpace(raw))) {
	case broker.RoutingAnycast:
		return broker.RoutingAnycast, true
	case broker.RoutingMulticast:
		return broker.RoutingMulticast, true
	default:
		return "", false
	}
}

func compileAddress(n *Node, name string, res *ValidationResult) AddressConfig {
	const field = "resources.address"
	out := AddressConfig{Name: name}
	directives(n, field, res, []string{"routing"}, nil, func(c *Node) {
		for _, raw := range listValue(c, field+".routing", res) {
			rt, ok := parseRoutingType(raw)
			if !ok {
				res.errorf(c, field+".routing", "unknown routing type %q", raw)
				continue
			}
			out.Routing = append(out.Routing, rt)
		}
	})
	if len(out.Routing) == 0 {
		out.Routing = []broker.RoutingType{broker.RoutingAnycast}
	}
	return out
}

func compileQueue(n *Node, name string, res *ValidationResult) broker.QueueInfo {
	const field = "resources.queue"
	out := broker.QueueInfo{
		Name:         name,
		Address:      name,
		RoutingType:  broker.RoutingAnycast,
		Durable:      true,
		MaxConsumers: -1,
	}
	known := []string{"address", "routing", "filter", "durable", "exclusive", "last_value", "user", "max_consumers"}
	directives(n, field, res, known, nil, func(c *Node) {
		f := field + "." + c.Name
		switch c.Name {
		case "address":
			if v, ok := singleValue(c, f, res); ok && strings.TrimSpace(v) != "" {
				out.Address = strings.TrimSpace(v)
			}
		case "routing":
			if rt, ok := parseRoutingValue(c, f, res); ok {
				out.RoutingType = rt
			}
		case "filter":
			if v, ok := singleValue(c, f, res); ok {
				out.Filter = v
			}
		case "durable":
			if v, ok := boolValue(c, f, res); ok {
				out.Durable = v
			}
		case "exclusive":
			if v, ok := boolValue(c, f, res); ok {
				out.Exclusive = v
			}
		case "last_value":
			if v, ok := boolValue(c, f, res); ok {
				out.LastValue = v
			}
		case "user":
			if v, ok := singleValue(c, f, res); ok {
				out.User = v
			}
		case "max_consumers":
			if v, ok := intValue(c, f, -1, 1<<20, res); ok {
				out.MaxConsumers = v
			}
		}
	})
	return out
}

func compileAcceptor(n *Node, name string, res *ValidationResult) broker.AcceptorInfo {
	const field = "resources.acceptor"
	out := broker.AcceptorInfo{
		Name:    name,
		Factory: defaultAcceptorFactory,
		Params:  map[string]string{},
	}
	directives(n, field, res, []string{"url", "factory", "protocols", "param"}, []string{"param"}, func(c *Node) {
		f := field + "." + c.Name
		switch c.Name {
		case "url":
			raw, ok := singleValue(c, f, res)
			if !ok {
				return
			}
			if !validURI(raw) {
				res.errorf(c, f, "must be a URL like tcp://0.0.0.0:61616")
				return
			}
			out.Params["url"] = raw
		case "factory":
			if v, ok := singleValue(c, f, res); ok {
				out.Factory = v
			}
		case "protocols":
			out.Protocols = listValue(c, f, res)
		case "param":
			if len(c.Args) != 2 {
				res.errorf(c, f, "expects a key and a value")
				return
			}
			out.Params[c.Args[0].Value] = resolveValue(c, c.Args[1].Value, f, res)
		}
	})
	if _, ok := out.Params["url"]; !ok {
		res.errorf(n, field+".url", "is required")
	}
	return out
}

func compileDivert(n *Node, name string, res *ValidationResult) broker.DivertInfo {
	const field = "resources.divert"
	out := broker.DivertInfo{
		UniqueName:  name,
		RoutingName: name,
		RoutingType: broker.RoutingAnycast,
	}
	known := []string{"routing_name", "address", "forwarding_address", "exclusive", "filter", "routing"}
	directives(n, field, res, known, nil, func(c *Node) {
		f := field + "." + c.Name
		switch c.Name {
		case "routing_name":
			if v, ok := singleValue(c, f, res); ok {
				out.RoutingName = v
			}
		case "address":
			if v, ok := singleValue(c, f, res); ok {
				out.Address = v
			}
		case "forwarding_address":
			if v, ok := singleValue(c, f, res); ok {
				out.ForwardingAddress = v
			}
		case "exclusive":
			if v, ok := boolValue(c, f, res); ok {
				out.Exclusive = v
			}
		case "filter":
			if v, ok := singleValue(c, f, res); ok {
				out.Filter = v
			}
		case "routing":
			if rt, ok := parseRoutingValue(c, f, res); ok {
				out.RoutingType = rt
			}
		}
	})
	if out.Address == "" {
		res.errorf(n, field+".address", "is required")
	}
	if out.ForwardingAddress == "" {
		res.errorf(n, field+".forwarding_address", "is required")
	}
	return out
}

func compileBridge(n *Node, name string, res *ValidationResult) broker.BridgeInfo {
	const field = "resources.bridge"
	out := broker.BridgeInfo{Name: name}
	directives(n, field, res, []string{"queue", "forwarding_address"}, nil, func(c *Node) {
		v, ok := singleValue(c, field+"."+c.Name, res)
		if !ok {
			return
		}
		switch c.Name {
		case "queue":
			out.Queue = v
		case "forwarding_address":
			out.ForwardingAddress = v
		}
	})
	if out.Queue == "" {
		res.errorf(n, field+".queue", "is required")
	}
	return out
}

func compileClusterConnection(n *Node, name string, res *ValidationResult) broker.ClusterConnectionInfo {
	const field = "resources.cluster_connection"
	out := broker.ClusterConnectionInfo{Name: name, Nodes: map[string]string{}}
	directives(n, field, res, []string{"address", "node_id", "member"}, []string{"member"}, func(c *Node) {
		f := field + "." + c.Name
		switch c.Name {
		case "address":
			if v, ok := singleValue(c, f, res); ok {
				out.Address = v
			}
		case "node_id":
			if v, ok := singleValue(c, f, res); ok {
				out.NodeID = v
			}
		case "member":
			if len(c.Args) != 2 {
				res.errorf(c, f, "expects a node id and a URI")
				return
			}
			uri := resolveValue(c, c.Args[1].Value, f, res)
			if !validURI(uri) {
				res.errorf(c, f, "invalid URI %q", uri)
				return
			}
			out.Nodes[c.Args[0].Value] = uri
		}
	})
	return out
}

func compileBroadcastGroup(n *Node, name string, res *ValidationResult) broker.BroadcastGroupInfo {
	const field = "resources.broadcast_group"
	out := broker.BroadcastGroupInfo{Name: name, BroadcastPeriod: 2 * time.Second}
	directives(n, field, res, []string{"connectors", "period"}, nil, func(c *Node) {
		f := field + "." + c.Name
		switch c.Name {
		case "connectors":
			out.Connectors = listValue(c, f, res)
		case "period":
			if d, ok := durationValue(c, f, false, res); ok {
				out.BroadcastPeriod = d
			}
		}
	})
	return out
}

func compileBrokerConnection(n *Node, name string, res *ValidationResult) broker.BrokerConnectionInfo {
	const field = "resources.broker_connection"
	out := broker.BrokerConnectionInfo{Name: name, Protocol: "AMQP"}
	directives(n, field, res, []string{"uri", "protocol"}, nil, func(c *Node) {
		f := field + "." + c.Name
		v, ok := singleValue(c, f, res)
		if !ok {
			return
		}
		switch c.Name {
		case "uri":
			if !validURI(v) {
				res.errorf(c, f, "invalid URI %q", v)
				return
			}
			out.URI = v
		case "protocol":
			out.Protocol = strings.ToUpper(strings.TrimSpace(v))
		}
	})
	if out.URI == "" {
		res.errorf(n, field+".uri", "is required")
	}
	return out
}

func compileConnectionRouter(n *Node, name string, res *ValidationResult) broker.ConnectionRouterInfo {
	const field = "resources.connection_router"
	out := broker.ConnectionRouterInfo{Name: name, Key: "CLIENT_ID", LocalTargetEnabled: true}
	directives(n, field, res, []string{"key", "local_target"}, nil, func(c *Node) {
		f := field + "." + c.Name
		switch c.Name {
		case "key":
			raw, ok := singleValue(c, f, res)
			if !ok {
				return
			}
			switch k := strings.ToUpper(strings.TrimSpace(raw)); k {
			case "CLIENT_ID", "SNI_HOST", "SOURCE_IP", "USER_NAME", "ROLE_NAME":
				out.Key = k
			default:
				res.errorf(c, f, "must be client_id|sni_host|source_ip|user_name|role_name")
			}
		case "local_target":
			if v, ok := boolValue(c, f, res); ok {
				out.LocalTargetEnabled = v
			}
		}
	})
	return out
}

func validURI(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	return err == nil && u.Scheme != "" && u.Host != ""
}
