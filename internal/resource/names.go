package resource

import "strings"

// Kind selects which registry map and field set a resource belongs to.
type Kind string

const (
	KindBroker                 Kind = "broker"
	KindAddress                Kind = "address"
	KindQueue                  Kind = "queue"
	KindAcceptor               Kind = "acceptor"
	KindBroadcastGroup         Kind = "broadcastgroup"
	KindBrokerConnection       Kind = "brokerconnection"
	KindRemoteBrokerConnection Kind = "remotebrokerconnection"
	KindBridge                 Kind = "bridge"
	KindClusterConnection      Kind = "clusterconnection"
	KindConnectionRouter       Kind = "connectionrouter"
	KindSecurity               Kind = "security"
	KindDivert                 Kind = "divert"
	KindUntyped                Kind = "untyped"
)

// Resource name prefixes. Broker and Security are matched exactly, the rest
// are followed by the unprefixed resource name.
const (
	PrefixBroker                 = "broker"
	PrefixAddress                = "address."
	PrefixQueue                  = "queue."
	PrefixAcceptor               = "acceptor."
	PrefixBroadcastGroup         = "broadcastgroup."
	PrefixBrokerConnection       = "brokerconnection."
	PrefixRemoteBrokerConnection = "remotebrokerconnection."
	PrefixBridge                 = "bridge."
	PrefixClusterConnection      = "clusterconnection."
	PrefixConnectionRouter       = "connectionrouter."
	PrefixSecurity               = "security"
	PrefixDivert                 = "divert."
)

var prefixToKind = map[string]Kind{
	PrefixBroker:                 KindBroker,
	PrefixAddress:                KindAddress,
	PrefixQueue:                  KindQueue,
	PrefixAcceptor:               KindAcceptor,
	PrefixBroadcastGroup:         KindBroadcastGroup,
	PrefixBrokerConnection:       KindBrokerConnection,
	PrefixRemoteBrokerConnection: KindRemoteBrokerConnection,
	PrefixBridge:                 KindBridge,
	PrefixClusterConnection:      KindClusterConnection,
	PrefixConnectionRouter:       KindConnectionRouter,
	PrefixSecurity:               KindSecurity,
	PrefixDivert:                 KindDivert,
}

var kindToPrefix = func() map[Kind]string {
	out := make(map[Kind]string, len(prefixToKind))
	for p, k := range prefixToKind {
		out[k] = p
	}
	return out
}()

// Kinds lists every kind with a dedicated registry slot or map, in a stable
// order suitable for listings.
var Kinds = []Kind{
	KindBroker,
	KindAddress,
	KindQueue,
	KindAcceptor,
	KindBroadcastGroup,
	KindBrokerConnection,
	KindRemoteBrokerConnection,
	KindBridge,
	KindClusterConnection,
	KindConnectionRouter,
	KindSecurity,
	KindDivert,
	KindUntyped,
}

// ParseName splits a composite resource name at its first dot and resolves
// the prefix to a kind. Names without a recognized prefix resolve to
// KindUntyped with the full name returned unchanged, since untyped controls
// are keyed by their literal name.
func ParseName(name string) (Kind, string) {
	prefix := name
	unprefixed := name
	if idx := strings.IndexByte(name, '.'); idx > 0 {
		prefix = name[:idx+1]
		unprefixed = name[idx+1:]
	}
	kind, ok := prefixToKind[prefix]
	if !ok {
		return KindUntyped, name
	}
	if kind == KindBroker || kind == KindSecurity {
		return kind, ""
	}
	return kind, unprefixed
}

// Name builds the composite name for a resource of the given kind.
func Name(kind Kind, unprefixed string) string {
	switch kind {
	case KindBroker, KindSecurity:
		return string(kind)
	case KindUntyped, "":
		return unprefixed
	}
	prefix, ok := kindToPrefix[kind]
	if !ok {
		return unprefixed
	}
	return prefix + unprefixed
}

// ParseKind resolves a kind by its name, as used in query strings and config.
func ParseKind(raw string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Kinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

func (k Kind) String() string {
	return string(k)
}
