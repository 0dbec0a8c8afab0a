// Package broker defines the management-facing view of the live broker
// engine: the interfaces a control object wraps and the point-in-time
// snapshots the query views operate on.
package broker

import (
	"errors"
	"time"
)

type RoutingType string

const (
	RoutingAnycast   RoutingType = "ANYCAST"
	RoutingMulticast RoutingType = "MULTICAST"
)

var ErrResourceClosed = errors.New("resource is no longer active")

type ServerInfo struct {
	Name      string
	Version   string
	NodeID    string
	Started   bool
	StartedAt time.Time
}

type AddressInfo struct {
	ID           int64
	Name         string
	RoutingTypes []RoutingType
	QueueNames   []string
	Internal     bool
	Temporary    bool
	AutoCreated  bool
	Paused       bool
	MessageCount int64
	Size         int64
}

type QueueInfo struct {
	ID                   int64
	Name                 string
	Address              string
	RoutingType          RoutingType
	Filter               string
	Durable              bool
	Temporary            bool
	AutoCreated          bool
	AutoDelete           bool
	Exclusive            bool
	LastValue            bool
	Paused               bool
	User                 string
	MaxConsumers         int
	ConsumerCount        int
	MessageCount         int64
	DeliveringCount      int
	ScheduledCount       int64
	MessagesAdded        int64
	MessagesAcknowledged int64
	MessagesExpired      int64
	MessagesKilled       int64
}

type ConnectionInfo struct {
	ID             string
	RemoteAddress  string
	LocalAddress   string
	Users          []string
	CreationTime   time.Time
	Implementation string
	Protocol       string
	ClientID       string
	SessionCount   int
}

type SessionInfo struct {
	ID            string
	ConnectionID  string
	Username      string
	ValidatedUser string
	Protocol      string
	ClientID      string
	LocalAddress  string
	RemoteAddress string
}

type ConsumerInfo struct {
	ID                                 int64
	SessionID                          string
	Queue                              string
	Address                            string
	QueueType                          RoutingType
	Filter                             string
	CreationTime                       time.Time
	MessagesInTransit                  int
	MessagesInTransitSize              int64
	MessagesDelivered                  int64
	MessagesDeliveredSize              int64
	MessagesAcknowledged               int64
	MessagesAcknowledgedAwaitingCommit int
	LastDeliveredTime                  int64
	LastAcknowledgedTime               int64
}

type ProducerInfo struct {
	ID                    string
	Name                  string
	SessionID             string
	ConnectionID          string
	Address               string
	CreationTime          time.Time
	MessagesSent          int64
	MessagesSentSize      int64
	LastProducedMessageID string
}

type AcceptorInfo struct {
	Name      string
	Factory   string
	Protocols []string
	Params    map[string]string
	Started   bool
}

type BroadcastGroupInfo struct {
	Name            string
	Connectors      []string
	BroadcastPeriod time.Duration
	Started         bool
}

type BrokerConnectionInfo struct {
	Name      string
	Protocol  string
	URI       string
	Started   bool
	Connected bool
}

type RemoteBrokerConnectionInfo struct {
	NodeID   string
	Name     string
	Protocol string
}

type BridgeInfo struct {
	Name                           string
	Queue                          string
	ForwardingAddress              string
	Started                        bool
	Paused                         bool
	MessagesPendingAcknowledgement int64
	MessagesAcknowledged           int64
}

type ClusterConnectionInfo struct {
	Name    string
	Address string
	NodeID  string
	Started bool
	Nodes   map[string]string
}

type ConnectionRouterInfo struct {
	Name               string
	Key                string
	LocalTargetEnabled bool
}

type DivertInfo struct {
	UniqueName        string
	RoutingName       string
	Address           string
	ForwardingAddress string
	Exclusive         bool
	Filter            string
	RoutingType       RoutingType
}

// Server is the broker singleton. Besides its own state it hands out
// snapshots of the entity collections the query views page over.
type Server interface {
	Info() ServerInfo
	Addresses() []AddressInfo
	Queues() []QueueInfo
	Connections() []ConnectionInfo
	Consumers() []ConsumerInfo
	Producers() []ProducerInfo
	SessionLookup
}

// SessionLookup resolves session-scoped attributes for consumer and
// producer views.
type SessionLookup interface {
	Session(id string) (SessionInfo, bool)
}

type Address interface {
	Info() AddressInfo
	Pause() error
	Resume() error
}

type Queue interface {
	Info() QueueInfo
	Pause() error
	Resume() error
	Purge() (int64, error)
}

type Acceptor interface {
	Info() AcceptorInfo
	Start() error
	Stop() error
}

type BroadcastGroup interface {
	Info() BroadcastGroupInfo
	Start() error
	Stop() error
}

type BrokerConnection interface {
	Info() BrokerConnectionInfo
	Start() error
	Stop() error
}

type RemoteBrokerConnection interface {
	Info() RemoteBrokerConnectionInfo
}

type Bridge interface {
	Info() BridgeInfo
	Start() error
	Stop() error
	Pause() error
	Resume() error
}

type ClusterConnection interface {
	Info() ClusterConnectionInfo
	Start() error
	Stop() error
}

type ConnectionRouter interface {
	Info() ConnectionRouterInfo
	Target(key string) (string, error)
}

type Divert interface {
	Info() DivertInfo
}
