package view

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nuetzliches/brokeradmin/internal/broker"
)

var ErrUnsupportedKind = errors.New("kind has no query view")

// ConsumerRow pairs a consumer with the session it belongs to. Session is
// nil when the session is already gone, which leaves session-scoped fields
// unresolved.
type ConsumerRow struct {
	broker.ConsumerInfo
	Session *broker.SessionInfo
}

type ProducerRow struct {
	broker.ProducerInfo
	Session *broker.SessionInfo
}

func ConsumerRows(consumers []broker.ConsumerInfo, sessions broker.SessionLookup) []ConsumerRow {
	out := make([]ConsumerRow, len(consumers))
	for i, c := range consumers {
		out[i] = ConsumerRow{ConsumerInfo: c, Session: lookupSession(sessions, c.SessionID)}
	}
	return out
}

func ProducerRows(producers []broker.ProducerInfo, sessions broker.SessionLookup) []ProducerRow {
	out := make([]ProducerRow, len(producers))
	for i, p := range producers {
		out[i] = ProducerRow{ProducerInfo: p, Session: lookupSession(sessions, p.SessionID)}
	}
	return out
}

func lookupSession(sessions broker.SessionLookup, id string) *broker.SessionInfo {
	if sessions == nil || id == "" {
		return nil
	}
	s, ok := sessions.Session(id)
	if !ok {
		return nil
	}
	return &s
}

func sessionField(get func(*broker.SessionInfo) string) func(*broker.SessionInfo) any {
	return func(s *broker.SessionInfo) any {
		if s == nil {
			return nil
		}
		return get(s)
	}
}

var (
	sessionUser          = sessionField(func(s *broker.SessionInfo) string { return s.Username })
	sessionValidatedUser = sessionField(func(s *broker.SessionInfo) string { return s.ValidatedUser })
	sessionProtocol      = sessionField(func(s *broker.SessionInfo) string { return s.Protocol })
	sessionClientID      = sessionField(func(s *broker.SessionInfo) string { return s.ClientID })
	sessionLocalAddress  = sessionField(func(s *broker.SessionInfo) string { return s.LocalAddress })
	sessionRemoteAddress = sessionField(func(s *broker.SessionInfo) string { return s.RemoteAddress })
)

func millis(t time.Time) any {
	if t.IsZero() {
		return int64(0)
	}
	return t.UnixMilli()
}

func routingTypes(in []broker.RoutingType) []string {
	out := make([]string, len(in))
	for i, rt := range in {
		out[i] = string(rt)
	}
	return out
}

// field builds a sortable, filterable field.
func field[T any](name string, extract func(T) any) Field[T] {
	return Field[T]{Name: name, Extract: extract, Sortable: true, Filterable: true}
}

var AddressKind = NewKind("address", "id",
	field("id", func(a broker.AddressInfo) any { return a.ID }),
	field("name", func(a broker.AddressInfo) any { return a.Name }),
	Field[broker.AddressInfo]{Name: "routingTypes", Extract: func(a broker.AddressInfo) any { return routingTypes(a.RoutingTypes) }, Filterable: true},
	field("queueCount", func(a broker.AddressInfo) any { return len(a.QueueNames) }),
	field("internal", func(a broker.AddressInfo) any { return a.Internal }),
	field("temporary", func(a broker.AddressInfo) any { return a.Temporary }),
	field("autoCreated", func(a broker.AddressInfo) any { return a.AutoCreated }),
	field("paused", func(a broker.AddressInfo) any { return a.Paused }),
	field("messageCount", func(a broker.AddressInfo) any { return a.MessageCount }),
	field("size", func(a broker.AddressInfo) any { return a.Size }),
)

var QueueKind = NewKind("queue", "name",
	field("id", func(q broker.QueueInfo) any { return q.ID }),
	field("name", func(q broker.QueueInfo) any { return q.Name }),
	field("address", func(q broker.QueueInfo) any { return q.Address }),
	field("filter", func(q broker.QueueInfo) any { return q.Filter }),
	field("durable", func(q broker.QueueInfo) any { return q.Durable }),
	field("paused", func(q broker.QueueInfo) any { return q.Paused }),
	field("temporary", func(q broker.QueueInfo) any { return q.Temporary }),
	field("autoCreated", func(q broker.QueueInfo) any { return q.AutoCreated }),
	field("autoDelete", func(q broker.QueueInfo) any { return q.AutoDelete }),
	field("exclusive", func(q broker.QueueInfo) any { return q.Exclusive }),
	field("lastValue", func(q broker.QueueInfo) any { return q.LastValue }),
	field("routingType", func(q broker.QueueInfo) any { return string(q.RoutingType) }),
	field("user", func(q broker.QueueInfo) any { return q.User }),
	field("maxConsumers", func(q broker.QueueInfo) any { return q.MaxConsumers }),
	field("consumerCount", func(q broker.QueueInfo) any { return q.ConsumerCount }),
	field("messageCount", func(q broker.QueueInfo) any { return q.MessageCount }),
	field("deliveringCount", func(q broker.QueueInfo) any { return q.DeliveringCount }),
	field("scheduledCount", func(q broker.QueueInfo) any { return q.ScheduledCount }),
	field("messagesAdded", func(q broker.QueueInfo) any { return q.MessagesAdded }),
	field("messagesAcked", func(q broker.QueueInfo) any { return q.MessagesAcknowledged }),
	field("messagesExpired", func(q broker.QueueInfo) any { return q.MessagesExpired }),
	field("messagesKilled", func(q broker.QueueInfo) any { return q.MessagesKilled }),
)

var ConnectionKind = NewKind("connection", "connectionID",
	field("connectionID", func(c broker.ConnectionInfo) any { return c.ID }),
	field("remoteAddress", func(c broker.ConnectionInfo) any { return c.RemoteAddress }),
	Field[broker.ConnectionInfo]{Name: "users", Extract: func(c broker.ConnectionInfo) any { return append([]string{}, c.Users...) }, Filterable: true},
	field("creationTime", func(c broker.ConnectionInfo) any { return millis(c.CreationTime) }),
	field("implementation", func(c broker.ConnectionInfo) any { return c.Implementation }),
	field("protocol", func(c broker.ConnectionInfo) any { return c.Protocol }),
	field("clientID", func(c broker.ConnectionInfo) any { return c.ClientID }),
	field("localAddress", func(c broker.ConnectionInfo) any { return c.LocalAddress }),
	field("sessionCount", func(c broker.ConnectionInfo) any { return c.SessionCount }),
)

var ConsumerKind = NewKind("consumer", "id",
	field("id", func(c ConsumerRow) any { return c.ID }),
	field("session", func(c ConsumerRow) any { return c.SessionID }),
	field("queue", func(c ConsumerRow) any { return c.Queue }),
	field("filter", func(c ConsumerRow) any { return c.Filter }),
	field("address", func(c ConsumerRow) any { return c.Address }),
	field("user", func(c ConsumerRow) any { return sessionUser(c.Session) }),
	field("validatedUser", func(c ConsumerRow) any { return sessionValidatedUser(c.Session) }),
	field("protocol", func(c ConsumerRow) any { return sessionProtocol(c.Session) }),
	field("clientID", func(c ConsumerRow) any { return sessionClientID(c.Session) }),
	field("localAddress", func(c ConsumerRow) any { return sessionLocalAddress(c.Session) }),
	field("remoteAddress", func(c ConsumerRow) any { return sessionRemoteAddress(c.Session) }),
	field("queueType", func(c ConsumerRow) any { return string(c.QueueType) }),
	field("creationTime", func(c ConsumerRow) any { return millis(c.CreationTime) }),
	field("messagesInTransit", func(c ConsumerRow) any { return c.MessagesInTransit }),
	field("messagesInTransitSize", func(c ConsumerRow) any { return c.MessagesInTransitSize }),
	field("messagesDelivered", func(c ConsumerRow) any { return c.MessagesDelivered }),
	field("messagesDeliveredSize", func(c ConsumerRow) any { return c.MessagesDeliveredSize }),
	field("messagesAcknowledged", func(c ConsumerRow) any { return c.MessagesAcknowledged }),
	field("messagesAcknowledgedAwaitingCommit", func(c ConsumerRow) any { return c.MessagesAcknowledgedAwaitingCommit }),
	field("lastDeliveredTime", func(c ConsumerRow) any { return c.LastDeliveredTime }),
	field("lastAcknowledgedTime", func(c ConsumerRow) any { return c.LastAcknowledgedTime }),
)

var ProducerKind = NewKind("producer", "id",
	field("id", func(p ProducerRow) any { return p.ID }),
	field("name", func(p ProducerRow) any { return p.Name }),
	field("session", func(p ProducerRow) any { return p.SessionID }),
	field("connectionID", func(p ProducerRow) any { return p.ConnectionID }),
	field("address", func(p ProducerRow) any { return p.Address }),
	field("user", func(p ProducerRow) any { return sessionUser(p.Session) }),
	field("validatedUser", func(p ProducerRow) any { return sessionValidatedUser(p.Session) }),
	field("protocol", func(p ProducerRow) any { return sessionProtocol(p.Session) }),
	field("clientID", func(p ProducerRow) any { return sessionClientID(p.Session) }),
	field("localAddress", func(p ProducerRow) any { return sessionLocalAddress(p.Session) }),
	field("remoteAddress", func(p ProducerRow) any { return sessionRemoteAddress(p.Session) }),
	field("creationTime", func(p ProducerRow) any { return millis(p.CreationTime) }),
	field("msgSent", func(p ProducerRow) any { return p.MessagesSent }),
	field("msgSizeSent", func(p ProducerRow) any { return p.MessagesSentSize }),
	field("lastProducedMessageID", func(p ProducerRow) any { return p.LastProducedMessageID }),
)

// Entity names accepted by Query, in listing order.
const (
	EntityAddress    = "address"
	EntityQueue      = "queue"
	EntityConnection = "connection"
	EntityConsumer   = "consumer"
	EntityProducer   = "producer"
)

var Entities = []string{EntityAddress, EntityQueue, EntityConnection, EntityConsumer, EntityProducer}

// Query snapshots the entity collection named by entity from srv and returns
// one page of the result as JSON.
func Query(srv broker.Server, entity, options string, page, pageSize int, logger *slog.Logger) ([]byte, error) {
	if srv == nil {
		return nil, errors.New("no broker server")
	}
	switch entity {
	case EntityAddress:
		return run(AddressKind, srv.Addresses(), options, page, pageSize, logger)
	case EntityQueue:
		return run(QueueKind, srv.Queues(), options, page, pageSize, logger)
	case EntityConnection:
		return run(ConnectionKind, srv.Connections(), options, page, pageSize, logger)
	case EntityConsumer:
		return run(ConsumerKind, ConsumerRows(srv.Consumers(), srv), options, page, pageSize, logger)
	case EntityProducer:
		return run(ProducerKind, ProducerRows(srv.Producers(), srv), options, page, pageSize, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, entity)
	}
}

func run[T any](kind *Kind[T], items []T, options string, page, pageSize int, logger *slog.Logger) ([]byte, error) {
	v := New(kind, logger)
	v.SetOptions(options)
	v.SetCollection(items)
	return v.ResultsJSON(page, pageSize)
}
