package broker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrAddressNotFound = errors.New("address not found")
	ErrQueueExists     = errors.New("queue already exists")
	ErrNoTarget        = errors.New("no target available")
)

type MemoryOption func(*Memory)

func WithNowFunc(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.nowFn = now
		}
	}
}

func WithVersion(version string) MemoryOption {
	return func(m *Memory) {
		if strings.TrimSpace(version) != "" {
			m.info.Version = strings.TrimSpace(version)
		}
	}
}

// Memory is an in-process broker engine. It backs the run command when
// resources are declared in config, and gives tests a real Server to query.
type Memory struct {
	mu          sync.RWMutex
	nowFn       func() time.Time
	nextID      atomic.Int64
	info        ServerInfo
	addresses   map[string]*MemoryAddress
	queues      map[string]*MemoryQueue
	connections map[string]ConnectionInfo
	sessions    map[string]SessionInfo
	consumers   map[int64]ConsumerInfo
	producers   map[string]ProducerInfo
}

func NewMemory(name string, opts ...MemoryOption) *Memory {
	m := &Memory{
		nowFn:       time.Now,
		addresses:   make(map[string]*MemoryAddress),
		queues:      make(map[string]*MemoryQueue),
		connections: make(map[string]ConnectionInfo),
		sessions:    make(map[string]SessionInfo),
		consumers:   make(map[int64]ConsumerInfo),
		producers:   make(map[string]ProducerInfo),
	}
	m.info = ServerInfo{
		Name:    strings.TrimSpace(name),
		Version: "0.0.0-dev",
		NodeID:  "node-" + strings.TrimSpace(name),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) now() time.Time {
	return m.nowFn().UTC()
}

func (m *Memory) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.info.Started {
		return
	}
	m.info.Started = true
	m.info.StartedAt = m.now()
}

func (m *Memory) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info.Started = false
}

func (m *Memory) Info() ServerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info
}

// CreateAddress returns the existing address when one is already bound to
// name, merging any new routing types.
func (m *Memory) CreateAddress(name string, routing ...RoutingType) (*MemoryAddress, bool) {
	name = strings.TrimSpace(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.addresses[name]; ok {
		a.addRoutingTypes(routing)
		return a, false
	}
	a := &MemoryAddress{srv: m}
	a.info = AddressInfo{
		ID:   m.nextID.Add(1),
		Name: name,
	}
	a.addRoutingTypes(routing)
	m.addresses[name] = a
	return a, true
}

func (m *Memory) DeleteAddress(name string) (*MemoryAddress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.addresses[name]
	if !ok {
		return nil, false
	}
	delete(m.addresses, name)
	a.close()
	return a, true
}

func (m *Memory) Address(name string) (*MemoryAddress, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.addresses[name]
	return a, ok
}

// CreateQueue binds a queue to an existing address.
func (m *Memory) CreateQueue(info QueueInfo) (*MemoryQueue, error) {
	info.Name = strings.TrimSpace(info.Name)
	info.Address = strings.TrimSpace(info.Address)
	if info.Name == "" {
		return nil, errors.New("queue name is required")
	}
	if info.Address == "" {
		info.Address = info.Name
	}
	if info.RoutingType == "" {
		info.RoutingType = RoutingAnycast
	}
	if info.MaxConsumers == 0 {
		info.MaxConsumers = -1
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[info.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueExists, info.Name)
	}
	if _, ok := m.addresses[info.Address]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrAddressNotFound, info.Address)
	}
	info.ID = m.nextID.Add(1)
	q := &MemoryQueue{info: info}
	m.queues[info.Name] = q
	return q, nil
}

func (m *Memory) DeleteQueue(name string) (*MemoryQueue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[name]
	if !ok {
		return nil, false
	}
	delete(m.queues, name)
	q.close()
	return q, true
}

func (m *Memory) Queue(name string) (*MemoryQueue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[name]
	return q, ok
}

func (m *Memory) AddConnection(info ConnectionInfo) {
	if info.CreationTime.IsZero() {
		info.CreationTime = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[info.ID] = info
}

// RemoveConnection drops the connection together with its sessions,
// consumers and producers.
func (m *Memory) RemoveConnection(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, id)
	for sid, s := range m.sessions {
		if s.ConnectionID != id {
			continue
		}
		delete(m.sessions, sid)
		for cid, c := range m.consumers {
			if c.SessionID == sid {
				delete(m.consumers, cid)
			}
		}
		for pid, p := range m.producers {
			if p.SessionID == sid {
				delete(m.producers, pid)
			}
		}
	}
}

func (m *Memory) AddSession(info SessionInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[info.ID] = info
	if c, ok := m.connections[info.ConnectionID]; ok {
		c.SessionCount++
		m.connections[info.ConnectionID] = c
	}
}

func (m *Memory) AddConsumer(info ConsumerInfo) ConsumerInfo {
	if info.ID == 0 {
		info.ID = m.nextID.Add(1)
	}
	if info.CreationTime.IsZero() {
		info.CreationTime = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[info.Queue]; ok {
		q.adjustConsumers(1)
		if info.Address == "" {
			info.Address = q.Info().Address
		}
	}
	m.consumers[info.ID] = info
	return info
}

func (m *Memory) AddProducer(info ProducerInfo) ProducerInfo {
	if info.ID == "" {
		info.ID = fmt.Sprintf("%d", m.nextID.Add(1))
	}
	if info.CreationTime.IsZero() {
		info.CreationTime = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.producers[info.ID] = info
	return info
}

func (m *Memory) Session(id string) (SessionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Memory) Addresses() []AddressInfo {
	m.mu.RLock()
	addrs := make([]*MemoryAddress, 0, len(m.addresses))
	for _, a := range m.addresses {
		addrs = append(addrs, a)
	}
	m.mu.RUnlock()

	out := make([]AddressInfo, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) Queues() []QueueInfo {
	m.mu.RLock()
	out := make([]QueueInfo, 0, len(m.queues))
	for _, q := range m.queues {
		out = append(out, q.Info())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) Connections() []ConnectionInfo {
	m.mu.RLock()
	out := make([]ConnectionInfo, 0, len(m.connections))
	for _, c := range m.connections {
		c.Users = append([]string(nil), c.Users...)
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) Consumers() []ConsumerInfo {
	m.mu.RLock()
	out := make([]ConsumerInfo, 0, len(m.consumers))
	for _, c := range m.consumers {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) Producers() []ProducerInfo {
	m.mu.RLock()
	out := make([]ProducerInfo, 0, len(m.producers))
	for _, p := range m.producers {
		out = append(out, p)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type MemoryAddress struct {
	srv    *Memory
	mu     sync.Mutex
	info   AddressInfo
	closed bool
}

func (a *MemoryAddress) addRoutingTypes(routing []RoutingType) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rt := range routing {
		if rt == "" {
			continue
		}
		found := false
		for _, have := range a.info.RoutingTypes {
			if have == rt {
				found = true
				break
			}
		}
		if !found {
			a.info.RoutingTypes = append(a.info.RoutingTypes, rt)
		}
	}
}

// Info derives queue names and message totals from the queues currently
// bound to the address.
func (a *MemoryAddress) Info() AddressInfo {
	a.mu.Lock()
	info := a.info
	info.RoutingTypes = append([]RoutingType(nil), a.info.RoutingTypes...)
	a.mu.Unlock()

	if a.srv == nil {
		return info
	}
	a.srv.mu.RLock()
	defer a.srv.mu.RUnlock()
	info.QueueNames = nil
	info.MessageCount = 0
	for _, q := range a.srv.queues {
		qi := q.Info()
		if qi.Address != info.Name {
			continue
		}
		info.QueueNames = append(info.QueueNames, qi.Name)
		info.MessageCount += qi.MessageCount
	}
	sort.Strings(info.QueueNames)
	return info
}

func (a *MemoryAddress) Pause() error {
	return a.setPaused(true)
}

func (a *MemoryAddress) Resume() error {
	return a.setPaused(false)
}

func (a *MemoryAddress) setPaused(paused bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrResourceClosed
	}
	a.info.Paused = paused
	return nil
}

func (a *MemoryAddress) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}

type MemoryQueue struct {
	mu     sync.Mutex
	info   QueueInfo
	closed bool
}

func (q *MemoryQueue) Info() QueueInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.info
}

func (q *MemoryQueue) Pause() error {
	return q.setPaused(true)
}

func (q *MemoryQueue) Resume() error {
	return q.setPaused(false)
}

func (q *MemoryQueue) setPaused(paused bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrResourceClosed
	}
	q.info.Paused = paused
	return nil
}

// Purge removes every message and reports how many were removed.
func (q *MemoryQueue) Purge() (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrResourceClosed
	}
	n := q.info.MessageCount
	q.info.MessageCount = 0
	q.info.MessagesKilled += n
	return n, nil
}

// Send records n routed messages.
func (q *MemoryQueue) Send(n int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrResourceClosed
	}
	q.info.MessageCount += n
	q.info.MessagesAdded += n
	return nil
}

func (q *MemoryQueue) adjustConsumers(delta int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.info.ConsumerCount += delta
}

func (q *MemoryQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// memoryComponent carries the started flag shared by acceptors, bridges,
// broadcast groups and connections.
type memoryComponent struct {
	mu      sync.Mutex
	started bool
	paused  bool
}

func (c *memoryComponent) setStarted(v bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = v
	return nil
}

func (c *memoryComponent) setPaused(v bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return fmt.Errorf("component is not started")
	}
	c.paused = v
	return nil
}

func (c *memoryComponent) state() (started, paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started, c.paused
}

type MemoryAcceptor struct {
	memoryComponent
	info AcceptorInfo
}

func NewMemoryAcceptor(info AcceptorInfo) *MemoryAcceptor {
	a := &MemoryAcceptor{info: info}
	a.started = info.Started
	return a
}

func (a *MemoryAcceptor) Info() AcceptorInfo {
	out := a.info
	out.Started, _ = a.state()
	return out
}

func (a *MemoryAcceptor) Start() error { return a.setStarted(true) }
func (a *MemoryAcceptor) Stop() error  { return a.setStarted(false) }

type MemoryBroadcastGroup struct {
	memoryComponent
	info BroadcastGroupInfo
}

func NewMemoryBroadcastGroup(info BroadcastGroupInfo) *MemoryBroadcastGroup {
	g := &MemoryBroadcastGroup{info: info}
	g.started = info.Started
	return g
}

func (g *MemoryBroadcastGroup) Info() BroadcastGroupInfo {
	out := g.info
	out.Started, _ = g.state()
	return out
}

func (g *MemoryBroadcastGroup) Start() error { return g.setStarted(true) }
func (g *MemoryBroadcastGroup) Stop() error  { return g.setStarted(false) }

type MemoryBrokerConnection struct {
	memoryComponent
	info BrokerConnectionInfo
}

func NewMemoryBrokerConnection(info BrokerConnectionInfo) *MemoryBrokerConnection {
	c := &MemoryBrokerConnection{info: info}
	c.started = info.Started
	return c
}

func (c *MemoryBrokerConnection) Info() BrokerConnectionInfo {
	out := c.info
	out.Started, _ = c.state()
	out.Connected = out.Started
	return out
}

func (c *MemoryBrokerConnection) Start() error { return c.setStarted(true) }
func (c *MemoryBrokerConnection) Stop() error  { return c.setStarted(false) }

type MemoryRemoteBrokerConnection struct {
	info RemoteBrokerConnectionInfo
}

func NewMemoryRemoteBrokerConnection(info RemoteBrokerConnectionInfo) *MemoryRemoteBrokerConnection {
	return &MemoryRemoteBrokerConnection{info: info}
}

func (c *MemoryRemoteBrokerConnection) Info() RemoteBrokerConnectionInfo {
	return c.info
}

type MemoryBridge struct {
	memoryComponent
	info BridgeInfo
}

func NewMemoryBridge(info BridgeInfo) *MemoryBridge {
	b := &MemoryBridge{info: info}
	b.started = info.Started
	return b
}

func (b *MemoryBridge) Info() BridgeInfo {
	out := b.info
	out.Started, out.Paused = b.state()
	return out
}

func (b *MemoryBridge) Start() error  { return b.setStarted(true) }
func (b *MemoryBridge) Stop() error   { return b.setStarted(false) }
func (b *MemoryBridge) Pause() error  { return b.setPaused(true) }
func (b *MemoryBridge) Resume() error { return b.setPaused(false) }

type MemoryClusterConnection struct {
	memoryComponent
	info ClusterConnectionInfo
}

func NewMemoryClusterConnection(info ClusterConnectionInfo) *MemoryClusterConnection {
	c := &MemoryClusterConnection{info: info}
	c.started = info.Started
	return c
}

func (c *MemoryClusterConnection) Info() ClusterConnectionInfo {
	out := c.info
	out.Started, _ = c.state()
	if len(c.info.Nodes) > 0 {
		out.Nodes = make(map[string]string, len(c.info.Nodes))
		for k, v := range c.info.Nodes {
			out.Nodes[k] = v
		}
	}
	return out
}

func (c *MemoryClusterConnection) Start() error { return c.setStarted(true) }
func (c *MemoryClusterConnection) Stop() error  { return c.setStarted(false) }

type MemoryConnectionRouter struct {
	info   ConnectionRouterInfo
	nodeID string
}

func NewMemoryConnectionRouter(info ConnectionRouterInfo, localNodeID string) *MemoryConnectionRouter {
	return &MemoryConnectionRouter{info: info, nodeID: localNodeID}
}

func (r *MemoryConnectionRouter) Info() ConnectionRouterInfo {
	return r.info
}

// Target routes every key to the local node when the local target is
// enabled; there are no remote targets in memory.
func (r *MemoryConnectionRouter) Target(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("key is required")
	}
	if !r.info.LocalTargetEnabled {
		return "", ErrNoTarget
	}
	return r.nodeID, nil
}

type MemoryDivert struct {
	info DivertInfo
}

func NewMemoryDivert(info DivertInfo) *MemoryDivert {
	if info.RoutingName == "" {
		info.RoutingName = info.UniqueName
	}
	return &MemoryDivert{info: info}
}

func (d *MemoryDivert) Info() DivertInfo {
	return d.info
}
