package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-disaster-notify/internal/models"
	"github.com/mr1hm/go-disaster-notify/internal/observability"
)

var (
	ErrClosed       = errors.New("hub closed")
	ErrUnknownConn  = errors.New("connection not registered")
	ErrInvalidTopic = errors.New("invalid topic")
	ErrDuplicate    = errors.New("connection already registered")
)

const defaultShards = 32

type shard struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Conn
}

// Conn is one registered connection. Events are queued on Send; a full
// queue drops the event.
type Conn struct {
	ID   string
	send chan []byte

	mu     sync.RWMutex
	topics map[string]struct{}
	closed bool
}

// Send is the connection's outbound queue, closed on disconnect.
func (c *Conn) Send() <-chan []byte {
	return c.send
}

func (c *Conn) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

func (c *Conn) trySend(msg []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Hub is the service-owned topic registry. Create it at startup and Close it
// at shutdown.
type Hub struct {
	shards     []*shard
	bufferSize int
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu     sync.RWMutex
	conns  map[string]*Conn
	closed bool
}

type Option func(*Hub)

func WithShards(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.shards = newShards(n)
		}
	}
}

func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(h *Hub) { h.clock = c }
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{topics: make(map[string]map[string]*Conn)}
	}
	return shards
}

func New(logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Hub {
	h := &Hub{
		shards:     newShards(defaultShards),
		bufferSize: 100,
		clock:      clockwork.NewRealClock(),
		logger:     logger,
		metrics:    metrics,
		conns:      make(map[string]*Conn),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) shardFor(topic string) *shard {
	return h.shards[xxhash.Sum64String(topic)%uint64(len(h.shards))]
}

// Register adds a connection with an empty topic set.
func (h *Hub) Register(id string) (*Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	if _, ok := h.conns[id]; ok {
		return nil, ErrDuplicate
	}
	c := &Conn{
		ID:     id,
		send:   make(chan []byte, h.bufferSize),
		topics: make(map[string]struct{}),
	}
	h.conns[id] = c
	h.metrics.HubConnections.Inc()
	return c, nil
}

func (h *Hub) conn(id string) (*Conn, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	if !ok {
		return nil, ErrUnknownConn
	}
	return c, nil
}

func (h *Hub) Subscribe(connID, topic string) error {
	if !ValidTopic(topic) {
		return ErrInvalidTopic
	}
	c, err := h.conn(connID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrUnknownConn
	}
	if _, ok := c.topics[topic]; ok {
		return nil
	}
	c.topics[topic] = struct{}{}

	s := h.shardFor(topic)
	s.mu.Lock()
	members, ok := s.topics[topic]
	if !ok {
		members = make(map[string]*Conn)
		s.topics[topic] = members
	}
	members[connID] = c
	s.mu.Unlock()
	return nil
}

func (h *Hub) Unsubscribe(connID, topic string) error {
	c, err := h.conn(connID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.topics[topic]; !ok {
		return nil
	}
	delete(c.topics, topic)
	h.removeMember(topic, connID)
	return nil
}

func (h *Hub) removeMember(topic, connID string) {
	s := h.shardFor(topic)
	s.mu.Lock()
	if members, ok := s.topics[topic]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(s.topics, topic)
		}
	}
	s.mu.Unlock()
}

// OnDisconnect removes the connection from each topic it joined, using its
// own topic set rather than scanning the registry, then closes its queue.
func (h *Hub) OnDisconnect(connID string) {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if ok {
		delete(h.conns, connID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for topic := range c.topics {
		h.removeMember(topic, connID)
	}
	c.topics = nil
	close(c.send)
	c.mu.Unlock()

	h.metrics.HubConnections.Dec()
}

// Publish delivers to every member of topic and returns how many connections
// accepted the event.
func (h *Hub) Publish(topic string, ev Event) int {
	return h.PublishMany([]string{topic}, ev)
}

// PublishMany delivers one event to the union of the topics' members; a
// connection in several of the topics receives it once.
func (h *Hub) PublishMany(topics []string, ev Event) int {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.clock.Now()
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode hub event", "type", ev.Type, "error", err)
		return 0
	}

	targets := make(map[string]*Conn)
	for _, topic := range topics {
		s := h.shardFor(topic)
		s.mu.RLock()
		for id, c := range s.topics[topic] {
			targets[id] = c
		}
		s.mu.RUnlock()
	}

	h.metrics.HubEventsPublished.WithLabelValues(ev.Type).Inc()
	return h.deliver(targets, msg)
}

// Broadcast sends to every registered connection regardless of topics.
func (h *Hub) Broadcast(ev Event) int {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.clock.Now()
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode hub event", "type", ev.Type, "error", err)
		return 0
	}

	h.mu.RLock()
	targets := make(map[string]*Conn, len(h.conns))
	for id, c := range h.conns {
		targets[id] = c
	}
	h.mu.RUnlock()

	return h.deliver(targets, msg)
}

func (h *Hub) deliver(targets map[string]*Conn, msg []byte) int {
	delivered := 0
	for _, c := range targets {
		if c.trySend(msg) {
			delivered++
		} else {
			h.metrics.HubEventsDropped.Inc()
		}
	}
	return delivered
}

// Heartbeat tells every connection the server is alive.
func (h *Hub) Heartbeat(ctx context.Context) error {
	n := h.Broadcast(Event{Type: EventHeartbeat})
	h.logger.Debug("heartbeat sent", "connections", n)
	return nil
}

// HandleAlert publishes a disasterAlert event to the alert's topics.
func (h *Hub) HandleAlert(ctx context.Context, a *models.Alert) {
	n := h.PublishMany(AlertTopics(a), Event{Type: EventDisasterAlert, Data: NewAlertPayload(a)})
	h.logger.Info("alert broadcast", "alert_id", a.ID, "connections", n)
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// TopicCount is the number of topics with at least one member.
func (h *Hub) TopicCount() int {
	n := 0
	for _, s := range h.shards {
		s.mu.RLock()
		n += len(s.topics)
		s.mu.RUnlock()
	}
	return n
}

// Close disconnects every connection and rejects new registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.OnDisconnect(id)
	}
}
