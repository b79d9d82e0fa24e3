package hub

import (
	"sync"

	"github.com/assetray/realtime/internal/metrics"
	"go.uber.org/zap"
)

// Registry is the single source of truth for connection state plus the
// inverted channel -> subscriber index used for broadcast lookup.
type Registry interface {
	// Add registers a freshly accepted connection.
	Add(connection *Connection)

	// Get looks up a connection; absence is a normal outcome and
	// callers are expected to no-op on it.
	Get(connectionId string) (*Connection, bool)

	// Remove deletes the connection record, prunes it from every
	// channel it was subscribed to and closes its send queue.
	// Idempotent.
	Remove(connectionId string)

	// Subscribe adds the channel to the connection's subscription set
	// and the connection to the channel's subscriber set. Idempotent.
	// Reports false when the connection is unknown.
	Subscribe(connectionId string, channel string) bool

	// Unsubscribe is the inverse of Subscribe; an emptied channel
	// entry is deleted immediately. Idempotent.
	Unsubscribe(connectionId string, channel string) bool

	// SubscribersOf returns the ids subscribed to a channel; an
	// unknown channel yields an empty set, never an error.
	SubscribersOf(channel string) []string

	// Subscriptions returns the channels a connection is subscribed to.
	Subscriptions(connectionId string) []string

	// Send queues one message for a single connection.
	Send(connectionId string, message Message) bool

	// Broadcast queues a message for every subscriber of a channel.
	Broadcast(channel string, message Message)

	// BroadcastExcept is Broadcast minus one recipient, used when a
	// channel member relays an update the sender already has.
	BroadcastExcept(channel string, exceptId string, message Message)

	// BroadcastAll queues a message for every open connection,
	// regardless of subscriptions.
	BroadcastAll(message Message)

	// Connections returns a snapshot of every open connection.
	Connections() []*Connection

	// CloseAll disconnects everything; used during shutdown drain.
	CloseAll()
}

type InMemoryRegistry struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	// Both maps are mutated together under mu so they can never
	// disagree.
	mu                   sync.RWMutex
	connections          map[string]*Connection
	connectionsByChannel map[string]map[string]struct{}
	channelsByConnection map[string]map[string]struct{}
}

func NewInMemoryRegistry(logger *zap.Logger, metrics *metrics.Metrics) *InMemoryRegistry {
	return &InMemoryRegistry{
		logger:               logger,
		metrics:              metrics,
		connections:          make(map[string]*Connection),
		connectionsByChannel: make(map[string]map[string]struct{}),
		channelsByConnection: make(map[string]map[string]struct{}),
	}
}

func (r *InMemoryRegistry) Add(connection *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[connection.Id] = connection
	r.metrics.ActiveConnections.Inc()
}

func (r *InMemoryRegistry) Get(connectionId string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connection, ok := r.connections[connectionId]

	return connection, ok
}

func (r *InMemoryRegistry) Remove(connectionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(connectionId)
}

func (r *InMemoryRegistry) Subscribe(connectionId string, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[connectionId]; !ok {
		return false
	}

	if _, ok := r.connectionsByChannel[channel]; !ok {
		r.connectionsByChannel[channel] = make(map[string]struct{})
	}
	r.connectionsByChannel[channel][connectionId] = struct{}{}

	if _, ok := r.channelsByConnection[connectionId]; !ok {
		r.channelsByConnection[connectionId] = make(map[string]struct{})
	}
	r.channelsByConnection[connectionId][channel] = struct{}{}

	return true
}

func (r *InMemoryRegistry) Unsubscribe(connectionId string, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[connectionId]; !ok {
		return false
	}

	r.unsubscribeLocked(connectionId, channel)

	return true
}

func (r *InMemoryRegistry) SubscribersOf(channel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subscribers := r.connectionsByChannel[channel]
	ids := make([]string, 0, len(subscribers))
	for connectionId := range subscribers {
		ids = append(ids, connectionId)
	}

	return ids
}

func (r *InMemoryRegistry) Subscriptions(connectionId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subscriptions := r.channelsByConnection[connectionId]
	channels := make([]string, 0, len(subscriptions))
	for channel := range subscriptions {
		channels = append(channels, channel)
	}

	return channels
}

func (r *InMemoryRegistry) Send(connectionId string, message Message) bool {
	r.mu.RLock()

	connection, ok := r.connections[connectionId]
	if !ok {
		r.mu.RUnlock()

		return false
	}

	delivered := r.enqueue(connection, message)

	r.mu.RUnlock()

	if !delivered {
		r.Remove(connectionId)
	}

	return delivered
}

func (r *InMemoryRegistry) Broadcast(channel string, message Message) {
	r.broadcast(channel, "", message)
}

func (r *InMemoryRegistry) BroadcastExcept(channel string, exceptId string, message Message) {
	r.broadcast(channel, exceptId, message)
}

func (r *InMemoryRegistry) broadcast(channel string, exceptId string, message Message) {
	r.mu.RLock()

	var staleConnectionIds []string

	for connectionId := range r.connectionsByChannel[channel] {
		if connectionId == exceptId {
			continue
		}

		connection, ok := r.connections[connectionId]
		if !ok {
			continue
		}

		if !r.enqueue(connection, message) {
			staleConnectionIds = append(staleConnectionIds, connectionId)
		}
	}

	r.mu.RUnlock()

	r.removeStale(staleConnectionIds)
}

func (r *InMemoryRegistry) BroadcastAll(message Message) {
	r.mu.RLock()

	var staleConnectionIds []string

	for connectionId, connection := range r.connections {
		if !r.enqueue(connection, message) {
			staleConnectionIds = append(staleConnectionIds, connectionId)
		}
	}

	r.mu.RUnlock()

	r.removeStale(staleConnectionIds)
}

func (r *InMemoryRegistry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connections := make([]*Connection, 0, len(r.connections))
	for _, connection := range r.connections {
		connections = append(connections, connection)
	}

	return connections
}

func (r *InMemoryRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for connectionId := range r.connections {
		r.removeLocked(connectionId)
	}
}

// enqueue hands the message to the connection's send queue without
// blocking. A full queue marks the recipient stale; one slow client
// must never stall a broadcast to the rest.
func (r *InMemoryRegistry) enqueue(connection *Connection, message Message) bool {
	select {
	case connection.Send <- message:
		r.metrics.EventsBroadcast.Inc()

		return true
	default:
		r.metrics.BroadcastDrops.Inc()
		r.logger.Warn("send queue full, closing connection",
			zap.String("connectionId", connection.Id))

		return false
	}
}

func (r *InMemoryRegistry) removeStale(connectionIds []string) {
	if len(connectionIds) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, connectionId := range connectionIds {
		r.removeLocked(connectionId)
	}
}

func (r *InMemoryRegistry) unsubscribeLocked(connectionId string, channel string) {
	if subscriptions, ok := r.channelsByConnection[connectionId]; ok {
		delete(subscriptions, channel)
		if len(subscriptions) == 0 {
			delete(r.channelsByConnection, connectionId)
		}
	}

	if subscribers, ok := r.connectionsByChannel[channel]; ok {
		delete(subscribers, connectionId)
		if len(subscribers) == 0 {
			delete(r.connectionsByChannel, channel)
		}
	}
}

func (r *InMemoryRegistry) removeLocked(connectionId string) {
	connection, ok := r.connections[connectionId]
	if !ok {
		return
	}

	for channel := range r.channelsByConnection[connectionId] {
		subscribers := r.connectionsByChannel[channel]
		delete(subscribers, connectionId)
		if len(subscribers) == 0 {
			delete(r.connectionsByChannel, channel)
		}
	}

	delete(r.channelsByConnection, connectionId)
	delete(r.connections, connectionId)
	close(connection.Send)

	r.metrics.ActiveConnections.Dec()
}
