package hub

import (
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Connection is the canonical record for one client session. The
// registry owns the record; the websocket server drains Send and owns
// the underlying socket. All sends into Send go through the registry so
// that a send can never race the channel close during cleanup.
type Connection struct {
	Id   string
	Send chan Message

	mu              sync.RWMutex
	userId          string
	authenticated   bool
	lastHeartbeatAt time.Time
}

func NewConnection(sendBuffer int) *Connection {
	return &Connection{
		Id:              gonanoid.Must(),
		Send:            make(chan Message, sendBuffer),
		lastHeartbeatAt: time.Now(),
	}
}

// Authenticate records the identity on the connection. It succeeds at
// most once per connection lifetime; re-authentication is rejected.
func (c *Connection) Authenticate(userId string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authenticated {
		return false
	}

	c.userId = userId
	c.authenticated = true

	return true
}

func (c *Connection) UserId() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.userId
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.authenticated
}

// TouchHeartbeat refreshes the liveness timestamp. Called when a
// heartbeat_ack arrives from the client.
func (c *Connection) TouchHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastHeartbeatAt = time.Now()
}

func (c *Connection) LastHeartbeatAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lastHeartbeatAt
}
