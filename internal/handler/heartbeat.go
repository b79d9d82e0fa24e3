package handler

import (
	"context"
	"time"

	"github.com/assetray/realtime/internal/hub"
)

type HeartbeatPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

type HeartbeatHandler struct{}

func NewHeartbeatHandler() *HeartbeatHandler {
	return &HeartbeatHandler{}
}

// Ping answers a client-initiated heartbeat. It does not feed liveness;
// only heartbeat_ack does.
func (h *HeartbeatHandler) Ping() *hub.Message {
	reply := hub.NewMessage(hub.EventHeartbeat, HeartbeatPayload{
		Timestamp: time.Now().UTC(),
	})

	return &reply
}

// Ack refreshes the liveness timestamp for the sending connection.
func (h *HeartbeatHandler) Ack(ctx context.Context) {
	connection, ok := hub.ConnectionFromContext(ctx)
	if !ok {
		return
	}

	connection.TouchHeartbeat()
}
