package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/assetray/realtime/internal/hub"
	"github.com/assetray/realtime/internal/ierr"
)

type CollaborationRequest struct {
	SessionId string `json:"sessionId"`
}

// PresenceEvent announces membership changes on a collaboration
// session channel.
type PresenceEvent struct {
	Action    string `json:"action"`
	SessionId string `json:"sessionId"`
	UserId    string `json:"userId,omitempty"`
}

const (
	ActionUserJoined = "user_joined"
	ActionUserLeft   = "user_left"
)

type CollaborationHandler struct {
	registry hub.Registry
}

func NewCollaborationHandler(registry hub.Registry) *CollaborationHandler {
	return &CollaborationHandler{
		registry,
	}
}

// Join subscribes the connection to the session channel, then announces
// the join to the whole channel (the joiner included).
func (h *CollaborationHandler) Join(ctx context.Context, req CollaborationRequest) error {
	connection, channel, err := h.sessionChannel(ctx, req)
	if err != nil {
		return err
	}

	if !h.registry.Subscribe(connection.Id, channel) {
		return nil
	}

	h.registry.Broadcast(channel, hub.NewMessage(hub.EventCollaborationUpdate, PresenceEvent{
		Action:    ActionUserJoined,
		SessionId: req.SessionId,
		UserId:    connection.UserId(),
	}))

	return nil
}

// Leave unsubscribes first, so the leaver does not see its own
// departure event, then announces it to the remaining members.
func (h *CollaborationHandler) Leave(ctx context.Context, req CollaborationRequest) error {
	connection, channel, err := h.sessionChannel(ctx, req)
	if err != nil {
		return err
	}

	h.registry.Unsubscribe(connection.Id, channel)

	h.registry.Broadcast(channel, hub.NewMessage(hub.EventCollaborationUpdate, PresenceEvent{
		Action:    ActionUserLeft,
		SessionId: req.SessionId,
		UserId:    connection.UserId(),
	}))

	return nil
}

// Update relays the payload verbatim to every other subscriber of the
// session channel named inside it.
func (h *CollaborationHandler) Update(ctx context.Context, payload json.RawMessage) error {
	var req CollaborationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid collaboration payload: "+err.Error()))
	}

	connection, channel, err := h.sessionChannel(ctx, req)
	if err != nil {
		return err
	}

	h.registry.BroadcastExcept(channel, connection.Id, hub.NewMessage(hub.EventCollaborationUpdate, payload))

	return nil
}

func (h *CollaborationHandler) sessionChannel(ctx context.Context, req CollaborationRequest) (*hub.Connection, string, error) {
	if req.SessionId == "" {
		return nil, "", ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("sessionId is required"))
	}

	connection, ok := hub.ConnectionFromContext(ctx)
	if !ok {
		return nil, "", errors.New("connection not found in context")
	}

	return connection, hub.CollaborationChannel(req.SessionId), nil
}
