package handler

import (
	"context"
	"errors"

	"github.com/assetray/realtime/internal/hub"
)

type UnsubscribeRequest struct {
	Channel string `json:"channel"`
}

type UnsubscribedAck struct {
	Channel string `json:"channel"`
}

type UnsubscribeHandler struct {
	channelValidator *ChannelValidator
	registry         hub.Registry
}

func NewUnsubscribeHandler(
	channelValidator *ChannelValidator,
	registry hub.Registry,
) *UnsubscribeHandler {
	return &UnsubscribeHandler{
		channelValidator,
		registry,
	}
}

func (h *UnsubscribeHandler) Handle(ctx context.Context, req UnsubscribeRequest) (*hub.Message, error) {
	err := h.channelValidator.Validate(req.Channel)
	if err != nil {
		return nil, err
	}

	connection, ok := hub.ConnectionFromContext(ctx)
	if !ok {
		return nil, errors.New("connection not found in context")
	}

	if !h.registry.Unsubscribe(connection.Id, req.Channel) {
		return nil, nil
	}

	reply := hub.NewMessage(hub.EventUnsubscribed, UnsubscribedAck{
		Channel: req.Channel,
	})

	return &reply, nil
}
