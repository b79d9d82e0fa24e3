package handler

import (
	"context"
	"errors"

	"github.com/assetray/realtime/internal/hub"
)

type SubscribeRequest struct {
	Channel string `json:"channel"`
}

type SubscribedAck struct {
	Channel string `json:"channel"`
}

type SubscribeHandler struct {
	channelValidator *ChannelValidator
	registry         hub.Registry
}

func NewSubscribeHandler(
	channelValidator *ChannelValidator,
	registry hub.Registry,
) *SubscribeHandler {
	return &SubscribeHandler{
		channelValidator,
		registry,
	}
}

func (h *SubscribeHandler) Handle(ctx context.Context, req SubscribeRequest) (*hub.Message, error) {
	err := h.channelValidator.Validate(req.Channel)
	if err != nil {
		return nil, err
	}

	connection, ok := hub.ConnectionFromContext(ctx)
	if !ok {
		return nil, errors.New("connection not found in context")
	}

	if !h.registry.Subscribe(connection.Id, req.Channel) {
		// Already cleaned up; the socket is on its way out.
		return nil, nil
	}

	reply := hub.NewMessage(hub.EventSubscribed, SubscribedAck{
		Channel: req.Channel,
	})

	return &reply, nil
}
