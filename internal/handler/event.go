package handler

import (
	"encoding/json"
	"errors"

	"github.com/assetray/realtime/internal/hub"
	"github.com/assetray/realtime/internal/ierr"
)

type relayRoute struct {
	event   string
	channel string
}

// relayRoutes maps each domain update type to its canonical outbound
// event and the fixed channel its subscribers listen on.
var relayRoutes = map[string]relayRoute{
	hub.TypeAssetUpdate:           {hub.EventAssetUpdated, hub.ChannelAssets},
	hub.TypeTaskUpdate:            {hub.EventTaskUpdated, hub.ChannelTasks},
	hub.TypeTaskCompletion:        {hub.EventTaskCompleted, hub.ChannelTasks},
	hub.TypeCalendarEvent:         {hub.EventCalendarEventCreated, hub.ChannelCalendar},
	hub.TypeNotificationBroadcast: {hub.EventNotification, hub.ChannelNotifications},
	hub.TypeUserActivity:          {hub.EventUserActivity, hub.ChannelUserActivity},
}

// RelayHandler re-wraps inbound domain updates and fans them out to the
// subscribers of the matching fixed channel. Payloads pass through
// verbatim.
type RelayHandler struct {
	registry hub.Registry
}

func NewRelayHandler(registry hub.Registry) *RelayHandler {
	return &RelayHandler{
		registry,
	}
}

// Routes reports whether messageType is a known domain update.
func (h *RelayHandler) Routes(messageType string) bool {
	_, ok := relayRoutes[messageType]

	return ok
}

func (h *RelayHandler) Handle(messageType string, payload json.RawMessage) error {
	route, ok := relayRoutes[messageType]
	if !ok {
		return ierr.New(ierr.ErrorCodeNotFound, errors.New("unknown event type: "+messageType))
	}

	h.registry.Broadcast(route.channel, hub.NewMessage(route.event, payload))

	return nil
}
