package hub

import (
	"encoding/json"
	"time"
)

// Inbound message types accepted from clients.
const (
	TypeAuthenticate          = "authenticate"
	TypeSubscribe             = "subscribe"
	TypeUnsubscribe           = "unsubscribe"
	TypeHeartbeat             = "heartbeat"
	TypeHeartbeatAck          = "heartbeat_ack"
	TypeAssetUpdate           = "asset_update"
	TypeTaskUpdate            = "task_update"
	TypeTaskCompletion        = "task_completion"
	TypeCalendarEvent         = "calendar_event"
	TypeNotificationBroadcast = "notification_broadcast"
	TypeUserActivity          = "user_activity"
	TypeJoinCollaboration     = "join_collaboration"
	TypeLeaveCollaboration    = "leave_collaboration"
	TypeCollaborationUpdate   = "collaboration_update"
)

// Outbound event types emitted by the server.
const (
	EventConnected            = "connected"
	EventAuthenticated        = "authenticated"
	EventSubscribed           = "subscribed"
	EventUnsubscribed         = "unsubscribed"
	EventHeartbeat            = "heartbeat"
	EventError                = "error"
	EventAssetUpdated         = "asset_updated"
	EventTaskUpdated          = "task_updated"
	EventTaskCompleted        = "task_completed"
	EventCalendarEventCreated = "calendar_event_created"
	EventNotification         = "notification"
	EventCollaborationUpdate  = "collaboration_update"
	EventUserActivity         = "user_activity"
)

// Fixed channels fed by the domain event relays.
const (
	ChannelAssets        = "assets"
	ChannelTasks         = "tasks"
	ChannelCalendar      = "calendar"
	ChannelNotifications = "notifications"
	ChannelUserActivity  = "user_activity"
)

const collaborationChannelPrefix = "collaboration_"

// CollaborationChannel derives the broadcast channel that scopes a
// shared editing session.
func CollaborationChannel(sessionId string) string {
	return collaborationChannelPrefix + sessionId
}

// Frame is one inbound client message. Data stays raw until the router
// knows which payload shape the type calls for.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is one outbound server frame. The timestamp is stamped at
// construction time, before the frame is queued for delivery.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func NewMessage(eventType string, data any) Message {
	return Message{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
