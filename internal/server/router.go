package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/assetray/realtime/internal/handler"
	"github.com/assetray/realtime/internal/hub"
	"github.com/assetray/realtime/internal/ierr"
	"github.com/assetray/realtime/internal/metrics"
	"go.uber.org/zap"
)

// Router interprets one inbound frame at a time: it decodes the typed
// payload for the frame's type, dispatches to the matching handler and
// turns failures into a single `error` frame for the sender. Unknown
// types are observed and dropped, never escalated.
type Router struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	authenticateHandler  *handler.AuthenticateHandler
	subscribeHandler     *handler.SubscribeHandler
	unsubscribeHandler   *handler.UnsubscribeHandler
	heartbeatHandler     *handler.HeartbeatHandler
	relayHandler         *handler.RelayHandler
	collaborationHandler *handler.CollaborationHandler
}

func NewRouter(
	logger *zap.Logger,
	metrics *metrics.Metrics,
	authenticateHandler *handler.AuthenticateHandler,
	subscribeHandler *handler.SubscribeHandler,
	unsubscribeHandler *handler.UnsubscribeHandler,
	heartbeatHandler *handler.HeartbeatHandler,
	relayHandler *handler.RelayHandler,
	collaborationHandler *handler.CollaborationHandler,
) *Router {
	return &Router{
		logger,
		metrics,
		authenticateHandler,
		subscribeHandler,
		unsubscribeHandler,
		heartbeatHandler,
		relayHandler,
		collaborationHandler,
	}
}

// Route handles one frame and returns the reply to queue for the
// sender, or nil when the type produces no direct reply.
func (r *Router) Route(ctx context.Context, frame hub.Frame) *hub.Message {
	r.count(frame.Type)

	reply, err := r.handle(ctx, frame)
	if err != nil {
		errorReply := hub.NewMessage(hub.EventError, r.mapError(err))

		return &errorReply
	}

	return reply
}

func (r *Router) handle(ctx context.Context, frame hub.Frame) (*hub.Message, error) {
	switch frame.Type {
	case hub.TypeAuthenticate:
		var req handler.AuthenticateRequest
		if err := decodeData(frame.Data, &req); err != nil {
			return nil, err
		}

		return r.authenticateHandler.Handle(ctx, req)
	case hub.TypeSubscribe:
		var req handler.SubscribeRequest
		if err := decodeData(frame.Data, &req); err != nil {
			return nil, err
		}

		return r.subscribeHandler.Handle(ctx, req)
	case hub.TypeUnsubscribe:
		var req handler.UnsubscribeRequest
		if err := decodeData(frame.Data, &req); err != nil {
			return nil, err
		}

		return r.unsubscribeHandler.Handle(ctx, req)
	case hub.TypeHeartbeat:
		return r.heartbeatHandler.Ping(), nil
	case hub.TypeHeartbeatAck:
		r.heartbeatHandler.Ack(ctx)

		return nil, nil
	case hub.TypeJoinCollaboration:
		var req handler.CollaborationRequest
		if err := decodeData(frame.Data, &req); err != nil {
			return nil, err
		}

		return nil, r.collaborationHandler.Join(ctx, req)
	case hub.TypeLeaveCollaboration:
		var req handler.CollaborationRequest
		if err := decodeData(frame.Data, &req); err != nil {
			return nil, err
		}

		return nil, r.collaborationHandler.Leave(ctx, req)
	case hub.TypeCollaborationUpdate:
		if len(frame.Data) == 0 {
			return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("missing data"))
		}

		return nil, r.collaborationHandler.Update(ctx, frame.Data)
	default:
		if r.relayHandler.Routes(frame.Type) {
			return nil, r.relayHandler.Handle(frame.Type, frame.Data)
		}

		// Forward-compatibility: newer clients may send types this
		// server does not know yet.
		r.logger.Debug("ignoring unknown message type",
			zap.String("type", frame.Type))

		return nil, nil
	}
}

func (r *Router) mapError(err error) ierr.Error {
	var codedErr ierr.Error
	if errors.As(err, &codedErr) {
		return codedErr
	}

	r.logger.Error("error in message handler", zap.Error(err))

	return ierr.New(ierr.ErrorCodeInternal, errors.New("internal error"))
}

// count records the inbound type, folding unrecognized values into one
// label to keep cardinality bounded.
func (r *Router) count(messageType string) {
	label := "unknown"

	switch messageType {
	case hub.TypeAuthenticate, hub.TypeSubscribe, hub.TypeUnsubscribe,
		hub.TypeHeartbeat, hub.TypeHeartbeatAck,
		hub.TypeJoinCollaboration, hub.TypeLeaveCollaboration,
		hub.TypeCollaborationUpdate:
		label = messageType
	default:
		if r.relayHandler.Routes(messageType) {
			label = messageType
		}
	}

	r.metrics.MessagesReceived.WithLabelValues(label).Inc()
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("missing data"))
	}

	if err := json.Unmarshal(data, v); err != nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid data: "+err.Error()))
	}

	return nil
}
