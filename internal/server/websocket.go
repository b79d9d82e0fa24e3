package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/assetray/realtime/internal/hub"
	"github.com/assetray/realtime/internal/ierr"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ConnectedAck struct {
	ConnectionId string `json:"connectionId"`
}

type WebSocketServer struct {
	logger   *zap.Logger
	upgrader *websocket.Upgrader
	registry hub.Registry
	router   *Router

	readLimit  int64
	sendBuffer int
}

func NewWebSocketServer(
	logger *zap.Logger,
	upgrader *websocket.Upgrader,
	registry hub.Registry,
	router *Router,
	readLimit int64,
	sendBuffer int,
) *WebSocketServer {
	return &WebSocketServer{
		logger:     logger,
		upgrader:   upgrader,
		registry:   registry,
		router:     router,
		readLimit:  readLimit,
		sendBuffer: sendBuffer,
	}
}

func (s *WebSocketServer) Register(router *mux.Router) {
	router.HandleFunc("/ws", s.serve)
}

func (s *WebSocketServer) serve(w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))

		return
	}

	socket.SetReadLimit(s.readLimit)

	connection := hub.NewConnection(s.sendBuffer)
	s.registry.Add(connection)

	s.logger.Info("connection established",
		zap.String("connectionId", connection.Id))

	go s.writePump(socket, connection)

	s.registry.Send(connection.Id, hub.NewMessage(hub.EventConnected, ConnectedAck{
		ConnectionId: connection.Id,
	}))

	s.readPump(r, socket, connection)
}

// readPump processes inbound frames strictly in arrival order. Any read
// error, including a peer close, tears the connection down the same way
// a liveness eviction does.
func (s *WebSocketServer) readPump(r *http.Request, socket *websocket.Conn, connection *hub.Connection) {
	ctx := hub.WithConnection(r.Context(), connection)

	for {
		_, raw, err := socket.ReadMessage()
		if err != nil {
			break
		}

		var frame hub.Frame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Type == "" {
			s.registry.Send(connection.Id, hub.NewMessage(hub.EventError,
				ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("unparseable frame"))))

			continue
		}

		if reply := s.router.Route(ctx, frame); reply != nil {
			if !s.registry.Send(connection.Id, *reply) {
				break
			}
		}
	}

	s.registry.Remove(connection.Id)

	s.logger.Info("connection closed",
		zap.String("connectionId", connection.Id))
}

// writePump owns the socket for writing. It drains the send queue until
// the registry closes it during cleanup, then signals a normal closure
// to the peer.
func (s *WebSocketServer) writePump(socket *websocket.Conn, connection *hub.Connection) {
	for message := range connection.Send {
		if err := socket.WriteJSON(message); err != nil {
			s.logger.Debug("write failed",
				zap.String("connectionId", connection.Id),
				zap.Error(err))

			s.registry.Remove(connection.Id)

			// Keep draining so cleanup never blocks on the queue.
			for range connection.Send {
			}

			break
		}
	}

	socket.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	socket.Close()
}
