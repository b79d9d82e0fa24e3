package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/assetray/realtime/internal/auth"
	"github.com/assetray/realtime/internal/handler"
	"github.com/assetray/realtime/internal/hub"
	"github.com/assetray/realtime/internal/ierr"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type PublishResponse struct {
	Id        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// RESTServer lets out-of-process producers (the data service, batch
// jobs) inject domain events through the same relay path the socket
// uses.
type RESTServer struct {
	logger        *zap.Logger
	relayHandler  *handler.RelayHandler
	authenticator *auth.Authenticator
}

func NewRESTServer(
	logger *zap.Logger,
	relayHandler *handler.RelayHandler,
	authenticator *auth.Authenticator,
) *RESTServer {
	return &RESTServer{
		logger,
		relayHandler,
		authenticator,
	}
}

func (s *RESTServer) Register(router *mux.Router) {
	router.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			return
		}

		authentication, err := s.authenticate(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		if !authentication.IsPublisher() {
			http.Error(w, "publish scope required", http.StatusForbidden)
			return
		}

		var frame hub.Frame
		if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := s.relayHandler.Handle(frame.Type, frame.Data); err != nil {
			var codedErr ierr.Error
			if errors.As(err, &codedErr) && codedErr.Code == ierr.ErrorCodeNotFound {
				http.Error(w, "unknown event type", http.StatusBadRequest)
				return
			}

			s.logger.Error("failed to relay event", zap.Error(err))
			http.Error(w, "failed to relay event", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(PublishResponse{
			Id:        uuid.NewString(),
			Timestamp: time.Now().UTC(),
		})
	}).Methods(http.MethodPost, http.MethodOptions)
}

func (s *RESTServer) authenticate(r *http.Request) (*auth.Authentication, error) {
	header := r.Header.Get("Authorization")

	bearer, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || bearer == "" {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("missing bearer token"))
	}

	authentication, err := s.authenticator.AuthenticateAPIKey(bearer)
	if err == nil {
		return authentication, nil
	}

	return s.authenticator.AuthenticateJWT(bearer)
}
