package handler

import (
	"context"
	"errors"

	"github.com/assetray/realtime/internal/auth"
	"github.com/assetray/realtime/internal/hub"
	"github.com/assetray/realtime/internal/ierr"
)

// AuthenticateRequest carries the identity claimed by the client. The
// upstream application validates users out-of-band, so a plain userId
// is trusted at face value. When a JWT secret is configured the client
// may send a token instead and the verified subject claim wins.
type AuthenticateRequest struct {
	UserId string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

type AuthenticatedAck struct {
	Success bool   `json:"success"`
	UserId  string `json:"userId"`
}

type AuthenticateHandler struct {
	authenticator *auth.Authenticator
}

func NewAuthenticateHandler(authenticator *auth.Authenticator) *AuthenticateHandler {
	return &AuthenticateHandler{
		authenticator,
	}
}

func (h *AuthenticateHandler) Handle(ctx context.Context, req AuthenticateRequest) (*hub.Message, error) {
	connection, ok := hub.ConnectionFromContext(ctx)
	if !ok {
		return nil, errors.New("connection not found in context")
	}

	userId := req.UserId
	if req.Token != "" {
		authentication, err := h.authenticator.AuthenticateJWT(req.Token)
		if err != nil {
			return nil, err
		}

		userId = authentication.Subject
	}

	if userId == "" {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("userId is required"))
	}

	if !connection.Authenticate(userId) {
		return nil, ierr.New(ierr.ErrorCodeFailedPrecondition, errors.New("connection is already authenticated"))
	}

	reply := hub.NewMessage(hub.EventAuthenticated, AuthenticatedAck{
		Success: true,
		UserId:  userId,
	})

	return &reply, nil
}
