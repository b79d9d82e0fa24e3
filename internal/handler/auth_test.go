package handler

import (
	"context"
	"testing"
	"time"

	"github.com/assetray/realtime/internal/auth"
	"github.com/assetray/realtime/internal/hub"
	"github.com/assetray/realtime/internal/ierr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateHandler(t *testing.T) {
	authenticator := auth.NewAuthenticator("test-secret", nil)
	authenticateHandler := NewAuthenticateHandler(authenticator)

	t.Run("trusted userId", func(t *testing.T) {
		registry := newTestRegistry()
		connection := hub.NewConnection(16)
		registry.Add(connection)
		ctx := hub.WithConnection(context.Background(), connection)

		reply, err := authenticateHandler.Handle(ctx, AuthenticateRequest{UserId: "u1"})

		require.NoError(t, err)
		require.NotNil(t, reply)
		assert.Equal(t, hub.EventAuthenticated, reply.Type)
		assert.Equal(t, AuthenticatedAck{Success: true, UserId: "u1"}, reply.Data)
		assert.True(t, connection.IsAuthenticated())
		assert.Equal(t, "u1", connection.UserId())
	})

	t.Run("re-authentication rejected", func(t *testing.T) {
		connection := hub.NewConnection(16)
		ctx := hub.WithConnection(context.Background(), connection)

		_, err := authenticateHandler.Handle(ctx, AuthenticateRequest{UserId: "u1"})
		require.NoError(t, err)

		_, err = authenticateHandler.Handle(ctx, AuthenticateRequest{UserId: "u2"})
		require.Error(t, err)

		var codedErr ierr.Error
		require.ErrorAs(t, err, &codedErr)
		assert.Equal(t, ierr.ErrorCodeFailedPrecondition, codedErr.Code)
		assert.Equal(t, "u1", connection.UserId())
	})

	t.Run("missing identity", func(t *testing.T) {
		connection := hub.NewConnection(16)
		ctx := hub.WithConnection(context.Background(), connection)

		_, err := authenticateHandler.Handle(ctx, AuthenticateRequest{})

		var codedErr ierr.Error
		require.ErrorAs(t, err, &codedErr)
		assert.Equal(t, ierr.ErrorCodeInvalidArgument, codedErr.Code)
	})

	t.Run("verified token subject wins", func(t *testing.T) {
		connection := hub.NewConnection(16)
		ctx := hub.WithConnection(context.Background(), connection)

		claims := jwt.MapClaims{
			"sub": "token-user",
			"exp": time.Now().Add(time.Hour).Unix(),
			"iat": time.Now().Unix(),
			"aud": "realtime",
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		tokenString, err := token.SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = authenticateHandler.Handle(ctx, AuthenticateRequest{UserId: "ignored", Token: tokenString})

		require.NoError(t, err)
		assert.Equal(t, "token-user", connection.UserId())
	})

	t.Run("invalid token", func(t *testing.T) {
		connection := hub.NewConnection(16)
		ctx := hub.WithConnection(context.Background(), connection)

		_, err := authenticateHandler.Handle(ctx, AuthenticateRequest{Token: "garbage"})

		require.Error(t, err)
		assert.False(t, connection.IsAuthenticated())
	})
}
