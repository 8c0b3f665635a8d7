package interceptor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/security"
)

type actorKey struct{}

func setActor(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func TestAuthInterceptor_Unary(t *testing.T) {
	tm := security.NewTokenManager("0123456789abcdef0123456789abcdef", time.Hour)
	unary := NewAuthInterceptor(tm, setActor).Unary()

	var seen domain.Actor
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		seen, _ = ctx.Value(actorKey{}).(domain.Actor)
		return "ok", nil
	}

	t.Run("Health is public", func(t *testing.T) {
		info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
		resp, err := unary(context.Background(), nil, info, handler)
		require.NoError(t, err)
		assert.Equal(t, "ok", resp)
	})

	t.Run("Other methods need a token", func(t *testing.T) {
		info := &grpc.UnaryServerInfo{FullMethod: "/marketplace.v1.Orders/Get"}
		_, err := unary(context.Background(), nil, info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))

		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer junk"))
		_, err = unary(ctx, nil, info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("Valid token sets the actor", func(t *testing.T) {
		token, err := tm.GenerateAccessToken(21, domain.RoleSupplier)
		require.NoError(t, err)
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
		info := &grpc.UnaryServerInfo{FullMethod: "/marketplace.v1.Orders/Get"}

		_, err = unary(ctx, nil, info, handler)
		require.NoError(t, err)
		assert.Equal(t, domain.Actor{UserID: 21, Role: domain.RoleSupplier}, seen)
	})
}
