package grpc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"material-exchange-backend/internal/domain"
)

type actorKey struct{}

// WithActor stores the authenticated caller on ctx.
func WithActor(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the caller placed on ctx by the auth interceptor.
func ActorFromContext(ctx context.Context) (domain.Actor, error) {
	a, ok := ctx.Value(actorKey{}).(domain.Actor)
	if !ok {
		return domain.Actor{}, status.Error(codes.Unauthenticated, "caller is not authenticated")
	}
	return a, nil
}
