package port

import (
	"context"

	"gasfeed/internal/domain"
)

// Verifier turns a bearer credential into a verified identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// Authorizer decides whether an identity may join a topic.
type Authorizer interface {
	Authorize(ctx context.Context, id domain.Identity, topic domain.Topic) error
}

type AuthorizerFunc func(ctx context.Context, id domain.Identity, topic domain.Topic) error

func (f AuthorizerFunc) Authorize(ctx context.Context, id domain.Identity, topic domain.Topic) error {
	return f(ctx, id, topic)
}
