package domain

import "context"

// Identity is the authenticated caller. It is produced by the authenticator
// and never taken from event payloads.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"username"`
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
