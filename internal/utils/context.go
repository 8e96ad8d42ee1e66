package utils

import (
	"context"
	"errors"

	"github.com/vikasavnish/stockwatch/internal/identity"
)

// Key type for context values
type contextKey string

// Constant for identity context key
const identityKey contextKey = "identity"

// GetIdentityFromContext extracts the authenticated identity from the context
func GetIdentityFromContext(ctx context.Context) (identity.Identity, error) {
	id, ok := ctx.Value(identityKey).(identity.Identity)
	if !ok || id.UserID == "" {
		return identity.Identity{}, errors.New("identity not found in context")
	}
	return id, nil
}

// SetIdentityToContext adds the identity to the context
func SetIdentityToContext(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}
