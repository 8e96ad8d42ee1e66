package utils

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikasavnish/stockwatch/internal/identity"
)

func TestIdentityContext(t *testing.T) {
	_, err := GetIdentityFromContext(context.Background())
	assert.Error(t, err)

	ctx := SetIdentityToContext(context.Background(), identity.Identity{UserID: "u1", Email: "a@example.com"})
	id, err := GetIdentityFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
}
