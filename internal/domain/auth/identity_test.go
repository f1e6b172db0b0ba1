package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	for _, r := range []Role{RoleGuest, RoleCustomer, RoleProvider, RoleAdmin} {
		got, err := ParseRole(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	_, err := ParseRole("root")
	require.ErrorIs(t, err, ErrInvalidRole)
}

func TestCanShop(t *testing.T) {
	assert.False(t, RoleGuest.CanShop())
	assert.False(t, Role{}.CanShop())
	assert.True(t, RoleCustomer.CanShop())
	assert.True(t, RoleProvider.CanShop())
	assert.True(t, RoleAdmin.CanShop())
}

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFrom(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{UserID: 7, Role: RoleCustomer})
	id, ok := IdentityFrom(ctx)
	require.True(t, ok)
	assert.EqualValues(t, 7, id.UserID)
	assert.Equal(t, RoleCustomer, id.Role)
}
