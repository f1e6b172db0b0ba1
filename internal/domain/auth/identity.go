// Package auth describes the verified caller of a request.
package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// Role is a closed set of caller roles.
type Role struct{ name string }

var (
	RoleGuest    = Role{"guest"}
	RoleCustomer = Role{"customer"}
	RoleProvider = Role{"provider"}
	RoleAdmin    = Role{"admin"}
)

// ErrInvalidRole is returned by ParseRole for unknown names.
var ErrInvalidRole = errors.New("invalid role")

// ParseRole maps a claim value to a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case RoleGuest.name, RoleCustomer.name, RoleProvider.name, RoleAdmin.name:
		return Role{s}, nil
	}
	return Role{}, errors.Wrapf(ErrInvalidRole, "%q", s)
}

func (r Role) String() string { return r.name }

// CanShop reports whether the role may own a cart and place orders.
func (r Role) CanShop() bool {
	return r != RoleGuest && r != Role{}
}

// Identity is the caller established at the HTTP boundary.
type Identity struct {
	UserID int64
	Role   Role
}

type identityKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
