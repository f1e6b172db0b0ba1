package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
	"github.com/xenking/marketplace-checkout/internal/domain/auth"
)

// Claims are the bearer token claims issued by the identity service.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	key    []byte
	parser *jwt.Parser
}

// NewAuthenticator returns an Authenticator for secret. A non-empty issuer
// is required to match the iss claim.
func NewAuthenticator(secret []byte, issuer string) *Authenticator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Authenticator{key: secret, parser: jwt.NewParser(opts...)}
}

// Verify parses token and returns the caller identity.
func (a *Authenticator) Verify(token string) (auth.Identity, error) {
	var claims Claims
	_, err := a.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	})
	if err != nil {
		return auth.Identity{}, errors.Wrap(err, "parse token")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return auth.Identity{}, errors.Errorf("invalid subject %q", claims.Subject)
	}
	role, err := auth.ParseRole(claims.Role)
	if err != nil {
		return auth.Identity{}, err
	}
	return auth.Identity{UserID: userID, Role: role}, nil
}

// Middleware rejects requests without a valid bearer token (401) and guests
// (403), and stores the identity for handlers.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeProblem(w, http.StatusUnauthorized, kindUnauthenticated, "bearer token required", nil)
			return
		}

		id, err := a.Verify(strings.TrimSpace(token))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeProblem(w, http.StatusUnauthorized, kindUnauthenticated, "invalid token", nil)
			return
		}
		if !id.Role.CanShop() {
			writeProblem(w, http.StatusForbidden, apperr.KindForbidden.String(), "guests cannot use the cart", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}
