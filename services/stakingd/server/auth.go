package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	"stakeledger/native/staking"
)

type contextKey string

const contextKeyCaller contextKey = "caller"

// Authenticator verifies bearer tokens and resolves the calling account.
type Authenticator struct {
	secret []byte
	admins map[common.Address]struct{}
	now    func() time.Time
}

// NewAuthenticator builds an HS256 verifier with an admin allowlist.
func NewAuthenticator(secret string, admins []common.Address) *Authenticator {
	allowed := make(map[common.Address]struct{}, len(admins))
	for _, admin := range admins {
		allowed[admin] = struct{}{}
	}
	return &Authenticator{secret: []byte(secret), admins: allowed, now: time.Now}
}

// HasRole implements staking.RoleChecker against the admin allowlist.
func (a *Authenticator) HasRole(role string, account common.Address) bool {
	if role != staking.RoleStakingAdmin {
		return false
	}
	_, ok := a.admins[account]
	return ok
}

// IsAdmin reports whether the account is on the admin allowlist.
func (a *Authenticator) IsAdmin(account common.Address) bool {
	_, ok := a.admins[account]
	return ok
}

// IssueToken mints a bearer token for an account. Exposed for tests and the
// local token helper command.
func (a *Authenticator) IssueToken(account common.Address, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"sub": account.Hex(),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) verify(token string) (common.Address, error) {
	claims := jwt.MapClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
		jwt.WithExpirationRequired(),
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return common.Address{}, err
	}
	if !parsed.Valid {
		return common.Address{}, errors.New("token validation failed")
	}
	sub, _ := claims["sub"].(string)
	sub = strings.TrimSpace(sub)
	if !common.IsHexAddress(sub) {
		return common.Address{}, fmt.Errorf("token subject %q is not an account address", sub)
	}
	return common.HexToAddress(sub), nil
}

// Middleware rejects requests without a valid bearer token and attaches the
// caller account to the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		if authz == "" {
			http.Error(w, "missing authorization", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(authz, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			http.Error(w, "invalid authorization scheme", http.StatusUnauthorized)
			return
		}
		caller, err := a.verify(strings.TrimSpace(parts[1]))
		if err != nil {
			http.Error(w, "invalid authorization token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyCaller, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerFromContext extracts the authenticated account.
func CallerFromContext(ctx context.Context) (common.Address, error) {
	caller, ok := ctx.Value(contextKeyCaller).(common.Address)
	if !ok {
		return common.Address{}, errors.New("missing caller in context")
	}
	return caller, nil
}
