// Package credentials defines the boundary to the external token store.
// OAuth exchange and encryption at rest live on the other side of it.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAuthFailed signals an invalid, expired, or revoked credential. The
// dispatcher treats it exactly like an auth_failure classification from the
// provider call itself.
var ErrAuthFailed = errors.New("credential auth failed")

// Credential is a bearer token valid for one account.
type Credential struct {
	AccountID   string
	AccessToken string
	ExpiresAt   time.Time
}

// Resolver returns a valid bearer credential for an account, or an error
// wrapping ErrAuthFailed when the credential is known dead.
type Resolver interface {
	Resolve(ctx context.Context, accountID string) (Credential, error)
}

// StaticResolver serves credentials from a fixed map. Used for local
// development and tests; production wires the real token service.
type StaticResolver struct {
	Tokens map[string]string
}

func (r *StaticResolver) Resolve(_ context.Context, accountID string) (Credential, error) {
	token, ok := r.Tokens[accountID]
	if !ok || token == "" {
		return Credential{}, fmt.Errorf("account %s: %w", accountID, ErrAuthFailed)
	}
	return Credential{AccountID: accountID, AccessToken: token}, nil
}
