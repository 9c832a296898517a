package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jjudge-oj/accounts/types"
)

var (
	// ErrBadCredentials covers both an unknown username and a wrong password.
	ErrBadCredentials = errors.New("bad credentials")
	// ErrAccountDisabled is returned for a correct password on an account
	// that is not ACTIVE.
	ErrAccountDisabled = errors.New("account is not active")
)

// CredentialStore is the slice of the user store the gate needs.
type CredentialStore interface {
	GetByUsername(ctx context.Context, username string) (types.User, bool, error)
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
}

// Authenticator verifies username/password pairs.
type Authenticator struct {
	store  CredentialStore
	hasher PasswordHasher
	logger *zap.Logger
	now    func() time.Time

	dummyOnce   sync.Once
	dummyDigest string
}

func NewAuthenticator(store CredentialStore, hasher PasswordHasher, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		store:  store,
		hasher: hasher,
		logger: logger.With(zap.String("component", "auth.authenticator")),
		now:    time.Now,
	}
}

// Authenticate returns the stored user when password matches. On success the
// user's last-login time is updated; a failure to persist it is logged and
// does not fail the login.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (types.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return types.User{}, ErrBadCredentials
	}

	user, found, err := a.store.GetByUsername(ctx, username)
	if err != nil {
		return types.User{}, fmt.Errorf("load user: %w", err)
	}
	if !found {
		a.burnHash(password)
		return types.User{}, ErrBadCredentials
	}

	ok, err := a.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return types.User{}, fmt.Errorf("verify password for user %d: %w", user.ID, err)
	}
	if !ok {
		return types.User{}, ErrBadCredentials
	}
	if !user.IsActive() {
		return types.User{}, ErrAccountDisabled
	}

	now := a.now().UTC()
	if err := a.store.UpdateLastLogin(ctx, user.ID, now); err != nil {
		a.logger.Warn("failed to record last login",
			zap.Int64("user_id", user.ID),
			zap.Error(err),
		)
	} else {
		user.LastLogin = &now
	}
	return user, nil
}

// burnHash spends roughly the same time as a real verification so response
// timing does not reveal whether a username exists.
func (a *Authenticator) burnHash(password string) {
	a.dummyOnce.Do(func() {
		digest, err := a.hasher.Hash("not-a-real-password")
		if err == nil {
			a.dummyDigest = digest
		}
	})
	if a.dummyDigest != "" {
		_, _ = a.hasher.Verify(password, a.dummyDigest)
	}
}
