package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/jjudge-oj/accounts/config"
	"github.com/jjudge-oj/accounts/types"
)

// MinSecretBytes is the smallest HMAC-SHA256 key accepted.
const MinSecretBytes = 32

// ErrToken marks an invalid, expired, or tampered token.
var ErrToken = errors.New("invalid token")

// Claims is the payload of an access token.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role,omitempty"`
}

// Codec issues and verifies HS256 access tokens. It holds no mutable state
// and is safe for concurrent use.
type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// CodecOption customizes a Codec.
type CodecOption func(*Codec)

// WithClock replaces the time source used for iat/exp and validation.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec builds a codec from the token configuration. The secret is used
// as raw key bytes.
func NewCodec(cfg config.JWTConfig, logger *zap.Logger, opts ...CodecOption) (*Codec, error) {
	if len(cfg.Secret) < MinSecretBytes {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretBytes)
	}
	// exp is encoded in whole seconds.
	ttl := cfg.Expiration().Truncate(time.Second)
	if ttl < time.Second {
		return nil, errors.New("jwt expiration must be at least one second")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Codec{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With(zap.String("component", "auth.codec")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ExpiresIn returns the lifetime of issued tokens.
func (c *Codec) ExpiresIn() time.Duration {
	return c.ttl
}

// Issue signs a token asserting user's identity.
func (c *Codec) Issue(user types.User) (string, error) {
	now := c.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
		UserID: user.ID,
		Email:  user.Email,
		Role:   string(user.Role),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Validate reports whether token is well-formed, correctly signed, issued by
// the configured issuer and not yet expired. A token is expired at its exp
// instant.
func (c *Codec) Validate(token string) bool {
	if _, err := c.parse(token); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			c.logger.Debug("expired token", zap.Error(err))
		} else {
			c.logger.Warn("invalid token", zap.Error(err))
		}
		return false
	}
	return true
}

// DecodeIdentity extracts the caller identity from a valid token. A token
// without a role claim still yields an identity, with an empty authority.
func (c *Codec) DecodeIdentity(token string) (Identity, bool) {
	claims, err := c.parse(token)
	if err != nil {
		c.logger.Warn("cannot decode identity", zap.Error(err))
		return Identity{}, false
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, false
	}
	role := types.Role(claims.Role)
	return Identity{
		Username:  claims.Subject,
		Role:      role,
		Authority: AuthorityFor(role),
	}, true
}

// SubjectOf returns the username of a token already known to be valid.
// Calling it on an invalid token returns an error wrapping ErrToken.
func (c *Codec) SubjectOf(token string) (string, error) {
	claims, err := c.parse(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (c *Codec) parse(token string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return c.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrToken, err)
	}
	if !parsed.Valid {
		return nil, ErrToken
	}
	return claims, nil
}
