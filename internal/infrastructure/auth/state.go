// Package auth signs and verifies the OAuth state parameter used on the
// QuickBooks consent round trip.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/qbsync/backend/internal/domain/shared"
	"github.com/qbsync/backend/internal/infrastructure/config"
)

const (
	stateIssuer    = "qbsync"
	stateKeyPrefix = "oauth_state:"
	// DefaultStateTTL bounds how long a user may sit on the consent screen
	DefaultStateTTL = 10 * time.Minute
)

// Common errors
var (
	ErrInvalidState = errors.New("invalid oauth state")
	ErrExpiredState = errors.New("oauth state has expired")
	ErrStateReused  = errors.New("oauth state has already been used")
)

// StateClaims are the claims carried by a state token
type StateClaims struct {
	jwt.RegisteredClaims
}

// StateService issues and verifies single-use OAuth state tokens. A state is
// an HS256 JWT, so it needs no server-side storage until it is redeemed, at
// which point its ID is recorded in the ledger to block replays.
type StateService struct {
	secret []byte
	ttl    time.Duration
	used   shared.IdempotencyStore
	now    func() time.Time
}

// NewStateService creates a state service. An empty secret is replaced by a
// random one, which invalidates outstanding states on restart.
func NewStateService(cfg config.AuthConfig, used shared.IdempotencyStore) (*StateService, error) {
	secret := []byte(cfg.StateSecret)
	if len(secret) == 0 {
		generated, err := GenerateSecret()
		if err != nil {
			return nil, err
		}
		secret = []byte(generated)
	}
	ttl := cfg.StateTTL
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateService{
		secret: secret,
		ttl:    ttl,
		used:   used,
		now:    time.Now,
	}, nil
}

// GenerateSecret returns 32 random bytes hex encoded
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// TTL returns how long an issued state stays valid
func (s *StateService) TTL() time.Duration {
	return s.ttl
}

// Issue returns a fresh signed state
func (s *StateService) Issue() (string, error) {
	now := s.now()
	claims := &StateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks the signature and expiry of state and consumes it. A second
// Verify of the same state returns ErrStateReused.
func (s *StateService) Verify(ctx context.Context, state string) (*StateClaims, error) {
	token, err := jwt.ParseWithClaims(state, &StateClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidState
		}
		return s.secret, nil
	},
		jwt.WithIssuer(stateIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredState
		}
		return nil, ErrInvalidState
	}

	claims, ok := token.Claims.(*StateClaims)
	if !ok || !token.Valid || claims.ID == "" {
		return nil, ErrInvalidState
	}

	if s.used != nil {
		fresh, err := s.used.MarkProcessed(ctx, stateKeyPrefix+claims.ID, s.ttl)
		if err != nil {
			return nil, fmt.Errorf("record oauth state: %w", err)
		}
		if !fresh {
			return nil, ErrStateReused
		}
	}

	return claims, nil
}
