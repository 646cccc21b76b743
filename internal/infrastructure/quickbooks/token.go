package quickbooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/qbsync/backend/internal/domain/integration"
)

// expiryDelta is how early a cached access token is treated as expired
const expiryDelta = 60 * time.Second

// Token is the persisted OAuth2 state for one QuickBooks company
type Token struct {
	AccessToken        string    `json:"access_token"`
	RefreshToken       string    `json:"refresh_token"`
	TokenType          string    `json:"token_type,omitempty"`
	Expiry             time.Time `json:"expiry,omitzero"`
	RefreshTokenExpiry time.Time `json:"refresh_token_expiry,omitzero"`
	RealmID            string    `json:"realm_id,omitempty"`
	UpdatedAt          time.Time `json:"updated_at,omitzero"`
}

// TokenStore persists tokens between runs
type TokenStore interface {
	// Load returns nil and no error when nothing is stored
	Load() (*Token, error)
	Save(token *Token) error
}

// FileTokenStore keeps the token in a JSON file readable only by the owner
type FileTokenStore struct {
	path string
}

// NewFileTokenStore creates a file-backed token store
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Load reads the token file
func (s *FileTokenStore) Load() (*Token, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("quickbooks: read token file: %w", err)
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("quickbooks: parse token file: %w", err)
	}
	return &tok, nil
}

// Save writes the token file atomically
func (s *FileTokenStore) Save(token *Token) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("quickbooks: create token dir: %w", err)
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("quickbooks: encode token: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("quickbooks: write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("quickbooks: replace token file: %w", err)
	}
	return nil
}

// TokenSource hands out access tokens, refreshing them with the stored
// refresh token and persisting each rotated refresh token.
type TokenSource struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	store      TokenStore
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.Mutex
	token Token
}

// NewTokenSource creates a token source. A stored token wins over the
// credentials in config; the config realm fills in a missing stored realm.
func NewTokenSource(cfg *Config, store TokenStore, logger *zap.Logger) (*TokenSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &TokenSource{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{AccountingScope},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient: &http.Client{Timeout: cfg.Timeout},
		store:      store,
		logger:     logger,
		now:        time.Now,
		token: Token{
			AccessToken:  cfg.AccessToken,
			RefreshToken: cfg.RefreshToken,
			RealmID:      cfg.RealmID,
		},
	}

	if store != nil {
		stored, err := store.Load()
		if err != nil {
			logger.Warn("ignoring unreadable token store", zap.Error(err))
		} else if stored != nil && stored.RefreshToken != "" {
			realm := s.token.RealmID
			s.token = *stored
			if s.token.RealmID == "" {
				s.token.RealmID = realm
			}
			logger.Info("loaded QuickBooks token from store",
				zap.String("realm_id", s.token.RealmID),
				zap.Time("expiry", s.token.Expiry))
		}
	}

	return s, nil
}

// AccessToken returns a valid access token, refreshing it when it is
// missing or within a minute of expiry
func (s *TokenSource) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.validLocked() {
		return s.token.AccessToken, nil
	}
	if s.token.RefreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token, authorize the app first", integration.ErrPlatformAuthFailed)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	tok, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: s.token.RefreshToken}).Token()
	if err != nil {
		return "", wrapOAuthError("refresh token", err)
	}
	s.applyLocked(tok)
	s.persistLocked()

	s.logger.Info("QuickBooks access token refreshed", zap.Time("expiry", s.token.Expiry))
	return s.token.AccessToken, nil
}

// Invalidate drops the cached access token so the next call refreshes
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token.AccessToken = ""
}

// RealmID returns the connected company ID
func (s *TokenSource) RealmID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token.RealmID
}

// Snapshot returns a copy of the current token state
func (s *TokenSource) Snapshot() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// AuthCodeURL returns the Intuit consent page URL for the given state
func (s *TokenSource) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens and stores them with
// the company ID returned on the callback
func (s *TokenSource) Exchange(ctx context.Context, code, realmID string) error {
	if code == "" {
		return fmt.Errorf("%w: missing authorization code", integration.ErrPlatformAuthFailed)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return wrapOAuthError("exchange code", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(tok)
	if realmID != "" {
		s.token.RealmID = realmID
	}
	if s.store != nil {
		if err := s.store.Save(&s.token); err != nil {
			return err
		}
	}
	s.logger.Info("QuickBooks authorization completed", zap.String("realm_id", s.token.RealmID))
	return nil
}

func (s *TokenSource) validLocked() bool {
	if s.token.AccessToken == "" {
		return false
	}
	// A token without a known expiry is used until the API rejects it.
	if s.token.Expiry.IsZero() {
		return true
	}
	return s.now().Add(expiryDelta).Before(s.token.Expiry)
}

func (s *TokenSource) applyLocked(tok *oauth2.Token) {
	s.token.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		s.token.RefreshToken = tok.RefreshToken
	}
	s.token.TokenType = tok.TokenType
	s.token.Expiry = tok.Expiry
	if secs, ok := tok.Extra("x_refresh_token_expires_in").(float64); ok && secs > 0 {
		s.token.RefreshTokenExpiry = s.now().Add(time.Duration(secs) * time.Second)
	}
	s.token.UpdatedAt = s.now()
}

// persistLocked saves the rotated refresh token. A failed save is logged
// rather than returned because the in-memory token is still usable.
func (s *TokenSource) persistLocked() {
	if s.store == nil {
		return
	}
	if err := s.store.Save(&s.token); err != nil {
		s.logger.Error("failed to persist QuickBooks token", zap.Error(err))
	}
}

func wrapOAuthError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return fmt.Errorf("%w: %s: %v", integration.ErrPlatformUnavailable, op, err)
		}
		return fmt.Errorf("%w: %s: %v", integration.ErrPlatformAuthFailed, op, err)
	}
	return fmt.Errorf("%w: %s: %v", integration.ErrPlatformUnavailable, op, err)
}
