package quickbooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qbsync/backend/internal/domain/integration"
)

type tokenServer struct {
	*httptest.Server
	calls atomic.Int32

	mu        sync.Mutex
	lastForm  url.Values
	status    int
	nextToken string
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{status: http.StatusOK, nextToken: "access-1"}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok, "client credentials must be sent with basic auth")
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, r.ParseForm())

		ts.mu.Lock()
		defer ts.mu.Unlock()
		ts.lastForm = r.PostForm
		if ts.status != http.StatusOK {
			writeJSON(w, ts.status, `{"error":"invalid_grant"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"access_token":"`+ts.nextToken+`","refresh_token":"rotated","token_type":"bearer","expires_in":3600,"x_refresh_token_expires_in":8726400}`)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) form(key string) string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.lastForm.Get(key)
}

func (ts *tokenServer) set(status int, nextToken string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.status = status
	ts.nextToken = nextToken
}

func tokenConfig(tokenURL string) *Config {
	return &Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost:8000/callback",
		RealmID:      "123",
		RefreshToken: "initial",
		TokenURL:     tokenURL,
	}
}

func TestFileTokenStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "qb_tokens.json")
	store := NewFileTokenStore(path)

	tok, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, tok)

	require.NoError(t, store.Save(&Token{AccessToken: "a", RefreshToken: "r", RealmID: "9"}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	tok, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, "r", tok.RefreshToken)
	assert.Equal(t, "9", tok.RealmID)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0600))
	_, err = store.Load()
	assert.Error(t, err)
}

func TestTokenSource_RefreshAndPersist(t *testing.T) {
	ts := newTokenServer(t)
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "qb_tokens.json"))

	src, err := NewTokenSource(tokenConfig(ts.URL), store, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "123", src.RealmID())

	ctx := context.Background()
	tok, err := src.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)
	assert.Equal(t, "refresh_token", ts.form("grant_type"))
	assert.Equal(t, "initial", ts.form("refresh_token"))

	// cached until close to expiry
	tok, err = src.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)
	assert.Equal(t, int32(1), ts.calls.Load())

	stored, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "rotated", stored.RefreshToken)
	assert.Equal(t, "123", stored.RealmID)
	assert.False(t, stored.RefreshTokenExpiry.IsZero())

	// a restarted process picks up the rotated token
	reloaded, err := NewTokenSource(tokenConfig(ts.URL), store, nil)
	require.NoError(t, err)
	assert.Equal(t, "rotated", reloaded.Snapshot().RefreshToken)
}

func TestTokenSource_RefreshesNearExpiry(t *testing.T) {
	ts := newTokenServer(t)
	src, err := NewTokenSource(tokenConfig(ts.URL), nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = src.AccessToken(ctx)
	require.NoError(t, err)

	src.now = func() time.Time { return time.Now().Add(3600*time.Second - 30*time.Second) }
	ts.set(http.StatusOK, "access-2")
	tok, err := src.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok)
	assert.Equal(t, "rotated", ts.form("refresh_token"))
	assert.Equal(t, int32(2), ts.calls.Load())
}

func TestTokenSource_Invalidate(t *testing.T) {
	ts := newTokenServer(t)
	cfg := tokenConfig(ts.URL)
	cfg.AccessToken = "seeded"
	src, err := NewTokenSource(cfg, nil, nil)
	require.NoError(t, err)

	tok, err := src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "seeded", tok, "a seeded token without expiry is used until rejected")
	assert.Zero(t, ts.calls.Load())

	src.Invalidate()
	tok, err = src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)
}

func TestTokenSource_Errors(t *testing.T) {
	t.Run("no refresh token", func(t *testing.T) {
		cfg := tokenConfig("http://127.0.0.1:1")
		cfg.RefreshToken = ""
		src, err := NewTokenSource(cfg, nil, nil)
		require.NoError(t, err)
		_, err = src.AccessToken(context.Background())
		assert.ErrorIs(t, err, integration.ErrPlatformAuthFailed)
	})

	t.Run("invalid grant", func(t *testing.T) {
		ts := newTokenServer(t)
		ts.set(http.StatusBadRequest, "")
		src, err := NewTokenSource(tokenConfig(ts.URL), nil, nil)
		require.NoError(t, err)
		_, err = src.AccessToken(context.Background())
		assert.ErrorIs(t, err, integration.ErrPlatformAuthFailed)
	})

	t.Run("token endpoint down", func(t *testing.T) {
		ts := newTokenServer(t)
		ts.set(http.StatusBadGateway, "")
		src, err := NewTokenSource(tokenConfig(ts.URL), nil, nil)
		require.NoError(t, err)
		_, err = src.AccessToken(context.Background())
		assert.ErrorIs(t, err, integration.ErrPlatformUnavailable)
	})
}

func TestTokenSource_AuthCodeFlow(t *testing.T) {
	ts := newTokenServer(t)
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "qb_tokens.json"))
	cfg := tokenConfig(ts.URL)
	cfg.RefreshToken = ""
	cfg.RealmID = ""
	src, err := NewTokenSource(cfg, store, nil)
	require.NoError(t, err)

	raw := src.AuthCodeURL("state-xyz")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "appcenter.intuit.com", u.Host)
	q := u.Query()
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, AccountingScope, q.Get("scope"))
	assert.Equal(t, "state-xyz", q.Get("state"))
	assert.Equal(t, "http://localhost:8000/callback", q.Get("redirect_uri"))

	assert.ErrorIs(t, src.Exchange(context.Background(), "", "555"), integration.ErrPlatformAuthFailed)

	require.NoError(t, src.Exchange(context.Background(), "auth-code", "555"))
	assert.Equal(t, "authorization_code", ts.form("grant_type"))
	assert.Equal(t, "auth-code", ts.form("code"))
	assert.Equal(t, "555", src.RealmID())

	stored, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "555", stored.RealmID)
	assert.Equal(t, "rotated", stored.RefreshToken)
}
