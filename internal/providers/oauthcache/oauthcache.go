// Package oauthcache implements the token cache and interactive
// authorization-code flow shared by providers that authenticate via OAuth
// instead of a static API key: load/save/clear a cached token, refresh it
// ahead of expiry, and fall back to a loopback-listener code exchange
// guarded by a process-wide mutex when refresh fails.
package oauthcache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Config describes the OAuth endpoints and client credentials a provider
// authenticates with.
type Config struct {
	// Provider is the cache key and tokens.json subdirectory, e.g. "anthropic".
	Provider     string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	// RedirectPort pins the loopback listener's port; 0 lets the OS choose.
	RedirectPort int
}

// Token is the on-disk shape of a cached OAuth credential.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (t *Token) expired(skew time.Duration) bool {
	return t == nil || time.Now().Add(skew).After(t.ExpiresAt)
}

// refreshSkew is the spec's "expiry > now + 60s" cached-token rule.
const refreshSkew = 60 * time.Second

const appDirName = "agentrt"

// flowMu serializes the interactive code flow process-wide so concurrent
// callers don't open two loopback listeners or stampede the token endpoint.
var flowMu sync.Mutex

// tokenPath returns ~/.config/<app>/<provider>/tokens.json.
func tokenPath(provider string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("oauthcache: resolve config dir: %w", err)
	}
	return filepath.Join(dir, appDirName, provider, "tokens.json"), nil
}

// Load reads the cached token for provider. A missing cache file is not an
// error: it returns (nil, nil).
func Load(provider string) (*Token, error) {
	path, err := tokenPath(provider)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("oauthcache: decode cache: %w", err)
	}
	return &tok, nil
}

// Save persists tok as the cached token for provider.
func Save(provider string, tok *Token) error {
	path, err := tokenPath(provider)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("oauthcache: create cache dir: %w", err)
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Clear removes the cached token for provider.
func Clear(provider string) error {
	path, err := tokenPath(provider)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func oauth2Config(cfg Config, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthURL,
			TokenURL: cfg.TokenURL,
		},
	}
}

// expiryOf extracts a JWT access token's "exp" claim; opaque bearer tokens
// that don't parse as a JWT fall back to the oauth2 token's own Expiry.
func expiryOf(t *oauth2.Token) time.Time {
	if !t.Expiry.IsZero() {
		return t.Expiry
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(t.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Now().Add(time.Hour)
}

func toToken(t *oauth2.Token) *Token {
	return &Token{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, ExpiresAt: expiryOf(t)}
}

// EnsureToken returns a valid access token for cfg.Provider: the cached
// token if still fresh, a refreshed one if not, or the result of running
// the interactive authorization-code flow once if refresh fails or no
// refresh token is cached.
func EnsureToken(ctx context.Context, cfg Config) (*Token, error) {
	tok, err := Load(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if !tok.expired(refreshSkew) {
		return tok, nil
	}

	if tok != nil && tok.RefreshToken != "" {
		if refreshed, err := refresh(ctx, cfg, tok.RefreshToken); err == nil {
			if err := Save(cfg.Provider, refreshed); err != nil {
				return nil, err
			}
			return refreshed, nil
		}
		// Refresh failed: clear the stale cache and fall through to the
		// interactive flow below.
		if err := Clear(cfg.Provider); err != nil {
			return nil, err
		}
	}

	flowMu.Lock()
	defer flowMu.Unlock()

	// Another caller may have completed the flow while we waited on the lock.
	if cur, err := Load(cfg.Provider); err == nil && !cur.expired(refreshSkew) {
		return cur, nil
	}

	fresh, err := interactiveFlow(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Save(cfg.Provider, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

func refresh(ctx context.Context, cfg Config, refreshToken string) (*Token, error) {
	src := oauth2Config(cfg, "").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	t, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("oauthcache: refresh: %w", err)
	}
	return toToken(t), nil
}

// interactiveFlow opens a loopback listener, prints cfg.AuthURL with a
// random CSRF state for the user to open, and exchanges the returned
// authorization code for a token once the callback lands.
func interactiveFlow(ctx context.Context, cfg Config) (*Token, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.RedirectPort))
	if err != nil {
		return nil, fmt.Errorf("oauthcache: open loopback listener: %w", err)
	}
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	oc := oauth2Config(cfg, fmt.Sprintf("http://127.0.0.1:%d/callback", port))

	state, err := randomState()
	if err != nil {
		return nil, err
	}

	type result struct {
		code string
		err  error
	}
	resultCh := make(chan result, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			resultCh <- result{err: errors.New("oauthcache: state mismatch, possible CSRF")}
			return
		}
		if msg := q.Get("error"); msg != "" {
			http.Error(w, msg, http.StatusBadRequest)
			resultCh <- result{err: fmt.Errorf("oauthcache: authorization denied: %s", msg)}
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			resultCh <- result{err: errors.New("oauthcache: callback missing code")}
			return
		}
		fmt.Fprint(w, "Authorization complete, you may close this window.")
		resultCh <- result{code: code}
	})
	srv := &http.Server{Handler: mux}
	go srv.Serve(listener)
	defer srv.Shutdown(context.Background())

	fmt.Printf("oauthcache: open this URL to authorize %s:\n%s\n", cfg.Provider, oc.AuthCodeURL(state, oauth2.AccessTypeOffline))

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		t, err := oc.Exchange(ctx, res.code)
		if err != nil {
			return nil, fmt.Errorf("oauthcache: exchange code: %w", err)
		}
		return toToken(t), nil
	}
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("oauthcache: generate state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
