package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/veritas-care/evv/common/evverrors"
)

// tokenSkew ... tokens are treated as expired this long before their actual
// expiry so in-flight requests never carry a token that lapses mid-call
const tokenSkew = 60 * time.Second

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// TokenSource caches one OAuth 2.0 client-credentials token per aggregator
// credential. Refresh is serialized behind a single-flight group so a burst
// of concurrent 401s causes exactly one token request.
type TokenSource struct {
	creds  Credentials
	client *http.Client

	mu    sync.RWMutex
	token cachedToken

	group singleflight.Group
	now   func() time.Time
}

func NewTokenSource(creds Credentials, client *http.Client) *TokenSource {
	if client == nil {
		client = &http.Client{Timeout: CallTimeout}
	}
	return &TokenSource{
		creds:  creds,
		client: client,
		now:    time.Now,
	}
}

// Token returns a valid access token, refreshing if the cached one is within
// the expiry skew.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.RLock()
	tok := ts.token
	ts.mu.RUnlock()

	if tok.accessToken != "" && ts.now().Before(tok.expiresAt.Add(-tokenSkew)) {
		return tok.accessToken, nil
	}
	return ts.refresh(ctx)
}

// Invalidate drops the cached token. Called on a 401 so the next Token call
// fetches a fresh one.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = cachedToken{}
	ts.mu.Unlock()
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	v, err, _ := ts.group.Do("token", func() (interface{}, error) {
		// another caller may have refreshed while we waited on the group
		ts.mu.RLock()
		tok := ts.token
		ts.mu.RUnlock()
		if tok.accessToken != "" && ts.now().Before(tok.expiresAt.Add(-tokenSkew)) {
			return tok.accessToken, nil
		}

		fresh, err := ts.fetch(ctx)
		if err != nil {
			return nil, err
		}

		ts.mu.Lock()
		ts.token = fresh
		ts.mu.Unlock()
		return fresh.accessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (ts *TokenSource) fetch(ctx context.Context) (cachedToken, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", ts.creds.OAuthClientID)
	form.Set("client_secret", ts.creds.OAuthClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.creds.OAuthTokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return cachedToken{}, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return cachedToken{}, evverrors.Wrap(evverrors.KindAggregatorRetriable,
			fmt.Errorf("token endpoint unreachable: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return cachedToken{}, evverrors.New(evverrors.KindAuthenticationFailed,
			"token endpoint returned %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return cachedToken{}, fmt.Errorf("decoding token response: %w", err)
	}
	if tr.AccessToken == "" {
		return cachedToken{}, evverrors.New(evverrors.KindAuthenticationFailed,
			"token endpoint returned empty access token")
	}

	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return cachedToken{
		accessToken: tr.AccessToken,
		expiresAt:   ts.now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}
