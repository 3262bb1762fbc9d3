package vebra

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/florianilch/vebra-proxy/internal/credentials"
)

// TokenEncoding selects how a token is presented on resource calls.
type TokenEncoding string

const (
	// TokenEncodingBasic sends "Authorization: Basic base64(token:)".
	TokenEncodingBasic TokenEncoding = "basic"
	// TokenEncodingRaw sends "Authorization: Basic <token>" as delivered by the upstream.
	TokenEncodingRaw TokenEncoding = "raw"
)

func (e TokenEncoding) encode(token string) string {
	if e == TokenEncodingRaw {
		return token
	}
	return base64.StdEncoding.EncodeToString([]byte(token + ":"))
}

// tokenPath is the endpoint used for the credential exchange.
const tokenPath = "/branch"

// maxBodyBytes bounds upstream response bodies held in memory.
const maxBodyBytes = 32 << 20

// Acquirer obtains and caches the upstream session token.
type Acquirer struct {
	baseURL      string
	httpClient   *http.Client
	creds        credentials.Store
	store        TokenStore
	tokenHeaders []string
	encoding     TokenEncoding
	tokenTTL     time.Duration
	cooldown     time.Duration
	now          func() time.Time
	recorder     Recorder

	exchanges singleflight.Group
}

// Compile-time check to ensure Acquirer implements oauth2.TokenSource
var _ oauth2.TokenSource = (*Acquirer)(nil)

func newAcquirer(creds credentials.Store, cfg *config) *Acquirer {
	headers := make([]string, 0, len(cfg.tokenHeaders))
	for _, h := range cfg.tokenHeaders {
		// Canonical form once, so lookups are case-insensitive.
		headers = append(headers, http.CanonicalHeaderKey(strings.TrimSpace(h)))
	}

	return &Acquirer{
		baseURL:      strings.TrimRight(cfg.baseURL, "/"),
		httpClient:   cfg.httpClient,
		creds:        creds,
		store:        cfg.store,
		tokenHeaders: headers,
		encoding:     cfg.encoding,
		tokenTTL:     cfg.tokenTTL,
		cooldown:     cfg.cooldown,
		now:          cfg.now,
		recorder:     cfg.recorder,
	}
}

// Acquire returns a token for resource calls.
//
// A live cached token is returned without network activity. Within the cooldown
// window after a rejected exchange an *AuthError is returned without network
// activity. Otherwise exactly one credential exchange is made; concurrent callers
// in this process share it.
func (a *Acquirer) Acquire(ctx context.Context) (*oauth2.Token, error) {
	rec, err := a.store.Read(ctx)
	if err != nil {
		a.recorder.RecordAcquisition("error")
		return nil, fmt.Errorf("reading token store: %w", err)
	}

	now := a.now()
	if rec.Live(now) {
		slog.DebugContext(ctx, "using cached token", "expires_at", rec.ExpiresAt)
		a.recorder.RecordAcquisition("cached")
		return a.oauthToken(rec), nil
	}
	if rec.CoolingDown(now, a.cooldown) {
		a.recorder.RecordAcquisition("cooldown")
		return nil, &AuthError{RetryAfter: rec.LastFailureAt.Add(a.cooldown).Sub(now)}
	}

	// The shared exchange is detached from the caller that starts it; each caller
	// waits on its own context.
	exchangeCtx := context.WithoutCancel(ctx)
	ch := a.exchanges.DoChan("token", func() (any, error) {
		// Another caller may have finished an exchange since our read.
		rec, err := a.store.Read(exchangeCtx)
		if err == nil {
			now := a.now()
			if rec.Live(now) {
				return a.oauthToken(rec), nil
			}
			if rec.CoolingDown(now, a.cooldown) {
				a.recorder.RecordAcquisition("cooldown")
				return nil, &AuthError{RetryAfter: rec.LastFailureAt.Add(a.cooldown).Sub(now)}
			}
		}
		return a.exchange(exchangeCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			slog.DebugContext(ctx, "joined in-flight token exchange")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth2.Token), nil
	}
}

// Token implements oauth2.TokenSource.
func (a *Acquirer) Token() (*oauth2.Token, error) {
	// oauth2.TokenSource has no context parameter
	return a.Acquire(context.Background())
}

// exchange performs the credential exchange and records its outcome.
func (a *Acquirer) exchange(ctx context.Context) (*oauth2.Token, error) {
	slog.InfoContext(ctx, "requesting new token")

	resp, body, err := a.requestToken(ctx)
	if err != nil {
		a.recorder.RecordAcquisition("error")
		return nil, err
	}
	return a.settle(ctx, resp, body)
}

// requestToken sends the credential exchange request. The response body is
// returned fully read; resp.Body is closed.
func (a *Acquirer) requestToken(ctx context.Context) (*http.Response, []byte, error) {
	creds, err := a.creds.Read(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reading credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+tokenPath, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("building token request: %w", err)
	}
	req.SetBasicAuth(creds.Username, creds.Password)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("reading token response: %w", err)
	}
	a.recorder.RecordUpstream("token", resp.StatusCode)
	return resp, body, nil
}

// settle turns a credential exchange response into a cached token or an error.
func (a *Acquirer) settle(ctx context.Context, resp *http.Response, body []byte) (*oauth2.Token, error) {
	slog.DebugContext(ctx, "token response", "status", resp.StatusCode)

	if resp.StatusCode == http.StatusUnauthorized {
		slog.ErrorContext(ctx, "authentication failed", "status", resp.StatusCode, "body", string(body))
		if err := a.store.Update(ctx, RecordFailure(FailureUnauthorized, a.now())); err != nil {
			slog.ErrorContext(ctx, "failed to record authentication failure", "error", err)
		}
		a.recorder.RecordAcquisition("unauthorized")
		return nil, &AuthError{Status: resp.StatusCode, Body: string(body)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		a.recorder.RecordAcquisition("error")
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}

	token := a.lookupToken(resp.Header)
	if token == "" {
		slog.ErrorContext(ctx, "no token in any header", "status", resp.StatusCode, "headers", headerNames(resp.Header))
		a.recorder.RecordAcquisition("missing")
		return nil, fmt.Errorf("%w: authentication may have succeeded but no token was returned (status %d)",
			ErrTokenMissing, resp.StatusCode)
	}

	expiresAt := a.now().Add(a.tokenTTL)
	if err := a.store.Update(ctx, StoreToken(token, expiresAt)); err != nil {
		a.recorder.RecordAcquisition("error")
		return nil, fmt.Errorf("caching token: %w", err)
	}
	slog.InfoContext(ctx, "token received and cached", "expires_at", expiresAt)
	a.recorder.RecordAcquisition("acquired")
	a.recorder.SetTokenExpiry(expiresAt)

	return a.oauthToken(Record{Token: token, ExpiresAt: expiresAt}), nil
}

func (a *Acquirer) lookupToken(h http.Header) string {
	for _, name := range a.tokenHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

func (a *Acquirer) oauthToken(rec Record) *oauth2.Token {
	return &oauth2.Token{
		AccessToken: a.encoding.encode(rec.Token),
		TokenType:   "Basic",
		Expiry:      rec.ExpiresAt,
	}
}

// Invalidate clears the cached token if it is still the one presented as rejected.
// A token cached by a concurrent reacquisition is kept.
func (a *Acquirer) Invalidate(ctx context.Context, rejected *oauth2.Token) error {
	var cleared bool
	err := a.store.Update(ctx, func(r *Record) {
		if rejected == nil || a.encoding.encode(r.Token) == rejected.AccessToken {
			ClearToken()(r)
			cleared = true
		}
	})
	if err != nil {
		return fmt.Errorf("clearing token: %w", err)
	}
	if cleared {
		a.recorder.SetTokenExpiry(time.Time{})
	}
	return nil
}

// TokenStatus is a redacted view of the cached token state.
type TokenStatus struct {
	HasToken        bool        `json:"hasToken"`
	Live            bool        `json:"live"`
	ExpiresAt       *time.Time  `json:"expiresAt,omitempty"`
	ExpiresIn       string      `json:"expiresIn,omitempty"`
	LastFailureKind FailureKind `json:"lastFailureKind,omitempty"`
	LastFailureAt   *time.Time  `json:"lastFailureAt,omitempty"`
	CoolingDown     bool        `json:"coolingDown"`
}

// Status reports the cached token state without exposing the token.
func (a *Acquirer) Status(ctx context.Context) (TokenStatus, error) {
	rec, err := a.store.Read(ctx)
	if err != nil {
		return TokenStatus{}, fmt.Errorf("reading token store: %w", err)
	}

	now := a.now()
	status := TokenStatus{
		HasToken:        rec.Token != "",
		Live:            rec.Live(now),
		LastFailureKind: rec.LastFailureKind,
		CoolingDown:     rec.CoolingDown(now, a.cooldown),
	}
	if !rec.ExpiresAt.IsZero() {
		status.ExpiresAt = &rec.ExpiresAt
		if status.Live {
			status.ExpiresIn = rec.ExpiresAt.Sub(now).Round(time.Second).String()
		}
	}
	if !rec.LastFailureAt.IsZero() {
		status.LastFailureAt = &rec.LastFailureAt
	}
	return status, nil
}

// Inject caches a token obtained out of band, with the standard lifetime.
func (a *Acquirer) Inject(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	expiresAt := a.now().Add(a.tokenTTL)
	if err := a.store.Update(ctx, StoreToken(token, expiresAt)); err != nil {
		return fmt.Errorf("caching token: %w", err)
	}
	slog.InfoContext(ctx, "token injected manually")
	a.recorder.SetTokenExpiry(expiresAt)
	return nil
}

// CredentialCheck reports the raw outcome of a credential exchange.
type CredentialCheck struct {
	Status        int               `json:"status"`
	StatusText    string            `json:"statusText"`
	Headers       map[string]string `json:"headers"`
	TokenReceived bool              `json:"tokenReceived"`
	Credentials   CredentialSummary `json:"credentials"`
}

// CredentialSummary identifies the credentials used without revealing the password.
type CredentialSummary struct {
	Username       string `json:"username"`
	PasswordLength int    `json:"passwordLength"`
}

// TestCredentials performs a credential exchange regardless of cache and cooldown
// state. The upstream treats it like any other exchange, so its outcome is recorded
// the same way: a received token is cached, a 401 starts the cooldown.
// Token header values are redacted in the result.
func (a *Acquirer) TestCredentials(ctx context.Context) (*CredentialCheck, error) {
	creds, err := a.creds.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}

	resp, body, err := a.requestToken(ctx)
	if err != nil {
		return nil, err
	}
	// The upstream already answered; record the outcome even if the caller went away.
	_, settleErr := a.settle(context.WithoutCancel(ctx), resp, body)

	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}
	for _, name := range a.tokenHeaders {
		if _, ok := headers[name]; ok {
			headers[name] = "[redacted]"
		}
	}

	return &CredentialCheck{
		Status:        resp.StatusCode,
		StatusText:    http.StatusText(resp.StatusCode),
		Headers:       headers,
		TokenReceived: settleErr == nil,
		Credentials: CredentialSummary{
			Username:       creds.Username,
			PasswordLength: len(creds.Password),
		},
	}, nil
}

func headerNames(h http.Header) []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	return names
}
