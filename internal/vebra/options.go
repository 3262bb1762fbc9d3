package vebra

import (
	"net/http"
	"time"
)

// Default client settings.
const (
	DefaultBaseURL  = "http://webservices.vebra.com/export/PropertyLEAPI/v10"
	DefaultTokenTTL = 55 * time.Minute // upstream tokens live for an hour
	DefaultCooldown = 5 * time.Minute
	DefaultTimeout  = 25 * time.Second
)

// DefaultTokenHeaders are the response headers the token may be delivered in.
var DefaultTokenHeaders = []string{"Token", "X-Token"}

// Recorder receives client events, typically to export them as metrics.
type Recorder interface {
	// RecordAcquisition counts an Acquire outcome: cached, acquired, cooldown,
	// unauthorized, missing, or error.
	RecordAcquisition(result string)

	// RecordUpstream counts a response from the upstream API.
	RecordUpstream(resource string, status int)

	// SetTokenExpiry reports the expiry of the cached token. The zero time means
	// no token is cached.
	SetTokenExpiry(expiresAt time.Time)
}

type nopRecorder struct{}

func (nopRecorder) RecordAcquisition(string)   {}
func (nopRecorder) RecordUpstream(string, int) {}
func (nopRecorder) SetTokenExpiry(time.Time)   {}

// Option configures a Client.
type Option func(*config)

type config struct {
	baseURL      string
	httpClient   *http.Client
	store        TokenStore
	tokenHeaders []string
	encoding     TokenEncoding
	tokenTTL     time.Duration
	cooldown     time.Duration
	now          func() time.Time
	recorder     Recorder
}

func defaultConfig() *config {
	return &config{
		baseURL:      DefaultBaseURL,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		tokenHeaders: DefaultTokenHeaders,
		encoding:     TokenEncodingBasic,
		tokenTTL:     DefaultTokenTTL,
		cooldown:     DefaultCooldown,
		now:          time.Now,
		recorder:     nopRecorder{},
	}
}

// WithBaseURL sets the feed base URL, e.g. http://webservices.vebra.com/export/{datafeed}/v10.
func WithBaseURL(baseURL string) Option {
	return func(c *config) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the client used for all upstream requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		c.httpClient = client
	}
}

// WithTokenStore replaces the default MemoryStore.
func WithTokenStore(store TokenStore) Option {
	return func(c *config) {
		c.store = store
	}
}

// WithTokenHeaders sets the response headers searched for the token, in order.
func WithTokenHeaders(headers ...string) Option {
	return func(c *config) {
		c.tokenHeaders = headers
	}
}

// WithTokenEncoding sets how the token is presented on resource calls.
func WithTokenEncoding(encoding TokenEncoding) Option {
	return func(c *config) {
		c.encoding = encoding
	}
}

// WithTokenTTL sets how long an acquired token is considered live.
func WithTokenTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.tokenTTL = ttl
	}
}

// WithCooldown sets how long acquisition is suppressed after a rejected exchange.
func WithCooldown(cooldown time.Duration) Option {
	return func(c *config) {
		c.cooldown = cooldown
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// WithRecorder sets the event recorder.
func WithRecorder(recorder Recorder) Option {
	return func(c *config) {
		c.recorder = recorder
	}
}
