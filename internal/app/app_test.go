package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T, baseURL string) *Config {
	t.Helper()
	t.Setenv("VEBRA_USERNAME", "feeduser")
	t.Setenv("VEBRA_PASSWORD", "feedpass")

	cfg, err := Default()
	require.NoError(t, err)
	cfg.Upstream.BaseURL = baseURL
	return cfg
}

func TestNew_WiresHandler(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, _, ok := r.BasicAuth(); ok && user == "feeduser" {
			w.Header().Set("X-Token", "session")
			return
		}
		_, _ = w.Write([]byte(`<branches><branch><name>Lettings</name></branch></branches>`))
	}))
	defer feed.Close()

	cfg := newTestConfig(t, feed.URL)
	cfg.Diagnostics.Enabled = true

	application, err := New(cfg)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	application.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/properties?endpoint=branches", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]any{"branch": map[string]any{"name": "Lettings"}}, body["branches"])

	rec = httptest.NewRecorder()
	application.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?endpoint=token-status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"live":true`)
	assert.NotContains(t, rec.Body.String(), "session")
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := newTestConfig(t, "http://127.0.0.1")
	cfg.Upstream.TokenEncoding = "hex"

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNew_MissingCredentials(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Auth.UsernameEnv = "VEBRA_TEST_UNSET_USERNAME"
	cfg.Auth.PasswordEnv = "VEBRA_TEST_UNSET_PASSWORD"

	_, err = New(cfg)
	assert.Error(t, err)
}

func freePort(t *testing.T) uint16 {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	return uint16(l.Addr().(*net.TCPAddr).Port)
}

func TestApp_StartAndShutdown(t *testing.T) {
	cfg := newTestConfig(t, "http://127.0.0.1:1")
	cfg.Server.Port = freePort(t)

	application, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Start(ctx) }()

	url := "http://" + net.JoinHostPort(cfg.Server.Host, strconv.Itoa(int(cfg.Server.Port))) + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(cfg.Shutdown.Timeout + time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}
