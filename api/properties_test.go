package handler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func TestHandler_MissingCredentials(t *testing.T) {
	t.Setenv("VEBRA_AUTH__USERNAME_ENV", "VEBRA_TEST_UNSET_USERNAME")
	t.Setenv("VEBRA_AUTH__PASSWORD_ENV", "VEBRA_TEST_UNSET_PASSWORD")

	rec := httptest.NewRecorder()
	Handler(rec, httptest.NewRequest(http.MethodGet, "/api/properties?endpoint=branches", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestNewHandler_ServesProperties(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, _, ok := r.BasicAuth(); ok && user == "feeduser" {
			w.Header().Set("Token", "tok")
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, `<branches><branch><name>Lettings</name></branch></branches>`)
	}))
	t.Cleanup(feed.Close)

	t.Setenv("VEBRA_USERNAME", "feeduser")
	t.Setenv("VEBRA_PASSWORD", "feedpass")
	t.Setenv("VEBRA_UPSTREAM__BASE_URL", feed.URL)

	h, err := newHandler(os.Environ)
	if err != nil {
		t.Fatalf("newHandler: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/properties?endpoint=branches", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Lettings") {
		t.Errorf("body = %s, want branch listing", rec.Body.String())
	}
}
