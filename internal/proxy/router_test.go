package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/vebra-proxy/internal/vebra"
)

// fakeListings records calls and answers with canned data.
type fakeListings struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeListings) record(call string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"call": call}, nil
}

func (f *fakeListings) Branches(context.Context) (map[string]any, error) {
	return f.record("branches")
}

func (f *fakeListings) BranchProperties(_ context.Context, clientID string) (map[string]any, error) {
	return f.record("properties:" + clientID)
}

func (f *fakeListings) Property(_ context.Context, id string) (map[string]any, error) {
	return f.record("property:" + id)
}

func (f *fakeListings) PropertyFiles(_ context.Context, id string) (map[string]any, error) {
	return f.record("property-files:" + id)
}

// fakeAdmin implements TokenAdmin over an in-memory token.
type fakeAdmin struct {
	token string
}

func (f *fakeAdmin) Status(context.Context) (vebra.TokenStatus, error) {
	return vebra.TokenStatus{HasToken: f.token != "", Live: f.token != ""}, nil
}

func (f *fakeAdmin) Inject(_ context.Context, token string) error {
	f.token = token
	return nil
}

func (f *fakeAdmin) Invalidate(context.Context, *oauth2.Token) error {
	f.token = ""
	return nil
}

func (f *fakeAdmin) TestCredentials(context.Context) (*vebra.CredentialCheck, error) {
	return &vebra.CredentialCheck{
		Status:      http.StatusOK,
		StatusText:  "OK",
		Credentials: vebra.CredentialSummary{Username: "feeduser", PasswordLength: 8},
	}, nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v\nbody: %s", err, rec.Body.String())
	}
	return body
}

func TestRouter(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		status    int
		wantError string
		wantCall  string
	}{
		{name: "branches", query: "endpoint=branches", status: 200, wantCall: "branches"},
		{name: "lettings", query: "endpoint=properties&branchId=1", status: 200, wantCall: "properties:33273"},
		{name: "sales", query: "endpoint=properties&branchId=2", status: 200, wantCall: "properties:41620"},
		{name: "property", query: "endpoint=property&propertyId=987", status: 200, wantCall: "property:987"},
		{name: "property files", query: "endpoint=property-files&propertyId=987", status: 200, wantCall: "property-files:987"},
		{
			name:      "missing branchId",
			query:     "endpoint=properties",
			status:    400,
			wantError: "branchId required (1 for Lettings, 2 for Sales)",
		},
		{
			name:      "unknown branchId",
			query:     "endpoint=properties&branchId=3",
			status:    400,
			wantError: "Invalid branchId. Use 1 for Lettings or 2 for Sales",
		},
		{name: "property without id", query: "endpoint=property", status: 400, wantError: "propertyId required"},
		{name: "files without id", query: "endpoint=property-files&propertyId=", status: 400, wantError: "propertyId required"},
		{name: "unknown endpoint", query: "endpoint=agents", status: 400, wantError: "Invalid endpoint"},
		{name: "no endpoint", query: "", status: 400, wantError: "Invalid endpoint"},
		{name: "diagnostics disabled", query: "endpoint=token-status", status: 400, wantError: "Invalid endpoint"},
		{name: "test-credentials disabled", query: "endpoint=test-credentials", status: 400, wantError: "Invalid endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listings := &fakeListings{}
			router := NewRouter(listings, nil, nil)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/properties?"+tt.query, nil))

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d; body: %s", rec.Code, tt.status, rec.Body.String())
			}
			body := decodeBody(t, rec)

			if tt.wantError != "" {
				if body["error"] != tt.wantError {
					t.Errorf("error = %v, want %q", body["error"], tt.wantError)
				}
				if len(listings.calls) != 0 {
					t.Errorf("validation failure made upstream calls: %v", listings.calls)
				}
				return
			}

			if !slices.Equal(listings.calls, []string{tt.wantCall}) {
				t.Errorf("calls = %v, want [%s]", listings.calls, tt.wantCall)
			}
			if body["call"] != tt.wantCall {
				t.Errorf("body = %v, want pass-through of upstream data", body)
			}
		})
	}
}

func TestRouter_InvalidEndpointListsAvailable(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(&fakeListings{}, nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?endpoint=nope", nil))

	body := decodeBody(t, rec)
	available, _ := body["available"].([]any)
	want := []any{"branches", "properties", "property", "property-files"}
	if !slices.Equal(available, want) {
		t.Errorf("available = %v, want %v", available, want)
	}
}

func TestRouter_UpstreamFailure(t *testing.T) {
	listings := &fakeListings{err: &vebra.UpstreamError{Status: 500, Body: "boom"}}

	rec := httptest.NewRecorder()
	NewRouter(listings, nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?endpoint=branches", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "Failed to fetch data" {
		t.Errorf("error = %v", body["error"])
	}
	if body["message"] != "API error: 500 - boom" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestRouter_AuthFailureIsServerError(t *testing.T) {
	listings := &fakeListings{err: &vebra.AuthError{Status: 401, Body: "Unauthorised"}}

	rec := httptest.NewRecorder()
	NewRouter(listings, nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?endpoint=property&propertyId=1", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestRouter_CustomBranches(t *testing.T) {
	listings := &fakeListings{}
	router := NewRouter(listings, nil, Branches{
		"a": {ClientID: "100", Name: "North"},
		"b": {ClientID: "200", Name: "South"},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?endpoint=properties&branchId=1", nil))
	if got := decodeBody(t, rec)["error"]; got != "Invalid branchId. Use a for North or b for South" {
		t.Errorf("error = %v", got)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?endpoint=properties&branchId=b", nil))
	if !slices.Equal(listings.calls, []string{"properties:200"}) {
		t.Errorf("calls = %v", listings.calls)
	}
}

func TestRouter_Diagnostics(t *testing.T) {
	admin := &fakeAdmin{}
	listings := &fakeListings{}
	router := NewRouter(listings, admin, nil)

	serve := func(query string) (int, map[string]any) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?"+query, nil))
		return rec.Code, decodeBody(t, rec)
	}

	code, body := serve("endpoint=set-token")
	if code != http.StatusBadRequest || body["error"] != "token required" {
		t.Errorf("set-token without token: %d %v", code, body)
	}

	code, body = serve("endpoint=set-token&token=abc")
	if code != http.StatusOK || body["hasToken"] != true || admin.token != "abc" {
		t.Errorf("set-token: %d %v (token %q)", code, body, admin.token)
	}

	code, body = serve("endpoint=token-status")
	if code != http.StatusOK || body["live"] != true {
		t.Errorf("token-status: %d %v", code, body)
	}
	if _, leaked := body["token"]; leaked {
		t.Errorf("token-status exposes the token: %v", body)
	}

	code, body = serve("endpoint=clear-token")
	if code != http.StatusOK || body["hasToken"] != false {
		t.Errorf("clear-token: %d %v", code, body)
	}

	code, body = serve("endpoint=test-credentials")
	creds, _ := body["credentials"].(map[string]any)
	if code != http.StatusOK || creds["username"] != "feeduser" || creds["passwordLength"] != float64(8) {
		t.Errorf("test-credentials: %d %v", code, body)
	}
	if _, leaked := creds["password"]; leaked {
		t.Errorf("test-credentials exposes the password: %v", body)
	}

	if len(listings.calls) != 0 {
		t.Errorf("diagnostics reached listings: %v", listings.calls)
	}
	if got := len(router.Available()); got != 8 {
		t.Errorf("available endpoints = %d, want 8", got)
	}
}

func TestRouter_ObservesDuration(t *testing.T) {
	router := NewRouter(&fakeListings{}, nil, nil)
	var observed []string
	router.observe = func(endpoint string, _ time.Duration) {
		observed = append(observed, endpoint)
	}

	for _, q := range []string{"endpoint=branches", "endpoint=bogus", "endpoint=token-status"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/?"+q, nil))
	}

	want := []string{"branches", "invalid", "invalid"}
	if !slices.Equal(observed, want) {
		t.Errorf("observed = %v, want %v", observed, want)
	}
}
