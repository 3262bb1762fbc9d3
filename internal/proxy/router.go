package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/vebra-proxy/internal/vebra"
)

// Endpoint names accepted in the "endpoint" query parameter.
const (
	EndpointBranches        = "branches"
	EndpointProperties      = "properties"
	EndpointProperty        = "property"
	EndpointPropertyFiles   = "property-files"
	EndpointTokenStatus     = "token-status"
	EndpointSetToken        = "set-token"
	EndpointClearToken      = "clear-token"
	EndpointTestCredentials = "test-credentials"
)

var (
	listingEndpoints    = []string{EndpointBranches, EndpointProperties, EndpointProperty, EndpointPropertyFiles}
	diagnosticEndpoints = []string{EndpointTokenStatus, EndpointSetToken, EndpointClearToken, EndpointTestCredentials}
)

// Listings reads resources from the upstream feed.
type Listings interface {
	Branches(ctx context.Context) (map[string]any, error)
	BranchProperties(ctx context.Context, clientID string) (map[string]any, error)
	Property(ctx context.Context, propertyID string) (map[string]any, error)
	PropertyFiles(ctx context.Context, propertyID string) (map[string]any, error)
}

// TokenAdmin inspects and manipulates the cached upstream token.
type TokenAdmin interface {
	Status(ctx context.Context) (vebra.TokenStatus, error)
	Inject(ctx context.Context, token string) error
	Invalidate(ctx context.Context, rejected *oauth2.Token) error
	TestCredentials(ctx context.Context) (*vebra.CredentialCheck, error)
}

// Branch maps a public branch ID to the upstream client ID.
type Branch struct {
	ClientID string
	Name     string
}

// Branches is keyed by the public branch ID.
type Branches map[string]Branch

// DefaultBranches maps the public IDs 1 and 2 to the Lettings and Sales feed clients.
var DefaultBranches = Branches{
	"1": {ClientID: "33273", Name: "Lettings"},
	"2": {ClientID: "41620", Name: "Sales"},
}

// hints lists "<id> for <name>" for every branch, ordered by ID.
func (b Branches) hints() []string {
	ids := make([]string, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	hints := make([]string, 0, len(ids))
	for _, id := range ids {
		hints = append(hints, id+" for "+b[id].Name)
	}
	return hints
}

// ValidationError is a client error detected before any upstream request.
type ValidationError struct {
	Message   string
	Available []string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Router dispatches listings requests by their "endpoint" query parameter.
type Router struct {
	listings Listings
	admin    TokenAdmin // nil disables the diagnostic endpoints
	branches Branches
	observe  func(endpoint string, d time.Duration)
}

// Compile-time check that Router implements http.Handler
var _ http.Handler = (*Router)(nil)

// NewRouter creates a Router. A nil admin disables the diagnostic endpoints.
func NewRouter(listings Listings, admin TokenAdmin, branches Branches) *Router {
	if len(branches) == 0 {
		branches = DefaultBranches
	}
	return &Router{
		listings: listings,
		admin:    admin,
		branches: branches,
		observe:  func(string, time.Duration) {},
	}
}

// Available returns the endpoints the router currently serves.
func (rt *Router) Available() []string {
	if rt.admin == nil {
		return slices.Clone(listingEndpoints)
	}
	return slices.Concat(listingEndpoints, diagnosticEndpoints)
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	endpoint := q.Get("endpoint")

	slog.InfoContext(ctx, "listings request",
		"request_id", RequestIDFromContext(ctx),
		"endpoint", endpoint,
		"branch_id", q.Get("branchId"),
		"property_id", q.Get("propertyId"),
	)

	start := time.Now()
	data, err := rt.Dispatch(ctx, endpoint, q)
	rt.observe(rt.metricLabel(endpoint), time.Since(start))

	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeJSON(ctx, w, ErrorResponse{Error: validationErr.Message, Available: validationErr.Available}, http.StatusBadRequest)
	case err != nil:
		slog.ErrorContext(ctx, "listings request failed", "endpoint", endpoint, "error", err)
		writeJSON(ctx, w, ErrorResponse{Error: "Failed to fetch data", Message: err.Error()}, http.StatusInternalServerError)
	default:
		writeJSON(ctx, w, data, http.StatusOK)
	}
}

// Dispatch validates the query for endpoint and performs the matching operation.
// Validation failures are returned as *ValidationError before any upstream call.
func (rt *Router) Dispatch(ctx context.Context, endpoint string, q url.Values) (any, error) {
	switch endpoint {
	case EndpointBranches:
		return rt.listings.Branches(ctx)

	case EndpointProperties:
		branchID := q.Get("branchId")
		if branchID == "" {
			return nil, &ValidationError{Message: fmt.Sprintf("branchId required (%s)", strings.Join(rt.branches.hints(), ", "))}
		}
		branch, ok := rt.branches[branchID]
		if !ok {
			return nil, &ValidationError{Message: "Invalid branchId. Use " + strings.Join(rt.branches.hints(), " or ")}
		}
		slog.InfoContext(ctx, "fetching branch properties", "branch_id", branchID, "client_id", branch.ClientID)
		return rt.listings.BranchProperties(ctx, branch.ClientID)

	case EndpointProperty, EndpointPropertyFiles:
		propertyID := q.Get("propertyId")
		if propertyID == "" {
			return nil, &ValidationError{Message: "propertyId required"}
		}
		if endpoint == EndpointPropertyFiles {
			return rt.listings.PropertyFiles(ctx, propertyID)
		}
		return rt.listings.Property(ctx, propertyID)
	}

	if rt.admin != nil && slices.Contains(diagnosticEndpoints, endpoint) {
		return rt.diagnose(ctx, endpoint, q)
	}

	return nil, &ValidationError{Message: "Invalid endpoint", Available: rt.Available()}
}

func (rt *Router) diagnose(ctx context.Context, endpoint string, q url.Values) (any, error) {
	switch endpoint {
	case EndpointTokenStatus:
		return rt.admin.Status(ctx)

	case EndpointSetToken:
		token := q.Get("token")
		if token == "" {
			return nil, &ValidationError{Message: "token required"}
		}
		if err := rt.admin.Inject(ctx, token); err != nil {
			return nil, err
		}
		return rt.admin.Status(ctx)

	case EndpointClearToken:
		if err := rt.admin.Invalidate(ctx, nil); err != nil {
			return nil, err
		}
		return rt.admin.Status(ctx)

	case EndpointTestCredentials:
		return rt.admin.TestCredentials(ctx)
	}
	return nil, fmt.Errorf("unhandled diagnostic endpoint: %s", endpoint)
}

// metricLabel bounds label cardinality to the known endpoint names.
func (rt *Router) metricLabel(endpoint string) string {
	if slices.Contains(rt.Available(), endpoint) {
		return endpoint
	}
	return "invalid"
}
