package credentials

import (
	"context"
	"log/slog"
)

// Credentials is a username/password pair for HTTP Basic authentication.
type Credentials struct {
	Username string
	Password string
}

// String keeps the password out of formatted output.
func (c Credentials) String() string {
	return c.Username + ":***"
}

// LogValue implements slog.LogValuer. Only the password length is logged.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.Int("password_length", len(c.Password)),
	)
}

// Store reads and writes upstream credentials.
type Store interface {
	// Read returns the stored credentials. Returns error if either part is missing or empty.
	Read(ctx context.Context) (Credentials, error)

	// Write persists the credentials. Returns error if the storage backend
	// is read-only (e.g., environment variables) or if the write fails.
	Write(ctx context.Context, creds Credentials) error
}
