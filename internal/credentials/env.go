package credentials

import (
	"context"
	"fmt"
	"os"
)

// EnvStore provides read-only access to credentials stored in environment variables.
type EnvStore struct {
	usernameKey string
	passwordKey string
}

// Compile-time check to ensure EnvStore implements Store
var _ Store = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore for the given environment variables.
// Returns error if a variable name is empty or not set in the environment.
func NewEnvStore(usernameKey, passwordKey string) (*EnvStore, error) {
	for _, key := range []string{usernameKey, passwordKey} {
		if key == "" {
			return nil, fmt.Errorf("environment key cannot be empty")
		}
		if _, exists := os.LookupEnv(key); !exists {
			return nil, fmt.Errorf("environment variable %s not set", key)
		}
	}

	return &EnvStore{
		usernameKey: usernameKey,
		passwordKey: passwordKey,
	}, nil
}

// Read returns the credentials from the environment. Returns error if either is empty.
func (e *EnvStore) Read(ctx context.Context) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}

	creds := Credentials{
		Username: os.Getenv(e.usernameKey),
		Password: os.Getenv(e.passwordKey),
	}
	if creds.Username == "" {
		return Credentials{}, fmt.Errorf("environment variable %s is empty", e.usernameKey)
	}
	if creds.Password == "" {
		return Credentials{}, fmt.Errorf("environment variable %s is empty", e.passwordKey)
	}
	return creds, nil
}

// Write is not supported for environment variables (they are read-only).
func (e *EnvStore) Write(ctx context.Context, _ Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("environment variable storage is read-only")
}
