package credentials

import (
	"context"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore keeps the password in the OS-native credential storage.
// The username doubles as the keyring account name.
type KeyringStore struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringStore implements Store
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore for the given service and user identifiers.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringStore{
		service: service,
		user:    user,
	}, nil
}

// Read returns the credentials from the system keyring. Returns error if not found or empty.
func (k *KeyringStore) Read(ctx context.Context) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}

	password, err := keyring.Get(k.service, k.user)
	if err != nil {
		return Credentials{}, err
	}

	if password == "" {
		return Credentials{}, fmt.Errorf("empty password in keyring for service %s, user %s", k.service, k.user)
	}

	return Credentials{Username: k.user, Password: password}, nil
}

// Write stores the password in the system keyring, overwriting any existing value.
// The username must match the one the store was created for.
func (k *KeyringStore) Write(ctx context.Context, creds Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if creds.Username != k.user {
		return fmt.Errorf("keyring store is bound to user %s, got %s", k.user, creds.Username)
	}
	if creds.Password == "" {
		return fmt.Errorf("password is required")
	}

	return keyring.Set(k.service, k.user, creds.Password)
}
