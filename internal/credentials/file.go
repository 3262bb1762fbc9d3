package credentials

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore provides atomic file-based credential storage with secure permissions.
// The file holds a single "username:password" line. Writes use temp file + rename.
type FileStore struct {
	filePath string
}

// Compile-time check to ensure FileStore implements Store
var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore for the given path, creating parent directories
// with 0700 permissions if they don't exist.
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	return &FileStore{
		filePath: filePath,
	}, nil
}

// Read returns the stored credentials. Returns error if the file doesn't exist,
// is malformed, or has insecure permissions.
func (f *FileStore) Read(ctx context.Context) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}

	info, err := os.Stat(f.filePath)
	if err != nil {
		return Credentials{}, err
	}
	if info.Mode().Perm() != 0600 {
		return Credentials{}, fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", f.filePath, info.Mode().Perm())
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return Credentials{}, err
	}

	line, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	username, password, ok := strings.Cut(strings.TrimSpace(line), ":")
	if !ok || username == "" || password == "" {
		return Credentials{}, fmt.Errorf("malformed credentials file %s (expected username:password)", f.filePath)
	}
	return Credentials{Username: username, Password: password}, nil
}

// Write atomically saves the credentials and sets permissions to 0600.
func (f *FileStore) Write(ctx context.Context, creds Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if creds.Username == "" || creds.Password == "" {
		return fmt.Errorf("username and password are required")
	}
	if strings.Contains(creds.Username, ":") {
		return fmt.Errorf("username cannot contain ':'")
	}

	dir := filepath.Dir(f.filePath)
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.WriteString(creds.Username + ":" + creds.Password + "\n"); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tempName, f.filePath); err != nil {
		return err
	}

	return os.Chmod(f.filePath, 0600)
}
