// Package credentials provides storage abstractions for the upstream API credentials
// exchanged for a session token.
//
// Supports three storage backends with different security and deployment tradeoffs:
//   - Env: Read-only environment variable access (serverless deployments, external secret management)
//   - File: Local filesystem storage with atomic writes and secure permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//
// Only the credentials are stored here. The session token obtained with them lives
// in process memory and is never persisted.
package credentials
