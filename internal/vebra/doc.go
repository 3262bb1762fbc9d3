// Package vebra talks to the Vebra property-listings export API.
//
// The API issues a session token in exchange for HTTP Basic credentials and allows
// roughly one token per hour per feed. Requesting another token while one is active
// is answered with 401, so the token is cached in process memory and acquisition is
// suppressed for a cooldown window after a failed exchange.
//
// # Token lifecycle
//
//   - Acquirer.Acquire returns the cached token while it is live, otherwise performs one
//     credential exchange against the branch collection and caches the token it finds in
//     the response headers.
//   - Client.Fetch sends the token with every resource call. A 401 invalidates the
//     cached token, triggers exactly one reacquisition and one retried call.
//
// The cache is per process. A restart starts cold, and separate instances do not share
// tokens.
package vebra
