// Package broker implements the credential broker: the OAuth flow controller
// that turns provider callbacks into stored token records, and the issuance
// service that serves short-lived access tokens to callers.
//
// # Refresh Policies
//
// Each provider carries one of three refresh policies:
//
//   - never: tokens do not expire; the stored expiry is a far-future
//     sentinel and no refresh is ever attempted
//   - always: refreshed on every issuance while a refresh token is present,
//     so the caller always sees a token matching the provider's current
//     consent (granted scopes can drift between consents)
//   - on_expiry: refreshed only once the stored expiry has passed
//
// # Boundaries
//
// The refresh token never leaves the package; Issue returns only the access
// token and its expiry. Issuance failures are typed (ErrNotConnected,
// ErrRefreshFailed) and map to distinct HTTP statuses (404, 401) at the
// server boundary.
//
// Concurrent issuance for the same (user, provider) key can double-refresh.
// Both calls succeed and the store keeps whichever write lands last; the
// race is documented rather than locked away because a redundant refresh is
// the only cost.
package broker
