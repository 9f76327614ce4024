// Package auth signs and verifies the OAuth state parameter that correlates
// a provider callback to the user who started the authorization.
package auth
