// Package resolver picks a credential for an outbound tool call.
//
// Four tiers are consulted in strict order: a bearer token the caller sent
// with the request, an in-process issuer backed by the gateway's own store,
// a remote broker reached over HTTP, and a static fallback token from config.
// Each tier that fails is logged at warn level and skipped; the winning tier
// is recorded on the returned Credential so callers and tests can observe
// which path satisfied the request.
package resolver
