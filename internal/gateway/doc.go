// Package gateway assembles the MCP gateway from configuration: the adapter
// registry, the credential resolver (optionally with an in-process issuance
// service), the JSON-RPC dispatcher, and the HTTP server, which can listen
// on plain TCP or join a tailnet via tsnet.
package gateway
