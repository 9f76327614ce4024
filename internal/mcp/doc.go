// Package mcp implements the gateway's MCP-facing JSON-RPC 2.0 dispatcher.
//
// Dispatch is stateless: each POST to /mcp/sse carries one request and gets
// one response, with no session held between them. Request ids are kept as
// raw JSON so whatever the client sent (a number, a string, or null) is
// echoed back byte-for-byte. Tool-level failures are returned as results
// with isError set; only protocol violations become JSON-RPC errors.
package mcp
