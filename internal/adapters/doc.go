// Package adapters defines the tool adapter contract and everything that
// speaks it: the registry with its routing table, the concurrent tool
// aggregator, the HTTP client for remote adapters, the in-process builtin
// adapter, and the adapter-side HTTP server.
//
// Routing is exact-name first from the table built by the last successful
// aggregation, with a keyword heuristic as the fallback so a freshly named
// tool still lands on a plausible adapter. Aggregation tolerates partial
// failure: a dead adapter costs only its own tools.
package adapters
