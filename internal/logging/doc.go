// Package logging builds the slog handlers shared by the loom binaries and
// provides per-request log correlation for the HTTP surfaces.
package logging
