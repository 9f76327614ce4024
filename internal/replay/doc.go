// Package replay provides a time-bounded seen-set used to reject reuse of
// one-time OAuth values (authorization codes, state nonces).
package replay
