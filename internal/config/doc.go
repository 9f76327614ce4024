// Package config loads and validates the shared loom configuration file.
//
// One YAML file configures both daemons; the broker and gateway sections are
// validated independently so either binary can run from a partial file.
// Environment variables referenced as ${VAR} are expanded before parsing,
// which keeps client secrets out of the file itself.
package config
