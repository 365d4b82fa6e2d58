// Package config loads, normalizes, and validates clamav-instream settings.
//
// Settings come from a TOML file (by default ~/.config/clamav-instream/config.toml
// or ./clamav-instream.toml), with CLAMD_SOCKET overriding the daemon socket.
// Paths accept a leading tilde.
package config
