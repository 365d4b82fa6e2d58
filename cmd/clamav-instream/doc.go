// Command clamav-instream streams data to a local clamd over its unix socket
// using the INSTREAM protocol.
//
// The scan command streams files or stdin and prints one verdict per target,
// exiting non-zero when any target is not confirmed clean. The serve command
// exposes the same session over a gRPC bridge so remote hosts can scan
// through the local daemon. Configuration is read from TOML; see
// `clamav-instream config init`.
package main
