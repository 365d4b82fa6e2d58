// Package clamav provides a Go client for the clamd INSTREAM scanning protocol.
//
// Each scan opens a fresh connection to the daemon's local socket, sends the
// zINSTREAM command, streams the payload as length-prefixed chunks, terminates
// the stream with a zero-length chunk and classifies the daemon's reply. The
// client holds no per-scan state and is safe for concurrent use.
//
// For a gRPC bridge that exposes a local daemon to remote callers, import the
// sub-package github.com/DevHatRo/clamd-instream-go/grpc.
//
// # Quick Start
//
//	client, err := clamav.NewClient("/var/run/clamav/clamd.ctl")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	clean, err := client.Scan(ctx, data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Clean: %v\n", clean)
//
// Use ScanStream or ScanFilePath to keep the raw daemon reply alongside the
// verdict:
//
//	result, err := client.ScanFilePath(ctx, "/path/to/file.pdf")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Status: %s, Infected: %v\n", result.Status, result.IsInfected())
package clamav
