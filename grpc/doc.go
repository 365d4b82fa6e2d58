// Package grpc bridges the INSTREAM client over gRPC.
//
// A Server runs next to clamd and relays each client-streaming Scan call into
// one INSTREAM session on the daemon's local socket. A Client streams payload
// chunks to that server from anywhere on the network. Messages are the
// well-known google.protobuf.BytesValue (request chunks) and
// google.protobuf.Struct (scan result), so no generated code is required.
//
// # Quick Start
//
//	client, err := grpc.NewClient("scanner.internal:9000")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	result, err := client.ScanStream(ctx, data, "test.txt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Status: %s\n", result.Status)
package grpc
