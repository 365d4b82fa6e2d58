package grpc

import (
	clamav "github.com/DevHatRo/clamd-instream-go"
	grpclib "google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName = "clamav.instream.v1.Scanner"
	scanMethod  = "/" + serviceName + "/Scan"

	// FilenameMetadataKey carries the optional filename of a Scan call. The
	// -bin suffix lets gRPC base64-encode names that are not printable ASCII.
	FilenameMetadataKey = "x-filename-bin"
)

// ScannerServer is the server API for the INSTREAM bridge service.
// Requests are a stream of google.protobuf.BytesValue chunks; the single
// response is a google.protobuf.Struct describing the scan result.
type ScannerServer interface {
	Scan(stream grpclib.ServerStream) error
}

// ServiceDesc describes the bridge service for grpc.Server.RegisterService.
var ServiceDesc = grpclib.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ScannerServer)(nil),
	Methods:     []grpclib.MethodDesc{},
	Streams: []grpclib.StreamDesc{
		{
			StreamName:    "Scan",
			Handler:       scanHandler,
			ClientStreams: true,
		},
	},
	Metadata: "clamav/instream/v1/scanner.proto",
}

func scanHandler(srv any, stream grpclib.ServerStream) error {
	return srv.(ScannerServer).Scan(stream)
}

// encodeResult converts a clamav.ScanResult to its wire form.
func encodeResult(r *clamav.ScanResult) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"status":   r.Status,
		"message":  r.Message,
		"raw":      r.Raw,
		"filename": r.Filename,
		"scan_id":  r.ScanID,
		"chunks":   r.Chunks,
		"bytes":    r.Bytes,
		"time":     r.ScanTime,
	})
}

// decodeResult converts the wire form back to a clamav.ScanResult.
func decodeResult(s *structpb.Struct) *clamav.ScanResult {
	f := s.GetFields()
	return &clamav.ScanResult{
		Status:   f["status"].GetStringValue(),
		Message:  f["message"].GetStringValue(),
		Raw:      f["raw"].GetStringValue(),
		Filename: f["filename"].GetStringValue(),
		ScanID:   f["scan_id"].GetStringValue(),
		Chunks:   int(f["chunks"].GetNumberValue()),
		Bytes:    int64(f["bytes"].GetNumberValue()),
		ScanTime: f["time"].GetNumberValue(),
	}
}
