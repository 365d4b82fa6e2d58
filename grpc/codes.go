package grpc

import (
	"errors"

	clamav "github.com/DevHatRo/clamd-instream-go"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// codeTable pairs clamav error codes with the gRPC codes they travel as.
// Lookups in either direction take the first match.
var codeTable = []struct {
	clamav string
	grpc   codes.Code
}{
	{clamav.CodeConnection, codes.Unavailable},
	{clamav.CodeTimeout, codes.DeadlineExceeded},
	{clamav.CodeTimeout, codes.Canceled},
	{clamav.CodeValidation, codes.InvalidArgument},
	{clamav.CodeState, codes.FailedPrecondition},
	{clamav.CodeTransmission, codes.Aborted},
	{clamav.CodeSource, codes.Aborted},
}

func grpcCode(code string) codes.Code {
	for _, entry := range codeTable {
		if entry.clamav == code {
			return entry.grpc
		}
	}
	return codes.Internal
}

func clamavCode(code codes.Code) string {
	for _, entry := range codeTable {
		if entry.grpc == code {
			return entry.clamav
		}
	}
	return clamav.CodeService
}

// statusFromError converts a scan failure into the status sent to the caller.
func statusFromError(err error) error {
	var e *clamav.Error
	if !errors.As(err, &e) {
		return status.Error(codes.Internal, err.Error())
	}
	return status.Error(grpcCode(e.Code), e.Error())
}

// mapGRPCError converts a failed call back into a *clamav.Error. StatusCode
// carries the numeric gRPC code.
func mapGRPCError(err error) error {
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return clamav.NewConnectionError("bridge call failed", err)
	}
	return &clamav.Error{
		Code:       clamavCode(st.Code()),
		Message:    st.Message(),
		StatusCode: int(st.Code()),
		Cause:      err,
	}
}
