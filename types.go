package clamav

import "strings"

// Reply statuses reported in ScanResult.Status.
const (
	StatusOK    = "OK"
	StatusFound = "FOUND"
	StatusError = "ERROR"
)

// CleanReply is the exact daemon reply, after framing strip, that marks a stream clean.
const CleanReply = "stream: OK"

const streamPrefix = "stream: "

// ScanResult represents the outcome of one INSTREAM session.
type ScanResult struct {
	// Status is "OK" (clean), "FOUND" (infected), or "ERROR".
	Status string `json:"status"`
	// Message contains the signature name if infected, the daemon's text on error, or empty if clean.
	Message string `json:"message"`
	// Raw is the reply text exactly as assembled from the socket.
	Raw string `json:"raw"`
	// ScanTime is the session duration in seconds.
	ScanTime float64 `json:"time"`
	// Filename is the scanned file's name, if provided.
	Filename string `json:"filename,omitempty"`
	// ScanID identifies the session in logs.
	ScanID string `json:"scan_id,omitempty"`
	// Chunks is the number of non-empty chunks sent.
	Chunks int `json:"chunks"`
	// Bytes is the number of payload bytes sent.
	Bytes int64 `json:"bytes"`
}

// IsClean reports whether the daemon confirmed the stream clean. This is the
// canonical verdict: it holds only when the reply equals CleanReply exactly.
func (r *ScanResult) IsClean() bool {
	return r.Raw == CleanReply
}

// IsInfected returns true if the daemon reported a signature match.
func (r *ScanResult) IsInfected() bool {
	return r.Status == StatusFound
}

// ParseReply classifies a daemon reply. Infected and error replies both yield
// a result whose IsClean is false; Status and Message only add diagnostics.
func ParseReply(raw string) *ScanResult {
	result := &ScanResult{Raw: raw}

	switch {
	case raw == CleanReply:
		result.Status = StatusOK
	case raw == "":
		result.Status = StatusError
		result.Message = "empty response"
	case strings.HasSuffix(raw, " "+StatusFound):
		result.Status = StatusFound
		sig := strings.TrimSuffix(strings.TrimPrefix(raw, streamPrefix), " "+StatusFound)
		if i := strings.LastIndex(sig, ": "); i >= 0 {
			sig = sig[i+2:]
		}
		result.Message = sig
	default:
		result.Status = StatusError
		msg := strings.TrimPrefix(raw, streamPrefix)
		result.Message = strings.TrimSpace(strings.TrimSuffix(msg, " "+StatusError))
	}

	return result
}
