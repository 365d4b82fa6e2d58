package clamav

import "testing"

func TestParseReply(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantStatus  string
		wantMessage string
		wantClean   bool
	}{
		{name: "clean", raw: "stream: OK", wantStatus: StatusOK, wantClean: true},
		{name: "eicar", raw: "stream: Eicar-Test-Signature FOUND", wantStatus: StatusFound, wantMessage: "Eicar-Test-Signature"},
		{name: "found with path", raw: "stream: /path: Eicar-Test-Signature FOUND", wantStatus: StatusFound, wantMessage: "Eicar-Test-Signature"},
		{name: "size limit", raw: "INSTREAM size limit exceeded. ERROR", wantStatus: StatusError, wantMessage: "INSTREAM size limit exceeded."},
		{name: "empty", raw: "", wantStatus: StatusError, wantMessage: "empty response"},
		{name: "trailing NUL kept", raw: "stream: OK\x00", wantStatus: StatusError, wantMessage: "OK\x00"},
		{name: "lowercase", raw: "stream: ok", wantStatus: StatusError, wantMessage: "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ParseReply(tt.raw)
			if r.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", r.Status, tt.wantStatus)
			}
			if r.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", r.Message, tt.wantMessage)
			}
			if r.IsClean() != tt.wantClean {
				t.Errorf("IsClean = %v, want %v", r.IsClean(), tt.wantClean)
			}
			if r.Raw != tt.raw {
				t.Errorf("Raw = %q, want %q", r.Raw, tt.raw)
			}
		})
	}
}

func TestScanResultMethods(t *testing.T) {
	clean := &ScanResult{Status: StatusOK, Raw: CleanReply}
	if !clean.IsClean() || clean.IsInfected() {
		t.Error("clean result misclassified")
	}

	infected := &ScanResult{Status: StatusFound, Raw: "stream: Win.Test FOUND"}
	if infected.IsClean() || !infected.IsInfected() {
		t.Error("infected result misclassified")
	}

	// Status alone never makes a result clean.
	forged := &ScanResult{Status: StatusOK, Raw: "stream: OK "}
	if forged.IsClean() {
		t.Error("IsClean must require an exact reply match")
	}
}
