package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeTransport, "renderer connection dropped")

	if err == nil {
		t.Fatal("New should return non-nil error")
	}

	if err.Code != ErrCodeTransport {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeTransport)
	}

	if err.Message != "renderer connection dropped" {
		t.Errorf("Message = %v, want 'renderer connection dropped'", err.Message)
	}

	if err.Underlying != nil {
		t.Error("Underlying should be nil for New error")
	}

	if len(err.Stack) == 0 {
		t.Fatal("Stack should be captured")
	}
	if !strings.Contains(err.Stack[0].Function, "TestNew") {
		t.Errorf("first frame = %s, want the caller of New", err.Stack[0].Function)
	}

	if err.Fatal() {
		t.Error("transport errors are not fatal")
	}
}

func TestWrap(t *testing.T) {
	underlying := errors.New("unexpected end of JSON input")
	err := Wrap(underlying, ErrCodeBridgeDecode, "decode visitStarted arguments")

	if err == nil {
		t.Fatal("Wrap should return non-nil error")
	}

	if err.Underlying != underlying {
		t.Error("Underlying should be preserved")
	}

	if !strings.Contains(err.Error(), "unexpected end of JSON input") {
		t.Error("Error string should include underlying error")
	}
}

func TestWrap_Nil(t *testing.T) {
	if err := Wrap(nil, ErrCodeInternal, "test"); err != nil {
		t.Error("Wrap of nil should return nil")
	}
}

func TestError_ContextIsSorted(t *testing.T) {
	err := New(ErrCodeNavigation, "load failed").
		WithContext("url", "https://example.com/a").
		WithContext("code", -2)

	want := "[NAVIGATION] load failed {code: -2, url: https://example.com/a}"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestIsCode_Wrapped(t *testing.T) {
	err := fmt.Errorf("visit: %w", Configuration("adapter", ""))

	if !IsCode(err, ErrCodeConfiguration) {
		t.Error("IsCode should see through fmt wrapping")
	}
	if !IsConfiguration(err) {
		t.Error("IsConfiguration should match")
	}
	if IsReservedName(err) {
		t.Error("IsReservedName should not match a configuration error")
	}
	if IsCode(nil, ErrCodeConfiguration) {
		t.Error("IsCode should return false for nil error")
	}
	if IsCode(errors.New("plain"), ErrCodeInternal) {
		t.Error("IsCode should return false for non-visitbridge errors")
	}
}

func TestGetCode(t *testing.T) {
	if GetCode(ReservedName("TurbolinksNative")) != ErrCodeReservedName {
		t.Error("GetCode should return the reserved name code")
	}
	if GetCode(nil) != "" {
		t.Error("GetCode should return empty string for nil")
	}
	if GetCode(errors.New("standard")) != ErrCodeInternal {
		t.Error("GetCode should return ErrCodeInternal for foreign errors")
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(fmt.Errorf("bind: %w", Configuration("adapter", ""))) {
		t.Error("missing bindings are fatal")
	}
	if !IsFatal(ReservedName("TurbolinksNative")) {
		t.Error("reserved names are fatal")
	}
	if IsFatal(Navigation(-2, "host lookup failed", "https://example.com")) {
		t.Error("navigation failures go to the adapter, not the caller")
	}
	if IsFatal(errors.New("plain")) || IsFatal(nil) {
		t.Error("foreign and nil errors are not fatal")
	}
}

func TestLogValue(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	err := Wrap(errors.New("EOF"), ErrCodeTransport, "renderer closed").WithContext("session_id", "s1")
	logger.Error("detached", "error", err)

	var entry struct {
		Error map[string]any `json:"error"`
	}
	if jerr := json.Unmarshal(buf.Bytes(), &entry); jerr != nil {
		t.Fatalf("decode log line: %v", jerr)
	}
	if entry.Error["code"] != "TRANSPORT" || entry.Error["session_id"] != "s1" || entry.Error["cause"] != "EOF" {
		t.Errorf("unexpected error group %v", entry.Error)
	}
}

func TestTaxonomyConstructors(t *testing.T) {
	tests := []struct {
		name  string
		err   *Error
		code  ErrorCode
		key   string
		value any
	}{
		{"configuration", Configuration("navigation context", "call BindContext"), ErrCodeConfiguration, "binding", "navigation context"},
		{"reserved", ReservedName("TurbolinksNative"), ErrCodeReservedName, "name", "TurbolinksNative"},
		{"navigation", Navigation(-6, "connection refused", "https://example.com"), ErrCodeNavigation, "code", -6},
		{"mismatch", ProtocolMismatch("https://example.com"), ErrCodeProtocolMismatch, "location", "https://example.com"},
		{"stale", StaleMessage("visitRendered", "v1", "v2"), ErrCodeStaleMessage, "current_visit_id", "v2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %v, want %v", tt.err.Code, tt.code)
			}
			if tt.err.Context[tt.key] != tt.value {
				t.Errorf("Context[%q] = %v, want %v", tt.key, tt.err.Context[tt.key], tt.value)
			}
		})
	}
}

func TestStackTrace(t *testing.T) {
	err := New(ErrCodeInternal, "test error")

	trace := err.StackTrace()
	if !strings.Contains(trace, "Stack trace:") {
		t.Error("StackTrace should contain header")
	}
	if !strings.Contains(trace, "types_test.go:") {
		t.Error("StackTrace should include file and line")
	}
	if len(err.Stack) == 0 {
		t.Error("Stack should have frames")
	}
}

func TestCaptureStack(t *testing.T) {
	frames := captureStack(0)

	found := false
	for _, frame := range frames {
		if strings.Contains(frame.Function, "TestCaptureStack") {
			found = true
			break
		}
	}

	if !found {
		t.Error("Stack should contain the calling test frame")
	}
}
