package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewRespectsCustomWriter(t *testing.T) {
	var buf bytes.Buffer

	logger := New(Config{Writer: &buf})
	logger.Info("custom writer")

	if buf.Len() == 0 {
		t.Fatalf("expected output in custom writer, got none")
	}
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}
	for _, tc := range testCases {
		if got := parseLevel(tc.input).Level(); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestFormatSelection(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: "text"})
	logger.Info("hello")
	if !bytes.Contains(buf.Bytes(), []byte("msg=hello")) {
		t.Fatalf("expected text format output, got %q", buf.String())
	}

	buf.Reset()
	logger = New(Config{Writer: &buf})
	logger.Info("hello")
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("default format should be JSON: %v", err)
	}
}

func TestWithContextAnnotations(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})

	ctx := ContextWithRequestID(context.Background(), "req-42")
	ctx = ContextWithAssetID(ctx, "asset-7")

	WithContext(ctx, logger).Info("annotated")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if decoded["request_id"] != "req-42" {
		t.Fatalf("missing request_id: %v", decoded)
	}
	if decoded["asset_id"] != "asset-7" {
		t.Fatalf("missing asset_id: %v", decoded)
	}
}

func TestContextHelpersIgnoreBlankValues(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "   ")
	if _, ok := RequestIDFromContext(ctx); ok {
		t.Fatal("blank request id should not be stored")
	}
	ctx = ContextWithAssetID(ctx, "")
	if _, ok := AssetIDFromContext(ctx); ok {
		t.Fatal("blank asset id should not be stored")
	}
}

func TestRequestLoggerCapturesStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})

	handler := RequestLogger(RequestLoggerConfig{Logger: logger})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest("POST", "/api/transcode/jobs", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if decoded["status"] != float64(http.StatusAccepted) {
		t.Fatalf("expected status 202, got %v", decoded["status"])
	}
	if decoded["path"] != "/api/transcode/jobs" {
		t.Fatalf("unexpected path %v", decoded["path"])
	}
}
