package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestFromContext_DefaultWhenMissing(t *testing.T) {
	t.Parallel()

	if got := FromContext(context.Background()); got != slog.Default() {
		t.Errorf("expected slog.Default when no logger is stored")
	}
}

func TestWith_CarriesAttributes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := NewWriter(&buf, "debug", "json")
	ctx := WithLogger(context.Background(), base)

	ctx, _ = With(ctx, slog.String("job_id", "j-1"))
	FromContext(ctx).Info("processing")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["job_id"] != "j-1" {
		t.Errorf("job_id: want j-1, got %v", line["job_id"])
	}
	if line["service"] != "pdfrag" {
		t.Errorf("service: want pdfrag, got %v", line["service"])
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
