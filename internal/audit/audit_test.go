package audit

import (
	"os"
	"testing"
)

func TestSanitiseKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		key, value, want string
	}{
		{"MISTRAL_API_KEY", "sk-abc123", "set"},
		{"MISTRAL_API_KEY", "", "unset"},
		{"PGVECTOR_DSN", "postgres://u:p@h/db", "set"},
		{"VECTOR_BACKEND", "qdrant", "qdrant"},
		{"VECTOR_BACKEND", "", "unset"},
	}
	for _, tt := range tests {
		if got := SanitiseKey(tt.key, tt.value); got != tt.want {
			t.Errorf("SanitiseKey(%q, %q) = %q, want %q", tt.key, tt.value, got, tt.want)
		}
	}
}

func TestCommandAttrs_NeverLeaksSecrets(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"MISTRAL_API_KEY": "super-secret",
		"PDFRAG_API_KEY":  "also-secret",
		"UPLOAD_DIR":      "/data/uploads",
	}
	attrs := commandAttrs("serve", "", func(k string) string { return env[k] })

	seen := map[string]string{}
	for _, a := range attrs {
		v := a.Value.String()
		if v == "super-secret" || v == "also-secret" {
			t.Fatalf("secret value leaked under %s", a.Key)
		}
		seen[a.Key] = v
	}
	if seen["command"] != "serve" || seen["config_file"] != "none" {
		t.Errorf("unexpected header attrs: %v", seen)
	}
	if seen["UPLOAD_DIR"] != "/data/uploads" {
		t.Errorf("UPLOAD_DIR = %q", seen["UPLOAD_DIR"])
	}
	if seen["MISTRAL_API_KEY"] != "set" {
		t.Errorf("MISTRAL_API_KEY = %q, want set", seen["MISTRAL_API_KEY"])
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/pdfrag.yaml"); got != "/tmp/pdfrag.yaml" {
		t.Errorf("expected '/tmp/pdfrag.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" && home != "/" {
		p := home + "/.pdfrag/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.pdfrag/config.yaml" {
			t.Errorf("expected '~/.pdfrag/config.yaml', got %q", got)
		}
	}
}
