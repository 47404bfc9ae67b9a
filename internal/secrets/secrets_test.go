package secrets

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnvResolver(t *testing.T) {
	env := map[string]string{"OPENAI_API_KEY": " sk-1 ", "EMPTY": ""}
	r := &EnvResolver{lookup: func(k string) (string, bool) { v, ok := env[k]; return v, ok }}

	tests := []struct {
		ref    string
		want   string
		wantOK bool
	}{
		{"env:OPENAI_API_KEY", "sk-1", true},
		{"OPENAI_API_KEY", "sk-1", true},
		{"EMPTY", "", false},
		{"MISSING", "", false},
		{"file:OPENAI_API_KEY", "", false},
	}
	for _, tt := range tests {
		got, ok := r.Resolve(tt.ref)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Resolve(%q) = %q, %v; want %q, %v", tt.ref, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFileResolver(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "gemini_key"), []byte("g-123\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	r := &FileResolver{Dir: dir}

	if v, ok := r.Resolve("gemini_key"); !ok || v != "g-123" {
		t.Errorf("Resolve(bare) = %q, %v", v, ok)
	}
	if v, ok := r.Resolve("file:" + filepath.Join(dir, "gemini_key")); !ok || v != "g-123" {
		t.Errorf("Resolve(file:) = %q, %v", v, ok)
	}
	if _, ok := r.Resolve("../gemini_key"); ok {
		t.Error("Resolve() escaped the secrets directory")
	}
	if _, ok := r.Resolve("nope"); ok {
		t.Error("Resolve(nope) = ok, want missing")
	}
}

func TestChain(t *testing.T) {
	c := Chain{Static{"a": "1"}, Static{"a": "2", "b": "3"}}
	if v, _ := c.Resolve("a"); v != "1" {
		t.Errorf("Resolve(a) = %q, want first resolver to win", v)
	}
	if v, _ := c.Resolve("b"); v != "3" {
		t.Errorf("Resolve(b) = %q, want 3", v)
	}
	if _, ok := c.Resolve(""); ok {
		t.Error("Resolve(\"\") = ok, want missing")
	}
}
