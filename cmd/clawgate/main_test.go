package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/clawgate/internal/config"
)

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := `# comment
CLAWGATE_TEST_ONE=alpha

CLAWGATE_TEST_TWO = beta
malformed line
=novalue
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("CLAWGATE_TEST_ONE", "")
	t.Setenv("CLAWGATE_TEST_TWO", "")
	os.Unsetenv("CLAWGATE_TEST_ONE")
	os.Unsetenv("CLAWGATE_TEST_TWO")

	loadDotEnv(path)

	if got := os.Getenv("CLAWGATE_TEST_ONE"); got != "alpha" {
		t.Fatalf("CLAWGATE_TEST_ONE = %q, want alpha", got)
	}
	if got := os.Getenv("CLAWGATE_TEST_TWO"); got != "beta" {
		t.Fatalf("CLAWGATE_TEST_TWO = %q, want beta", got)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CLAWGATE_TEST_KEEP=from_file\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("CLAWGATE_TEST_KEEP", "from_env")

	loadDotEnv(path)

	if got := os.Getenv("CLAWGATE_TEST_KEEP"); got != "from_env" {
		t.Fatalf("CLAWGATE_TEST_KEEP = %q, existing env must win", got)
	}
}

func TestToCredentials(t *testing.T) {
	entries := []config.CredentialConfig{
		{Name: "primary", Token: "sk-ant-one", BaseURL: "https://api.example.com", Status: "active"},
		{Name: "backup", Token: "sk-ant-two"},
	}

	creds := toCredentials(entries)
	if len(creds) != 2 {
		t.Fatalf("len = %d, want 2", len(creds))
	}
	if creds[0].Name != "primary" || creds[0].Token != "sk-ant-one" || creds[0].BaseURL != "https://api.example.com" {
		t.Fatalf("first credential mismatch: %+v", creds[0])
	}
	if creds[1].Name != "backup" || creds[1].BaseURL != "" {
		t.Fatalf("second credential mismatch: %+v", creds[1])
	}
}
