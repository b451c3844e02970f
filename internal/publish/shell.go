// Package publish propagates the active credential into the running
// process environment and into persisted shell-init files so that future
// launches of the wrapped agent inherit the token.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/basket/clawgate/internal/rotation"
)

// Environment variables consumed by the wrapped Claude CLI.
const (
	EnvAuthToken = "ANTHROPIC_AUTH_TOKEN"
	EnvBaseURL   = "ANTHROPIC_BASE_URL"
)

var tokenDeclPattern = regexp.MustCompile(`(?m)^\s*export ` + EnvAuthToken + `=.*$`)

// ShellPublisher implements rotation.Publisher by setting the live process
// environment and rewriting the token declaration in a fixed list of
// shell-init files. The env update is the correctness requirement; per-file
// rewrite failures downgrade to warnings.
type ShellPublisher struct {
	files  []string
	logger *slog.Logger
}

// NewShellPublisher creates a publisher over the given shell-init files.
func NewShellPublisher(files []string, logger *slog.Logger) *ShellPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShellPublisher{files: files, logger: logger}
}

// Apply sets the credential's token (and optional base URL) in the process
// environment, then rewrites each configured shell file. Returns an error
// only when the environment update itself fails.
func (p *ShellPublisher) Apply(_ context.Context, cred rotation.Credential) error {
	if err := os.Setenv(EnvAuthToken, cred.Token); err != nil {
		return fmt.Errorf("set %s: %w", EnvAuthToken, err)
	}
	if cred.BaseURL != "" {
		if err := os.Setenv(EnvBaseURL, cred.BaseURL); err != nil {
			return fmt.Errorf("set %s: %w", EnvBaseURL, err)
		}
	}

	for _, file := range p.files {
		if err := rewriteTokenDecl(file, cred.Token); err != nil {
			// One bad file must not abort the rest.
			p.logger.Warn("failed to update shell file", "path", file, "error", err)
		}
	}

	p.logger.Info("applied credential",
		"name", cred.Name,
		"base_url", cred.BaseURL,
		"shell_files", len(p.files),
	)
	return nil
}

// rewriteTokenDecl replaces the token declaration in path, appending one if
// the file exists without it. Missing files are skipped silently.
func rewriteTokenDecl(path, token string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read: %w", err)
	}

	decl := "export " + EnvAuthToken + "=" + token
	content := string(data)

	var updated string
	if tokenDeclPattern.MatchString(content) {
		// Tokens are opaque strings; a literal replace keeps any $ in
		// them from being expanded as capture-group references.
		updated = tokenDeclPattern.ReplaceAllLiteralString(content, decl)
	} else {
		updated = content
		if updated != "" && !strings.HasSuffix(updated, "\n") {
			updated += "\n"
		}
		updated += decl + "\n"
	}
	if updated == content {
		return nil
	}

	mode := os.FileMode(0o644)
	if info, statErr := os.Stat(path); statErr == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, []byte(updated), mode); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
