package extractor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/refpages/apidelta/pkg/changelog"
	"github.com/refpages/apidelta/pkg/discovery"
	"github.com/refpages/apidelta/pkg/ir"
)

// Placeholders replaced (shell-quoted) in the command template.
const (
	placeholderPackage = "{{PACKAGE}}"
	placeholderVersion = "{{VERSION}}"
	placeholderSHA     = "{{SHA}}"
	placeholderRepo    = "{{REPO}}"
)

// CommandExtractor runs a configured command per version and parses its
// stdout as an IR document. The command runs through the shell, so pipes
// and environment prefixes work.
type CommandExtractor struct {
	Template string
}

func NewCommandExtractor(template string) (*CommandExtractor, error) {
	if !strings.Contains(template, placeholderVersion) && !strings.Contains(template, placeholderSHA) {
		return nil, fmt.Errorf("extractor command must contain a %s or %s placeholder", placeholderVersion, placeholderSHA)
	}
	return &CommandExtractor{Template: template}, nil
}

func (e *CommandExtractor) Extract(ctx context.Context, pkg changelog.PackageRef, v discovery.DiscoveredVersion) (*ir.MinimalIR, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", e.expand(pkg, v))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("extractor command failed: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("extractor command failed: %w", err)
	}

	doc, err := ir.Parse(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("extractor output for %s@%s: %w", pkg.ID, v.Version, err)
	}
	if err := Verify(pkg, v, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// expand fills the placeholders, each shell-quoted.
func (e *CommandExtractor) expand(pkg changelog.PackageRef, v discovery.DiscoveredVersion) string {
	out := e.Template
	out = strings.ReplaceAll(out, placeholderPackage, shellQuote(pkg.ID))
	out = strings.ReplaceAll(out, placeholderVersion, shellQuote(v.Version))
	out = strings.ReplaceAll(out, placeholderSHA, shellQuote(v.CommitSHA))
	out = strings.ReplaceAll(out, placeholderRepo, shellQuote(pkg.Repo))
	return out
}

// shellQuote quotes a string for safe use in shell commands.
func shellQuote(s string) string {
	escaped := strings.ReplaceAll(s, "'", "'\\''")
	return "'" + escaped + "'"
}
