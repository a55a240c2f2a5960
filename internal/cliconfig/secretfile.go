package cliconfig

import (
	"fmt"

	"github.com/spf13/afero"
)

// SaveDelegateSecret writes secret to path through fs, so callers never
// need to print a long-lived credential to a shared terminal; tests
// substitute afero.NewMemMapFs() for the real filesystem.
func SaveDelegateSecret(fs afero.Fs, path, delegateID, secret string) error {
	content := fmt.Sprintf("# mindcache delegate secret for %s\n# treat this file as a credential: do not commit it.\n%s\n", delegateID, secret)
	return afero.WriteFile(fs, path, []byte(content), 0o600)
}

// LoadDelegateSecret reads back a secret written by SaveDelegateSecret,
// stripping its comment header.
func LoadDelegateSecret(fs afero.Fs, path string) (string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return "", err
	}
	lines := splitLines(string(data))
	for _, line := range lines {
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		return line, nil
	}
	return "", fmt.Errorf("secretfile: %s contains no secret line", path)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
