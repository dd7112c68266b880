package manifest

import (
	"os"
	"testing"
)

func writeManifestFile(t *testing.T, path, content string) error {
	t.Helper()
	return os.WriteFile(path, []byte(content), 0o644)
}
