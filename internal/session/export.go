package session

import (
	"os"
	"path/filepath"
)

// writeExport writes content to path, creating parent directories as needed.
// Export artifacts are standalone files outside the atomic-rename write
// path PersistenceStore uses for its own state, since nothing else ever
// reads or mutates them concurrently.
func writeExport(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
