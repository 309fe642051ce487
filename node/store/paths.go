package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// ChainDir returns the on-disk directory for a given network under datadir
// (spec.md §6: "partitioned by network name").
func ChainDir(datadir string, networkName string) string {
	return filepath.Join(datadir, "chains", networkName)
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

