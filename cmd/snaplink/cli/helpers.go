package cli

import (
	"os"

	"github.com/snaplinkhq/snaplink/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from the --data-dir flag,
// the SNAPLINK_DATA_DIR env var, or ~/.snaplink as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("SNAPLINK_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.snaplink"
}

// openStore opens the SQLite store, defaulting to ~/.snaplink if no data
// dir was specified.
func openStore() (*store.Store, error) {
	return store.NewStore(resolveDataDir())
}
