package cli

import (
	"os"
	"strings"

	"github.com/SiwatS/chronocrypt-kms/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// CHRONOCRYPT_DATA_DIR env var, or ~/.chronocrypt as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("CHRONOCRYPT_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.chronocrypt"
}

// openStore opens the SQLite store, defaulting to ~/.chronocrypt if no data
// dir was specified.
func openStore() (*store.Store, error) {
	return store.NewStore(resolveDataDir())
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n-1]) + "…"
}
