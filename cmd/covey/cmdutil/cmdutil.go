// Package cmdutil holds helpers shared by covey subcommands.
package cmdutil

import (
	"path/filepath"

	"covey/internal/store"
)

// DefaultDataDir matches the daemon's default.
const DefaultDataDir = "/var/lib/covey"

// OpenStore opens the daemon's database. SQLite WAL mode lets the CLI
// read while the daemon writes.
func OpenStore(dataDir string) (*store.Store, error) {
	if dataDir == "" {
		dataDir = DefaultDataDir
	}
	return store.Open(filepath.Join(dataDir, "covey.db"))
}
