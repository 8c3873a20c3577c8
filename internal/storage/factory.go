package storage

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/shrijayan/TWCline-open-source/internal/config"
)

// NewStore builds a Store from config. The boolean reports whether the
// returned store is persistent. An empty db_path selects the in-memory
// store; a SQLite failure logs a warning and falls back to in-memory.
func NewStore(cfg config.StorageConfig) (Store, bool, error) {
	if cfg.DBPath == "" {
		return NewMemoryStore(), false, nil
	}

	dbPath := ExpandTilde(cfg.DBPath)

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		log.Printf("WARNING: SQLite storage unavailable (%v), falling back to in-memory store", err)
		return NewMemoryStore(), false, nil
	}

	return store, true, nil
}

// ExpandTilde resolves a leading ~/ against the user's home directory.
func ExpandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
