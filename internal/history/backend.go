package history

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"vidrelay/internal/config"
)

// Backend loads and saves a History.
type Backend interface {
	Load(ctx context.Context) (*History, error)
	Save(ctx context.Context, h *History) error
	Close() error
}

// Open returns the backend selected by cfg.History.Backend.
func Open(cfg *config.Config) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("history: config is nil")
	}
	switch cfg.History.Backend {
	case config.BackendJSON, "":
		return NewJSONStore(cfg.History.Path), nil
	case config.BackendSQLite:
		return OpenSQLite(SQLitePath(cfg.History.Path))
	default:
		return nil, fmt.Errorf("history: unsupported backend %q", cfg.History.Backend)
	}
}

// SQLitePath derives the database path from the configured history path,
// swapping a .json extension for .db.
func SQLitePath(historyPath string) string {
	if strings.EqualFold(filepath.Ext(historyPath), ".json") {
		return strings.TrimSuffix(historyPath, filepath.Ext(historyPath)) + ".db"
	}
	return historyPath
}
