package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sharedtable.ai/internal/persistence/export"
	"sharedtable.ai/internal/persistence/indexdb"
	"sharedtable.ai/internal/sim/table"
	"sharedtable.ai/internal/sim/tuning"
	"sharedtable.ai/internal/sim/zones"
)

type runtimeIndex interface {
	table.TickSink
	table.AuditSink
	Close() error
	Stats() indexdb.Stats
	UpsertConfigs(tune tuning.Tuning, layout zones.Config) error
	RecordExport(path string, snap export.GraphSnapshot)
	Migrations(ctx context.Context, peer, limit int) ([]indexdb.MigrationRow, error)
}

func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("ST_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "session.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported ST_INDEX_BACKEND: %s", backend)
	}
}
