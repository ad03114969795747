// Package persistence selects a ledger backend.
package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"imagingqc/internal/infra/persistence/memory"
	"imagingqc/internal/infra/persistence/postgres"
	"imagingqc/internal/infra/persistence/sqlite"
	"imagingqc/internal/ledger"
)

// Driver names a ledger backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Config selects and parameterises the ledger backend. Path applies to
// sqlite, DSN to postgres.
type Config struct {
	Driver Driver
	Path   string
	DSN    string
	// Clock overrides the transaction clock; nil means time.Now in UTC.
	Clock func() time.Time
}

// Open returns the configured ledger store. An empty driver means sqlite.
func Open(ctx context.Context, cfg Config) (ledger.Store, error) {
	var opts []memory.Option
	if cfg.Clock != nil {
		opts = append(opts, memory.WithClock(cfg.Clock))
	}
	driver := Driver(strings.ToLower(strings.TrimSpace(string(cfg.Driver))))
	switch driver {
	case DriverMemory:
		return memory.NewStore(opts...), nil
	case DriverSQLite, "":
		st, err := sqlite.NewStore(ctx, cfg.Path, opts...)
		if err != nil {
			return nil, err
		}
		return st, nil
	case DriverPostgres:
		st, err := postgres.NewStore(ctx, cfg.DSN, opts...)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %s", cfg.Driver)
	}
}
