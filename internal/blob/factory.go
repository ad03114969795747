package blob

import (
	"context"
	"fmt"
	"strings"
)

// Config selects and parameterises a Store.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open selects a Store implementation from cfg. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := Driver(strings.ToLower(strings.TrimSpace(string(cfg.Driver))))
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
