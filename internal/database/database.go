package database

import (
	"context"
	"fmt"

	"github.com/npezzotti/go-tweetchat/internal/config"
)

// Open establishes the process wide persistence handle for the configured
// driver. It is called once at startup and the result is shared by reference.
func Open(ctx context.Context, cfg config.DatabaseConfig) (CommentRepository, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		return NewMongoCommentRepository(ctx, cfg.URI, cfg.Name, cfg.ConnectTimeout)
	case config.DriverPostgres:
		return NewPgCommentRepository(ctx, cfg.URI, cfg.ConnectTimeout)
	case config.DriverMemory:
		return NewMemoryCommentRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
