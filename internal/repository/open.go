package repository

import (
	"context"
	"fmt"
)

// 存储驱动
const (
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
)

// OpenOptions 存储选项
type OpenOptions struct {
	Driver      string
	DatabaseURL string
	BoltPath    string
}

// Open 按驱动打开存储，PostgreSQL 会先执行迁移
func Open(ctx context.Context, opts OpenOptions) (Store, error) {
	switch opts.Driver {
	case DriverBolt, "":
		return NewBoltStore(opts.BoltPath)
	case DriverPostgres:
		db, err := New(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		return NewRecordRepository(db), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
