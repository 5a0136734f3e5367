package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateChargingRecords,
		migrationAddRecordColumns,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateChargingRecords = `
CREATE TABLE IF NOT EXISTS charging_records (
    user_key VARCHAR(320) NOT NULL,
    position INT NOT NULL,
    record_id VARCHAR(32) NOT NULL,
    data JSONB NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    PRIMARY KEY (user_key, position)
);
CREATE INDEX IF NOT EXISTS idx_charging_records_record_id ON charging_records(user_key, record_id);
`

// 便于直接用 SQL 查询的冗余列
const migrationAddRecordColumns = `
ALTER TABLE charging_records ADD COLUMN IF NOT EXISTS provider VARCHAR(50);
ALTER TABLE charging_records ADD COLUMN IF NOT EXISTS charged_on DATE;
CREATE INDEX IF NOT EXISTS idx_charging_records_charged_on ON charging_records(user_key, charged_on);
`
