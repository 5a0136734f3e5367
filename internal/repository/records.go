package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/evreceipts/internal/models"
)

// RecordRepository 充电记录仓库（PostgreSQL）
type RecordRepository struct {
	db *DB
}

// NewRecordRepository 创建记录仓库
func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Load 按写入顺序读取用户记录
func (r *RecordRepository) Load(ctx context.Context, user string) ([]*models.ChargingRecord, error) {
	query := `
		SELECT data FROM charging_records
		WHERE user_key = $1
		ORDER BY position
	`
	rows, err := r.db.Pool.Query(ctx, query, user)
	if err != nil {
		return nil, fmt.Errorf("query charging records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.ChargingRecord, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan charging record: %w", err)
		}
		var rec models.ChargingRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode charging record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate charging records: %w", err)
	}
	return records, nil
}

// Save 在事务中整体替换用户记录
func (r *RecordRepository) Save(ctx context.Context, user string, records []*models.ChargingRecord) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM charging_records WHERE user_key = $1`, user); err != nil {
		return fmt.Errorf("clear charging records: %w", err)
	}

	rows := make([][]any, 0, len(records))
	for i, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode charging record: %w", err)
		}
		var chargedOn *time.Time
		if rec.Date != nil {
			t := rec.Date.Time
			chargedOn = &t
		}
		rows = append(rows, []any{user, i, rec.ID, data, string(rec.Provider), chargedOn})
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"charging_records"},
		[]string{"user_key", "position", "record_id", "data", "provider", "charged_on"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy charging records: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit charging records: %w", err)
	}
	return nil
}

// Delete 删除用户全部记录
func (r *RecordRepository) Delete(ctx context.Context, user string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM charging_records WHERE user_key = $1`, user)
	if err != nil {
		return false, fmt.Errorf("delete charging records: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Users 列出有记录的用户
func (r *RecordRepository) Users(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT DISTINCT user_key FROM charging_records ORDER BY user_key`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect users: %w", err)
	}
	return users, nil
}

// Close 关闭连接池
func (r *RecordRepository) Close() error {
	r.db.Close()
	return nil
}
