package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/langchou/evreceipts/internal/models"
)

const recordsBucket = "charging_records"

// BoltStore 本地单文件存储，每个用户一个键，值为记录 JSON 数组
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore 打开或创建数据库文件
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(recordsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Load 读取用户记录
func (s *BoltStore) Load(_ context.Context, user string) ([]*models.ChargingRecord, error) {
	records := make([]*models.ChargingRecord, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(recordsBucket)).Get([]byte(user))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &records)
	})
	if err != nil {
		return nil, fmt.Errorf("load records for %s: %w", user, err)
	}
	return records, nil
}

// Save 整体替换用户记录
func (s *BoltStore) Save(_ context.Context, user string, records []*models.ChargingRecord) error {
	if len(records) == 0 {
		return s.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket([]byte(recordsBucket)).Delete([]byte(user))
		})
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(recordsBucket)).Put([]byte(user), data)
	})
}

// Delete 删除用户
func (s *BoltStore) Delete(_ context.Context, user string) (bool, error) {
	var existed bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(recordsBucket))
		existed = b.Get([]byte(user)) != nil
		if !existed {
			return nil
		}
		return b.Delete([]byte(user))
	})
	if err != nil {
		return false, fmt.Errorf("delete records for %s: %w", user, err)
	}
	return existed, nil
}

// Users 按键序列出用户
func (s *BoltStore) Users(_ context.Context) ([]string, error) {
	users := make([]string, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(recordsBucket)).ForEach(func(k, _ []byte) error {
			users = append(users, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Close 关闭数据库
func (s *BoltStore) Close() error {
	return s.db.Close()
}
