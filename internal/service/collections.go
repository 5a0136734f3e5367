package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/langchou/evreceipts/internal/models"
	"github.com/langchou/evreceipts/internal/repository"
)

// Publisher 实时事件推送
type Publisher interface {
	BroadcastMessage(msgType string, data interface{})
}

type nopPublisher struct{}

func (nopPublisher) BroadcastMessage(string, interface{}) {}

// Collections 按用户读写记录集合，写操作在用户锁内完成
type Collections struct {
	store       repository.Store
	locker      repository.Locker
	defaultUser string
}

// NewCollections 创建集合访问器，locker 为 nil 时使用进程内锁
func NewCollections(store repository.Store, locker repository.Locker, defaultUser string) *Collections {
	if locker == nil {
		locker = repository.NewKeyedMutex()
	}
	return &Collections{
		store:       store,
		locker:      locker,
		defaultUser: repository.SanitizeUserKey(defaultUser),
	}
}

// Key 用户邮箱转存储键
func (c *Collections) Key(user string) string {
	if strings.TrimSpace(user) == "" {
		return c.defaultUser
	}
	return repository.SanitizeUserKey(user)
}

// Load 读取用户记录
func (c *Collections) Load(ctx context.Context, key string) ([]*models.ChargingRecord, error) {
	records, err := c.store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	return records, nil
}

// Update 读取 → 修改 → 保存，fn 返回 changed=false 时不写回
func (c *Collections) Update(ctx context.Context, key string, fn func(records []*models.ChargingRecord) ([]*models.ChargingRecord, bool, error)) error {
	unlock, err := c.locker.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("lock user %s: %w", key, err)
	}
	defer unlock()

	records, err := c.Load(ctx, key)
	if err != nil {
		return err
	}
	updated, changed, err := fn(records)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := c.store.Save(ctx, key, updated); err != nil {
		return fmt.Errorf("save records: %w", err)
	}
	return nil
}

// Drop 删除用户集合
func (c *Collections) Drop(ctx context.Context, key string) (bool, error) {
	unlock, err := c.locker.Lock(ctx, key)
	if err != nil {
		return false, fmt.Errorf("lock user %s: %w", key, err)
	}
	defer unlock()

	existed, err := c.store.Delete(ctx, key)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	return existed, nil
}

// Users 列出全部用户（还原为邮箱形式）
func (c *Collections) Users(ctx context.Context) ([]string, error) {
	keys, err := c.store.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := make([]string, len(keys))
	for i, k := range keys {
		users[i] = repository.UnsanitizeUserKey(k)
	}
	return users, nil
}
