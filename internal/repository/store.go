package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/langchou/evreceipts/internal/models"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

// DefaultUserKey 未指定用户时使用的集合
const DefaultUserKey = "default"

// Store 按用户保存的有序记录集合
type Store interface {
	// Load 读取用户全部记录，用户不存在时返回空切片
	Load(ctx context.Context, user string) ([]*models.ChargingRecord, error)
	// Save 整体替换用户的记录集合，空集合等同删除该用户
	Save(ctx context.Context, user string, records []*models.ChargingRecord) error
	// Delete 删除用户集合，返回是否存在
	Delete(ctx context.Context, user string) (bool, error)
	// Users 列出已有集合的用户键（已清洗形式）
	Users(ctx context.Context) ([]string, error)
	Close() error
}

// SanitizeUserKey 邮箱地址转换为存储键，空值使用默认键
func SanitizeUserKey(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return DefaultUserKey
	}
	email = strings.ReplaceAll(email, "@", "_at_")
	return strings.ReplaceAll(email, ".", "_dot_")
}

// UnsanitizeUserKey 存储键还原为邮箱地址
func UnsanitizeUserKey(key string) string {
	key = strings.ReplaceAll(key, "_at_", "@")
	return strings.ReplaceAll(key, "_dot_", ".")
}
