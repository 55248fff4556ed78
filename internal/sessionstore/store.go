// Package sessionstore 按浏览器会话 id 保存已选套餐和注册向导状态
package sessionstore

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("session value not found")

type Store interface {
	Get(ctx context.Context, sid, key string) (string, error)
	Set(ctx context.Context, sid, key, value string) error
	Delete(ctx context.Context, sid string, keys ...string) error
}

func storageKey(sid, key string) string {
	return fmt.Sprintf("session:%s:%s", sid, key)
}
