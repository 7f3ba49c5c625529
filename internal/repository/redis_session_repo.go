package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/inkpost/internal/database"
	"github.com/hitoshi/inkpost/internal/model"
)

// KeyValueStore はRedisセッションリポジトリが使うキー・バリュー操作。
// database.Redisが実装する。
type KeyValueStore interface {
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
}

var _ KeyValueStore = (*database.Redis)(nil)

const sessionKeyPrefix = "session:"

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// セッションはsession:<id>キーに有効期限付きで保存され、期限切れはRedis側で削除される。
type RedisSessionRepo struct {
	store KeyValueStore
	now   func() time.Time
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(store KeyValueStore) *RedisSessionRepo {
	return &RedisSessionRepo{store: store, now: time.Now}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// Create はセッションを有効期限までのTTL付きで保存する。
func (r *RedisSessionRepo) Create(ctx context.Context, session *model.Session) error {
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("failed to create session: already expired")
	}
	data, err := json.Marshal(newSessionData(session))
	if err != nil {
		return fmt.Errorf("failed to encode session data: %w", err)
	}
	if err := r.store.Set(ctx, sessionKey(session.ID), data, ttl); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (r *RedisSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	raw, err := r.store.Get(ctx, sessionKey(id))
	if errors.Is(err, database.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var data sessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode session data: %w", err)
	}
	session := data.session(id)
	if session.Expired(r.now()) {
		return nil, nil
	}
	return session, nil
}

// Update はトークンとIdentityのスナップショットを更新する。TTLは有効期限から算出し直す。
// 更新時点で期限切れのセッションはキーを削除し、再作成しない。
func (r *RedisSessionRepo) Update(ctx context.Context, session *model.Session) error {
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return r.DeleteByID(ctx, session.ID)
	}
	data, err := json.Marshal(newSessionData(session))
	if err != nil {
		return fmt.Errorf("failed to encode session data: %w", err)
	}
	if err := r.store.Set(ctx, sessionKey(session.ID), data, ttl); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, sessionKey(id)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired はRedisのTTLで期限切れキーが削除されるため何もしない。
func (r *RedisSessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
