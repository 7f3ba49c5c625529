package database

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

// testRedis はTEST_REDIS_ADDRが設定されている場合のみRedisに接続する。
func testRedis(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR が未設定のためスキップ")
	}
	r, err := NewRedis(RedisConfig{Addr: addr})
	if err != nil {
		t.Skipf("テスト用Redisに接続できません（スキップ）: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestNewRedis_UnreachableAddr(t *testing.T) {
	_, err := NewRedis(RedisConfig{Addr: "127.0.0.1:1"})
	if err == nil {
		t.Fatal("到達不能なアドレスでエラーが返らない")
	}
}

func TestRedis_SetGetDelete(t *testing.T) {
	r := testRedis(t)
	ctx := context.Background()

	if err := r.Set(ctx, "inkpost:test", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set がエラーを返した: %v", err)
	}
	got, err := r.Get(ctx, "inkpost:test")
	if err != nil || string(got) != "v1" {
		t.Fatalf("Get = %q, %v; want v1", got, err)
	}
	if err := r.Delete(ctx, "inkpost:test"); err != nil {
		t.Fatalf("Delete がエラーを返した: %v", err)
	}
	if _, err := r.Get(ctx, "inkpost:test"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("削除後の Get のエラー = %v, want ErrCacheMiss", err)
	}
}
