package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/inkpost/internal/config"
	"github.com/hitoshi/inkpost/internal/database"
	"github.com/hitoshi/inkpost/internal/handler"
	"github.com/hitoshi/inkpost/internal/repository"
)

// connectTimeout は起動時のデータストア接続確認の上限。
const connectTimeout = 5 * time.Second

// stores はバックエンド設定に応じて選択したリポジトリをまとめる。
type stores struct {
	posts    repository.PostRepository
	profiles repository.ProfileRepository
	sessions repository.SessionRepository
	checks   map[string]handler.HealthChecker
	closers  []func() error
}

// Close は開いた接続を逆順に閉じる。
func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("failed to close store", slog.String("error", err.Error()))
		}
	}
}

// openStores は記事・プロフィール・セッションのリポジトリを生成する。
//   - RECORD_BACKEND=rest: 外部サービスのREST API（既定）
//   - RECORD_BACKEND=postgres: 自前のPostgreSQL
//   - SESSION_BACKEND=postgres: sessionsテーブル（既定）
//   - SESSION_BACKEND=redis: session:<id> キー
func openStores(ctx context.Context, cfg *config.Config, rest repository.RestStore) (*stores, error) {
	st := &stores{checks: make(map[string]handler.HealthChecker)}

	var db *sql.DB
	if cfg.UsesPostgres() {
		var err error
		db, err = openPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, db.Close)
		st.checks["database"] = handler.HealthCheckFunc(db.PingContext)
	}

	switch cfg.RecordBackend {
	case config.BackendPostgres:
		st.posts = repository.NewPostgresPostRepo(db)
		st.profiles = repository.NewPostgresProfileRepo(db)
	default:
		st.posts = repository.NewRestPostRepo(rest)
		st.profiles = repository.NewRestProfileRepo(rest)
	}

	switch cfg.SessionBackend {
	case config.BackendRedis:
		rdb, err := openRedis(cfg)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.closers = append(st.closers, rdb.Close)
		st.checks["redis"] = rdb
		st.sessions = repository.NewRedisSessionRepo(rdb)
	default:
		st.sessions = repository.NewPostgresSessionRepo(db)
	}

	return st, nil
}

// openSessionStore はワーカー用にセッションリポジトリのみを開く。
func openSessionStore(ctx context.Context, cfg *config.Config) (repository.SessionRepository, func(), error) {
	if cfg.SessionBackend == config.BackendRedis {
		rdb, err := openRedis(cfg)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewRedisSessionRepo(rdb), func() { rdb.Close() }, nil
	}

	db, err := openPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewPostgresSessionRepo(db), func() { db.Close() }, nil
}

// openPostgres はPostgreSQLに接続し、疎通を確認する。
func openPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// openRedis はRedisに接続する。NewRedisが疎通を確認する。
func openRedis(cfg *config.Config) (*database.Redis, error) {
	rdb, err := database.NewRedis(database.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open redis: %w", err)
	}

	slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))
	return rdb, nil
}
