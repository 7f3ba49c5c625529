package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/inkpost/internal/model"
	"github.com/hitoshi/inkpost/internal/upstream"
)

const profilesTable = "user_profiles"

type profileRow struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

func (r profileRow) profile() *model.Profile {
	return &model.Profile{ID: r.ID, Username: r.Username, DisplayName: r.DisplayName}
}

// RestProfileRepo は外部サービスの行ストレージを使用したプロフィールリポジトリ。
type RestProfileRepo struct {
	store RestStore
}

// NewRestProfileRepo はRestProfileRepoを生成する。
func NewRestProfileRepo(store RestStore) *RestProfileRepo {
	return &RestProfileRepo{store: store}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *RestProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	var rows []profileRow
	_, err := r.store.Select(ctx, profilesTable, upstream.Query{
		Columns: "id,username,display_name",
		Filters: []upstream.Filter{upstream.Eq("id", id)},
		Limit:   1,
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].profile(), nil
}

// FindByIDs は複数IDのプロフィールを1リクエストで取得する。
func (r *RestProfileRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []profileRow
	_, err := r.store.Select(ctx, profilesTable, upstream.Query{
		Columns: "id,username,display_name",
		Filters: []upstream.Filter{upstream.In("id", ids...)},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to find profiles: %w", err)
	}
	profiles := make([]*model.Profile, 0, len(rows))
	for _, row := range rows {
		profiles = append(profiles, row.profile())
	}
	return profiles, nil
}

// Upsert はプロフィールを作成または上書きする。
func (r *RestProfileRepo) Upsert(ctx context.Context, profile *model.Profile) error {
	row := profileRow{ID: profile.ID, Username: profile.Username, DisplayName: profile.DisplayName}
	if err := r.store.Upsert(ctx, profilesTable, row, "id", nil); err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*RestProfileRepo)(nil)
