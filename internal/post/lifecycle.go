package post

import (
	"time"

	"github.com/hitoshi/inkpost/internal/model"
)

// Edit はフォームから送信された記事の入力値を表す。
// Statusが空文字の場合は「指定なし」として扱う。
type Edit struct {
	Title   string
	Content string
	Status  model.PostStatus
}

// ApplyEdit は既存記事に編集内容を適用した新しい記事を返す。oldは変更しない。
//   - タイトルが変わった場合のみslugを再生成する
//   - Statusが指定されていればそれを、なければ既存のStatusを使う
//   - PublishedAtは「未公開→公開」かつ未設定の場合にのみnowを設定し、それ以外は変更しない
//   - UpdatedAtは常にnowを設定する
func ApplyEdit(old *model.Post, edit Edit, now time.Time) *model.Post {
	next := *old
	next.Title = edit.Title
	next.Content = edit.Content

	if edit.Title != old.Title {
		next.Slug = GenerateSlug(edit.Title, now)
	}

	if edit.Status != "" {
		next.Status = edit.Status
	}

	if shouldSetPublishedAt(old, edit.Status) {
		publishedAt := now
		next.PublishedAt = &publishedAt
	}

	next.UpdatedAt = now
	return &next
}

// NewPost は新規作成する記事を組み立てる。
// 未公開・公開日時未設定の記事に対する編集と同じ規則で公開日時を決める。
// Statusが指定されていない場合は公開として扱う。
func NewPost(userID string, edit Edit, now time.Time) *model.Post {
	if edit.Status == "" {
		edit.Status = model.PostStatusPublished
	}

	blank := &model.Post{UserID: userID, Status: model.PostStatusDraft}
	p := ApplyEdit(blank, edit, now)

	// タイトルが空でもslugは必ず生成する
	p.Slug = GenerateSlug(edit.Title, now)
	p.CreatedAt = now
	return p
}

// shouldSetPublishedAt は公開日時を設定すべき遷移かどうかを判定する。
func shouldSetPublishedAt(old *model.Post, newStatus model.PostStatus) bool {
	return old.Status != model.PostStatusPublished &&
		newStatus == model.PostStatusPublished &&
		old.PublishedAt == nil
}
