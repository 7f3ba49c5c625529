package auth

import "github.com/hitoshi/inkpost/internal/model"

// Outcome はアクセスガードの判定結果を表す。
type Outcome int

const (
	// OutcomeUnauthenticated は有効なIdentityが解決できなかったことを示す。
	OutcomeUnauthenticated Outcome = iota
	// OutcomeForbidden はログイン済みだがリソースの所有者ではないことを示す。
	OutcomeForbidden
	// OutcomeAllowed はリソースの所有者であることを示す。
	OutcomeAllowed
)

// String はログ出力用の文字列表現を返す。
func (o Outcome) String() string {
	switch o {
	case OutcomeAllowed:
		return "allowed"
	case OutcomeForbidden:
		return "forbidden"
	default:
		return "unauthenticated"
	}
}

// Decision はアクセスガードの判定結果と拒否理由を保持する。
type Decision struct {
	Outcome Outcome
	Reason  string
}

// Allowed は操作が許可されたかどうかを返す。
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllowed
}

// Err は拒否された判定をAPIErrorに変換する。許可された場合はnilを返す。
func (d Decision) Err() error {
	switch d.Outcome {
	case OutcomeAllowed:
		return nil
	case OutcomeForbidden:
		return model.NewForbiddenError(d.Reason)
	default:
		return model.NewUnauthenticatedError()
	}
}

// AuthorizeMutation は記事の更新・削除を許可するかを判定する。
// identityがnil（未ログインまたはIdentity解決失敗）の場合はUnauthenticated、
// identity.IDが所有者IDと一致しない場合はForbiddenとなる。
func AuthorizeMutation(identity *model.Identity, resourceOwnerID string) Decision {
	if identity == nil || identity.ID == "" {
		return Decision{Outcome: OutcomeUnauthenticated, Reason: "ログインが必要です。"}
	}
	if identity.ID != resourceOwnerID {
		return Decision{Outcome: OutcomeForbidden, Reason: "この記事を変更する権限がありません。"}
	}
	return Decision{Outcome: OutcomeAllowed}
}

// RequireIdentity は新規作成など所有者を問わない操作の判定を行う。
// ログイン済みであれば誰でも許可する。
func RequireIdentity(identity *model.Identity) Decision {
	if identity == nil || identity.ID == "" {
		return Decision{Outcome: OutcomeUnauthenticated, Reason: "ログインが必要です。"}
	}
	return Decision{Outcome: OutcomeAllowed}
}
