package model

import "time"

// MemberRole は会員の権限を表す。
type MemberRole string

const (
	// RoleUser は一般会員。
	RoleUser MemberRole = "USER"
	// RoleAdmin は受取申請の審査権限を持つ管理者。
	RoleAdmin MemberRole = "ADMIN"
)

// Valid は定義済みの権限かどうかを返す。
func (r MemberRole) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Member は拾得者・申請者・審査者を兼ねる会員を表す。
type Member struct {
	ID        string
	Name      string
	Role      MemberRole
	Points    int
	CreatedAt time.Time
}

// Category は拾得物のカテゴリ。
type Category struct {
	ID   int64
	Name string
}

// Place は拾得場所。
type Place struct {
	ID            int64
	Name          string
	Address       string
	DetailAddress string
}

// PointEvent は拾得物登録に対するポイント付与イベント。
// 拾得物IDごとに高々1件のみ記録される。
type PointEvent struct {
	ObjectID  string
	MemberID  string
	Amount    int
	CreatedAt time.Time
}
