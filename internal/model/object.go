// Package model はドメインモデルを定義する。
package model

import "time"

// ObjectStatus は拾得物の保管状態を表す。
type ObjectStatus string

const (
	// ObjectStatusStored はロッカーに保管中で申請を受け付けられる状態。
	ObjectStatusStored ObjectStatus = "STORED"
	// ObjectStatusClaimPending は受取申請の審査中で、ロック期限まで他の申請を受け付けない状態。
	ObjectStatusClaimPending ObjectStatus = "CLAIM_PENDING"
	// ObjectStatusClaimApproved は受取申請が承認され、申請者の受取を待っている状態。
	ObjectStatusClaimApproved ObjectStatus = "CLAIM_APPROVED"
	// ObjectStatusCollected は申請者が受け取り済みの終端状態。
	ObjectStatusCollected ObjectStatus = "COLLECTED"
)

// Valid は定義済みのステータスかどうかを返す。
func (s ObjectStatus) Valid() bool {
	switch s {
	case ObjectStatusStored, ObjectStatusClaimPending, ObjectStatusClaimApproved, ObjectStatusCollected:
		return true
	}
	return false
}

// Object はロッカーに保管された拾得物を表す。
// LockExpiry は Status が CLAIM_PENDING の場合に限り非nilとなる。
type Object struct {
	ID           string
	Name         string
	CategoryID   int64
	PlaceID      int64
	Description  string
	FoundDate    time.Time // 日付のみ（UTC 00:00）
	ImageRef     string
	LockerNumber int
	Status       ObjectStatus
	LockExpiry   *time.Time
	FinderID     string // 匿名登録の場合は空
	IsRetrieved  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LockExpired はロック期限が now の時点で経過しているかを返す。
// ロックが設定されていない場合はfalseを返す。
func (o *Object) LockExpired(now time.Time) bool {
	return o.LockExpiry != nil && !now.Before(*o.LockExpiry)
}

// EffectivelyAvailable は公開向けの「受付可能」判定を返す。
// STORED、またはロック期限切れの CLAIM_PENDING の場合にtrueとなる。
func (o *Object) EffectivelyAvailable(now time.Time) bool {
	switch o.Status {
	case ObjectStatusStored:
		return true
	case ObjectStatusClaimPending:
		return o.LockExpired(now)
	}
	return false
}

// EffectiveStatus は期限切れロックを STORED とみなした表示用ステータスを返す。
// 保存されている行自体は書き換えない。
func (o *Object) EffectiveStatus(now time.Time) ObjectStatus {
	if o.Status == ObjectStatusClaimPending && o.LockExpired(now) {
		return ObjectStatusStored
	}
	return o.Status
}

// ObjectDetail は拾得物とカテゴリ名、拾得場所を結合した詳細表示用の構造体。
type ObjectDetail struct {
	Object
	CategoryName       string
	PlaceName          string
	PlaceAddress       string
	PlaceDetailAddress string
}
