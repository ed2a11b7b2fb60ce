package model

import "time"

// ClaimStatus は受取申請の状態を表す。
type ClaimStatus string

const (
	// ClaimStatusPending は審査待ちの初期状態。
	ClaimStatusPending ClaimStatus = "PENDING"
	// ClaimStatusApproved は承認済みで受取待ちの状態。
	ClaimStatusApproved ClaimStatus = "APPROVED"
	// ClaimStatusRejected は却下された終端状態。
	ClaimStatusRejected ClaimStatus = "REJECTED"
	// ClaimStatusCollected は受取完了の終端状態。
	ClaimStatusCollected ClaimStatus = "COLLECTED"
)

// Active は拾得物1件につき同時に1件しか存在できない状態（PENDING/APPROVED）かを返す。
func (s ClaimStatus) Active() bool {
	return s == ClaimStatusPending || s == ClaimStatusApproved
}

// 申請の終了理由
const (
	ResolutionRejectedByReviewer = "rejected_by_reviewer"
	ResolutionSupersededByExpiry = "superseded_after_expiry"
	ResolutionExpired            = "expired"
)

// Claim は申請者による拾得物の受取申請を表す。
type Claim struct {
	ID               string
	ObjectID         string
	ClaimantID       string
	Evidence         string // 本人確認のための説明文
	DetailAddress    string // 紛失したと思われる場所の詳細
	EvidenceImageRef string
	Status           ClaimStatus
	ResolutionReason string
	ReviewedBy       string
	RequestedAt      time.Time
	ResolvedAt       *time.Time
	UpdatedAt        time.Time
}

// ClaimForReview は審査画面向けに申請者名と拾得物情報を結合した構造体。
type ClaimForReview struct {
	Claim
	ClaimantName string
	ObjectName   string
	LockerNumber int
	ObjectStatus ObjectStatus
}

// ApprovedClaim は受取端末向けに承認済み申請と拾得物の現在状態を結合した構造体。
type ApprovedClaim struct {
	Claim
	ObjectName   string
	ImageRef     string
	LockerNumber int
	ObjectStatus ObjectStatus
}
