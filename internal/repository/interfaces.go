// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/lockerclaim/internal/model"
)

// ObjectRepository は拾得物データの永続化インターフェース。
type ObjectRepository interface {
	// FindByID は指定IDの拾得物を取得する。見つからない場合はnilを返す。
	// forUpdateがtrueの場合はトランザクション終了まで保持される排他ロック（FOR UPDATE）を取得する。
	FindByID(ctx context.Context, id string, forUpdate bool) (*model.Object, error)

	// FindDetail はカテゴリ名・拾得場所を結合した拾得物詳細を取得する。見つからない場合はnilを返す。
	FindDetail(ctx context.Context, id string) (*model.ObjectDetail, error)

	// Create は拾得物を作成する。
	Create(ctx context.Context, obj *model.Object) error

	// ListPublic は公開一覧向けに STORED と CLAIM_PENDING の拾得物を登録日時の新しい順で返す。
	ListPublic(ctx context.Context) ([]*model.Object, error)

	// ApplyTransition は拾得物のstatus、lock_expiry、is_retrieved、updated_atを書き込む。
	// ライフサイクル制御のトランザクション内からのみ呼び出すこと。
	ApplyTransition(ctx context.Context, obj *model.Object) error

	// ListExpiredLocks はロック期限が now を過ぎた CLAIM_PENDING の拾得物を
	// FOR UPDATE SKIP LOCKEDで排他的に最大limit件取得する。
	ListExpiredLocks(ctx context.Context, now time.Time, limit int) ([]*model.Object, error)
}

// ClaimRepository は受取申請データの永続化インターフェース。
type ClaimRepository interface {
	// FindByID は指定IDの申請を取得する。見つからない場合はnilを返す。
	// forUpdateがtrueの場合は排他ロックを取得する。
	FindByID(ctx context.Context, id string, forUpdate bool) (*model.Claim, error)

	// Create は申請を作成する。
	Create(ctx context.Context, claim *model.Claim) error

	// ListActiveByObject は拾得物に対する PENDING/APPROVED の申請を申請日時の古い順で返す。
	// forUpdateがtrueの場合は返却した行の排他ロックを取得する。
	ListActiveByObject(ctx context.Context, objectID string, forUpdate bool) ([]*model.Claim, error)

	// ListPendingForReview は審査待ちの申請を申請日時の古い順（先着順）で返す。
	ListPendingForReview(ctx context.Context) ([]model.ClaimForReview, error)

	// ListApprovedFor は申請者の承認済み申請を申請日時の新しい順で返す。
	// 拾得物が CLAIM_APPROVED のままのものに限る。
	ListApprovedFor(ctx context.Context, claimantID string) ([]model.ApprovedClaim, error)

	// ApplyTransition は申請のstatus、resolution_reason、reviewed_by、resolved_at、updated_atを書き込む。
	// ライフサイクル制御のトランザクション内からのみ呼び出すこと。
	ApplyTransition(ctx context.Context, claim *model.Claim) error
}

// MemberRepository は会員データの永続化インターフェース。
type MemberRepository interface {
	// FindByID は指定IDの会員を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Member, error)

	// Create は会員を作成する。
	Create(ctx context.Context, member *model.Member) error

	// AddPoints は会員のポイントを加算する。
	AddPoints(ctx context.Context, memberID string, amount int) error
}

// ReferenceRepository はカテゴリ・拾得場所の参照データの読み取りインターフェース。
type ReferenceRepository interface {
	// FindCategory は指定IDのカテゴリを取得する。見つからない場合はnilを返す。
	FindCategory(ctx context.Context, id int64) (*model.Category, error)

	// FindPlace は指定IDの拾得場所を取得する。見つからない場合はnilを返す。
	FindPlace(ctx context.Context, id int64) (*model.Place, error)

	// ListCategories はカテゴリをID順で返す。
	ListCategories(ctx context.Context) ([]model.Category, error)

	// ListPlaces は拾得場所をID順で返す。
	ListPlaces(ctx context.Context) ([]model.Place, error)
}

// PointEventRepository はポイント付与イベントの永続化インターフェース。
type PointEventRepository interface {
	// Insert はポイント付与イベントを記録する。
	// 同じ拾得物IDのイベントが既に存在する場合は何もせずfalseを返す。
	Insert(ctx context.Context, event *model.PointEvent) (bool, error)
}

// Repos は同一の接続またはトランザクションにバインドされたリポジトリの組。
type Repos struct {
	Objects     ObjectRepository
	Claims      ClaimRepository
	Members     MemberRepository
	References  ReferenceRepository
	PointEvents PointEventRepository
}

// Store はリポジトリとトランザクション境界を提供するデータストア。
type Store interface {
	// Repos はトランザクション外の読み取り・単発書き込み用のリポジトリを返す。
	Repos() Repos

	// WithinTx はfnを1つのトランザクション内で実行する。
	// fnがエラーを返した場合はすべての変更をロールバックし、そのエラーを返す。
	WithinTx(ctx context.Context, fn func(tx Repos) error) error
}

// DBTX は*sql.DBと*sql.Txに共通するクエリ実行インターフェース。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
