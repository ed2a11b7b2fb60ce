package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/lockerclaim/internal/model"
)

const objectColumns = `id, name, category_id, place_id, description, found_date, image_ref,
		locker_number, status, lock_expiry, finder_id, is_retrieved, created_at, updated_at`

// PostgresObjectRepo はPostgreSQLを使用した拾得物リポジトリ。
type PostgresObjectRepo struct {
	db DBTX
}

// NewPostgresObjectRepo はPostgresObjectRepoを生成する。
// dbには*sql.DBまたは*sql.Txを指定する。
func NewPostgresObjectRepo(db DBTX) *PostgresObjectRepo {
	return &PostgresObjectRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsに共通するScanを表す。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanObject(s rowScanner, obj *model.Object, extra ...interface{}) error {
	var lockExpiry sql.NullTime
	var finderID sql.NullString

	dest := []interface{}{
		&obj.ID, &obj.Name, &obj.CategoryID, &obj.PlaceID, &obj.Description,
		&obj.FoundDate, &obj.ImageRef, &obj.LockerNumber, &obj.Status,
		&lockExpiry, &finderID, &obj.IsRetrieved, &obj.CreatedAt, &obj.UpdatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return err
	}

	obj.LockExpiry = nullTimePtr(lockExpiry)
	obj.FinderID = nullStringValue(finderID)
	return nil
}

// FindByID は指定IDの拾得物を取得する。見つからない場合はnilを返す。
func (r *PostgresObjectRepo) FindByID(ctx context.Context, id string, forUpdate bool) (*model.Object, error) {
	query := `SELECT ` + objectColumns + ` FROM objects WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	obj := &model.Object{}
	err := scanObject(r.db.QueryRowContext(ctx, query, id), obj)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("拾得物の取得に失敗しました: %w", err)
	}
	return obj, nil
}

// FindDetail はカテゴリ名・拾得場所を結合した拾得物詳細を取得する。見つからない場合はnilを返す。
func (r *PostgresObjectRepo) FindDetail(ctx context.Context, id string) (*model.ObjectDetail, error) {
	detail := &model.ObjectDetail{}
	err := scanObject(r.db.QueryRowContext(ctx,
		`SELECT o.id, o.name, o.category_id, o.place_id, o.description, o.found_date, o.image_ref,
		        o.locker_number, o.status, o.lock_expiry, o.finder_id, o.is_retrieved,
		        o.created_at, o.updated_at,
		        c.name, p.name, p.address, p.detail_address
		 FROM objects o
		 INNER JOIN categories c ON o.category_id = c.id
		 INNER JOIN places p ON o.place_id = p.id
		 WHERE o.id = $1`,
		id,
	), &detail.Object, &detail.CategoryName, &detail.PlaceName, &detail.PlaceAddress, &detail.PlaceDetailAddress)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("拾得物詳細の取得に失敗しました: %w", err)
	}
	return detail, nil
}

// Create は拾得物を作成する。
func (r *PostgresObjectRepo) Create(ctx context.Context, obj *model.Object) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO objects (id, name, category_id, place_id, description, found_date, image_ref,
		                      locker_number, status, lock_expiry, finder_id, is_retrieved,
		                      created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		obj.ID, obj.Name, obj.CategoryID, obj.PlaceID, obj.Description, obj.FoundDate, obj.ImageRef,
		obj.LockerNumber, obj.Status, nullTime(obj.LockExpiry), nullString(obj.FinderID), obj.IsRetrieved,
		obj.CreatedAt, obj.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("拾得物の作成に失敗しました: %w", err)
	}
	return nil
}

// ListPublic は公開一覧向けに STORED と CLAIM_PENDING の拾得物を登録日時の新しい順で返す。
func (r *PostgresObjectRepo) ListPublic(ctx context.Context) ([]*model.Object, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+objectColumns+`
		 FROM objects
		 WHERE status IN ('STORED', 'CLAIM_PENDING')
		 ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("拾得物一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectObjects(rows)
}

// ApplyTransition は拾得物のstatus、lock_expiry、is_retrieved、updated_atを書き込む。
func (r *PostgresObjectRepo) ApplyTransition(ctx context.Context, obj *model.Object) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE objects SET status = $2, lock_expiry = $3, is_retrieved = $4, updated_at = $5
		 WHERE id = $1`,
		obj.ID, obj.Status, nullTime(obj.LockExpiry), obj.IsRetrieved, obj.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("拾得物の状態更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("拾得物が見つかりません: %s", obj.ID)
	}
	return nil
}

// ListExpiredLocks はロック期限が now を過ぎた CLAIM_PENDING の拾得物を
// FOR UPDATE SKIP LOCKEDで排他的に最大limit件取得する。
// 他のトランザクションが処理中の行は読み飛ばす。
func (r *PostgresObjectRepo) ListExpiredLocks(ctx context.Context, now time.Time, limit int) ([]*model.Object, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+objectColumns+`
		 FROM objects
		 WHERE status = 'CLAIM_PENDING' AND lock_expiry <= $1
		 ORDER BY lock_expiry ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("期限切れロックの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectObjects(rows)
}

func collectObjects(rows *sql.Rows) ([]*model.Object, error) {
	var objects []*model.Object
	for rows.Next() {
		obj := &model.Object{}
		if err := scanObject(rows, obj); err != nil {
			return nil, fmt.Errorf("拾得物の読み取りに失敗しました: %w", err)
		}
		objects = append(objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("拾得物一覧の走査に失敗しました: %w", err)
	}
	return objects, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullTime はnilをNULLとして扱うsql.NullTimeに変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
