package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/lockerclaim/internal/model"
)

const claimColumns = `c.id, c.object_id, c.claimant_id, c.evidence, c.detail_address, c.evidence_image_ref,
		c.status, c.resolution_reason, c.reviewed_by, c.requested_at, c.resolved_at, c.updated_at`

// PostgresClaimRepo はPostgreSQLを使用した受取申請リポジトリ。
type PostgresClaimRepo struct {
	db DBTX
}

// NewPostgresClaimRepo はPostgresClaimRepoを生成する。
func NewPostgresClaimRepo(db DBTX) *PostgresClaimRepo {
	return &PostgresClaimRepo{db: db}
}

func scanClaim(s rowScanner, claim *model.Claim, extra ...interface{}) error {
	var reviewedBy sql.NullString
	var resolvedAt sql.NullTime

	dest := []interface{}{
		&claim.ID, &claim.ObjectID, &claim.ClaimantID, &claim.Evidence, &claim.DetailAddress,
		&claim.EvidenceImageRef, &claim.Status, &claim.ResolutionReason, &reviewedBy,
		&claim.RequestedAt, &resolvedAt, &claim.UpdatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return err
	}

	claim.ReviewedBy = nullStringValue(reviewedBy)
	claim.ResolvedAt = nullTimePtr(resolvedAt)
	return nil
}

// FindByID は指定IDの申請を取得する。見つからない場合はnilを返す。
func (r *PostgresClaimRepo) FindByID(ctx context.Context, id string, forUpdate bool) (*model.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims c WHERE c.id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	claim := &model.Claim{}
	err := scanClaim(r.db.QueryRowContext(ctx, query, id), claim)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("受取申請の取得に失敗しました: %w", err)
	}
	return claim, nil
}

// Create は申請を作成する。
func (r *PostgresClaimRepo) Create(ctx context.Context, claim *model.Claim) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO claims (id, object_id, claimant_id, evidence, detail_address, evidence_image_ref,
		                     status, resolution_reason, reviewed_by, requested_at, resolved_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		claim.ID, claim.ObjectID, claim.ClaimantID, claim.Evidence, claim.DetailAddress,
		claim.EvidenceImageRef, claim.Status, claim.ResolutionReason, nullString(claim.ReviewedBy),
		claim.RequestedAt, nullTime(claim.ResolvedAt), claim.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("受取申請の作成に失敗しました: %w", err)
	}
	return nil
}

// ListActiveByObject は拾得物に対する PENDING/APPROVED の申請を申請日時の古い順で返す。
func (r *PostgresClaimRepo) ListActiveByObject(ctx context.Context, objectID string, forUpdate bool) ([]*model.Claim, error) {
	query := `SELECT ` + claimColumns + `
		 FROM claims c
		 WHERE c.object_id = $1 AND c.status IN ('PENDING', 'APPROVED')
		 ORDER BY c.requested_at ASC, c.id`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := r.db.QueryContext(ctx, query, objectID)
	if err != nil {
		return nil, fmt.Errorf("有効な受取申請の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var claims []*model.Claim
	for rows.Next() {
		claim := &model.Claim{}
		if err := scanClaim(rows, claim); err != nil {
			return nil, fmt.Errorf("受取申請の読み取りに失敗しました: %w", err)
		}
		claims = append(claims, claim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("受取申請一覧の走査に失敗しました: %w", err)
	}
	return claims, nil
}

// ListPendingForReview は審査待ちの申請を申請日時の古い順（先着順）で返す。
func (r *PostgresClaimRepo) ListPendingForReview(ctx context.Context) ([]model.ClaimForReview, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+claimColumns+`, m.name, o.name, o.locker_number, o.status
		 FROM claims c
		 INNER JOIN members m ON c.claimant_id = m.id
		 INNER JOIN objects o ON c.object_id = o.id
		 WHERE c.status = 'PENDING'
		 ORDER BY c.requested_at ASC, c.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("審査待ち申請の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var results []model.ClaimForReview
	for rows.Next() {
		var row model.ClaimForReview
		if err := scanClaim(rows, &row.Claim, &row.ClaimantName, &row.ObjectName, &row.LockerNumber, &row.ObjectStatus); err != nil {
			return nil, fmt.Errorf("審査待ち申請の読み取りに失敗しました: %w", err)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("審査待ち申請の走査に失敗しました: %w", err)
	}
	return results, nil
}

// ListApprovedFor は申請者の承認済み申請を申請日時の新しい順で返す。
// 承認後に拾得物の状態が変わっている申請は含めない。
func (r *PostgresClaimRepo) ListApprovedFor(ctx context.Context, claimantID string) ([]model.ApprovedClaim, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+claimColumns+`, o.name, o.image_ref, o.locker_number, o.status
		 FROM claims c
		 INNER JOIN objects o ON c.object_id = o.id
		 WHERE c.claimant_id = $1
		   AND c.status = 'APPROVED'
		   AND o.status = 'CLAIM_APPROVED'
		 ORDER BY c.requested_at DESC, c.id`,
		claimantID,
	)
	if err != nil {
		return nil, fmt.Errorf("承認済み申請の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var results []model.ApprovedClaim
	for rows.Next() {
		var row model.ApprovedClaim
		if err := scanClaim(rows, &row.Claim, &row.ObjectName, &row.ImageRef, &row.LockerNumber, &row.ObjectStatus); err != nil {
			return nil, fmt.Errorf("承認済み申請の読み取りに失敗しました: %w", err)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("承認済み申請の走査に失敗しました: %w", err)
	}
	return results, nil
}

// ApplyTransition は申請のstatus、resolution_reason、reviewed_by、resolved_at、updated_atを書き込む。
func (r *PostgresClaimRepo) ApplyTransition(ctx context.Context, claim *model.Claim) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE claims SET status = $2, resolution_reason = $3, reviewed_by = $4,
		                   resolved_at = $5, updated_at = $6
		 WHERE id = $1`,
		claim.ID, claim.Status, claim.ResolutionReason, nullString(claim.ReviewedBy),
		nullTime(claim.ResolvedAt), claim.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("受取申請の状態更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("受取申請が見つかりません: %s", claim.ID)
	}
	return nil
}
