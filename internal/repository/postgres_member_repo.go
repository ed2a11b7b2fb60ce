package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/lockerclaim/internal/model"
)

// PostgresMemberRepo はPostgreSQLを使用した会員リポジトリ。
type PostgresMemberRepo struct {
	db DBTX
}

// NewPostgresMemberRepo はPostgresMemberRepoを生成する。
func NewPostgresMemberRepo(db DBTX) *PostgresMemberRepo {
	return &PostgresMemberRepo{db: db}
}

// FindByID は指定IDの会員を取得する。見つからない場合はnilを返す。
func (r *PostgresMemberRepo) FindByID(ctx context.Context, id string) (*model.Member, error) {
	member := &model.Member{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, role, points, created_at FROM members WHERE id = $1`,
		id,
	).Scan(&member.ID, &member.Name, &member.Role, &member.Points, &member.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("会員の取得に失敗しました: %w", err)
	}
	return member, nil
}

// Create は会員を作成する。
func (r *PostgresMemberRepo) Create(ctx context.Context, member *model.Member) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO members (id, name, role, points, created_at) VALUES ($1, $2, $3, $4, $5)`,
		member.ID, member.Name, member.Role, member.Points, member.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("会員の作成に失敗しました: %w", err)
	}
	return nil
}

// AddPoints は会員のポイントを加算する。
func (r *PostgresMemberRepo) AddPoints(ctx context.Context, memberID string, amount int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE members SET points = points + $2 WHERE id = $1`,
		memberID, amount,
	)
	if err != nil {
		return fmt.Errorf("ポイントの加算に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("会員が見つかりません: %s", memberID)
	}
	return nil
}

// PostgresPointEventRepo はPostgreSQLを使用したポイント付与イベントリポジトリ。
type PostgresPointEventRepo struct {
	db DBTX
}

// NewPostgresPointEventRepo はPostgresPointEventRepoを生成する。
func NewPostgresPointEventRepo(db DBTX) *PostgresPointEventRepo {
	return &PostgresPointEventRepo{db: db}
}

// Insert はポイント付与イベントを記録する。
// 同じ拾得物IDのイベントが既に存在する場合は何もせずfalseを返す。
func (r *PostgresPointEventRepo) Insert(ctx context.Context, event *model.PointEvent) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO point_events (object_id, member_id, amount, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (object_id) DO NOTHING`,
		event.ObjectID, event.MemberID, event.Amount, event.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("ポイント付与イベントの記録に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("記録結果の取得に失敗しました: %w", err)
	}
	return rowsAffected > 0, nil
}
