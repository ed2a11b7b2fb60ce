package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/lockerclaim/internal/model"
)

// PostgresReferenceRepo はPostgreSQLを使用したカテゴリ・拾得場所リポジトリ。
type PostgresReferenceRepo struct {
	db DBTX
}

// NewPostgresReferenceRepo はPostgresReferenceRepoを生成する。
func NewPostgresReferenceRepo(db DBTX) *PostgresReferenceRepo {
	return &PostgresReferenceRepo{db: db}
}

// FindCategory は指定IDのカテゴリを取得する。見つからない場合はnilを返す。
func (r *PostgresReferenceRepo) FindCategory(ctx context.Context, id int64) (*model.Category, error) {
	c := &model.Category{}
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM categories WHERE id = $1`, id).Scan(&c.ID, &c.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("カテゴリの取得に失敗しました: %w", err)
	}
	return c, nil
}

// FindPlace は指定IDの拾得場所を取得する。見つからない場合はnilを返す。
func (r *PostgresReferenceRepo) FindPlace(ctx context.Context, id int64) (*model.Place, error) {
	p := &model.Place{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, address, detail_address FROM places WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Address, &p.DetailAddress)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("拾得場所の取得に失敗しました: %w", err)
	}
	return p, nil
}

// ListCategories はカテゴリをID順で返す。
func (r *PostgresReferenceRepo) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var categories []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("カテゴリの読み取りに失敗しました: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// ListPlaces は拾得場所をID順で返す。
func (r *PostgresReferenceRepo) ListPlaces(ctx context.Context) ([]model.Place, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, address, detail_address FROM places ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("拾得場所一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var places []model.Place
	for rows.Next() {
		var p model.Place
		if err := rows.Scan(&p.ID, &p.Name, &p.Address, &p.DetailAddress); err != nil {
			return nil, fmt.Errorf("拾得場所の読み取りに失敗しました: %w", err)
		}
		places = append(places, p)
	}
	return places, rows.Err()
}
