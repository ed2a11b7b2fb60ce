package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore はPostgreSQLを使用したStore実装。
// トランザクションはREAD COMMITTEDで開始し、行ロック（FOR UPDATE）で遷移を直列化する。
type PostgresStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewPostgresStore はPostgresStoreを生成する。
// lockTimeoutが正の場合、各トランザクションで SET LOCAL lock_timeout を設定し、
// 行ロック待ちがその時間を超えるとエラーで中断する。
func NewPostgresStore(db *sql.DB, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

// Repos はトランザクション外の読み取り・単発書き込み用のリポジトリを返す。
func (s *PostgresStore) Repos() Repos {
	return newPostgresRepos(s.db)
}

// WithinTx はfnを1つのトランザクション内で実行する。
// fnがエラーを返した場合、またはコミットに失敗した場合は変更を一切残さない。
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Repos) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if s.lockTimeout > 0 {
		// SET LOCAL はプレースホルダを受け付けない
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ロック待ちタイムアウトの設定に失敗しました: %w", err)
		}
	}

	if err := fn(newPostgresRepos(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

func newPostgresRepos(db DBTX) Repos {
	return Repos{
		Objects:     NewPostgresObjectRepo(db),
		Claims:      NewPostgresClaimRepo(db),
		Members:     NewPostgresMemberRepo(db),
		References:  NewPostgresReferenceRepo(db),
		PointEvents: NewPostgresPointEventRepo(db),
	}
}

var (
	_ Store                = (*PostgresStore)(nil)
	_ ObjectRepository     = (*PostgresObjectRepo)(nil)
	_ ClaimRepository      = (*PostgresClaimRepo)(nil)
	_ MemberRepository     = (*PostgresMemberRepo)(nil)
	_ ReferenceRepository  = (*PostgresReferenceRepo)(nil)
	_ PointEventRepository = (*PostgresPointEventRepo)(nil)
)
