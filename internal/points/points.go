// Package points は拾得者へのポイント付与を提供する。
// 付与は拾得物IDをキーとした冪等なイベントとして記録され、同じ拾得物で二重に加算されることはない。
package points

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/lockerclaim/internal/metrics"
	"github.com/hitoshi/lockerclaim/internal/model"
	"github.com/hitoshi/lockerclaim/internal/repository"
)

// Crediter は拾得者へのポイント付与インターフェース。
type Crediter interface {
	// CreditFinder は拾得物の登録者にポイントを付与する。
	// 既に付与済みの拾得物の場合は何もせずfalseを返す。
	CreditFinder(ctx context.Context, objectID, finderID string) (bool, error)
}

// Service はポイント台帳サービス。
type Service struct {
	store    repository.Store
	amount   int
	recorder metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(store repository.Store, amount int, recorder metrics.Recorder, logger *slog.Logger) *Service {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		store:    store,
		amount:   amount,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// CreditFinder はイベント記録と会員ポイント加算を1つのトランザクションで行う。
func (s *Service) CreditFinder(ctx context.Context, objectID, finderID string) (bool, error) {
	if s.amount <= 0 || finderID == "" {
		return false, nil
	}

	var credited bool
	err := s.store.WithinTx(ctx, func(tx repository.Repos) error {
		inserted, err := tx.PointEvents.Insert(ctx, &model.PointEvent{
			ObjectID:  objectID,
			MemberID:  finderID,
			Amount:    s.amount,
			CreatedAt: s.now(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		if err := tx.Members.AddPoints(ctx, finderID, s.amount); err != nil {
			return err
		}
		credited = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("ポイント付与に失敗しました: %w", err)
	}

	if credited {
		s.recorder.RecordPointsCredited(s.amount)
		s.logger.Info("finder points credited",
			slog.String("object_id", objectID),
			slog.String("member_id", finderID),
			slog.Int("amount", s.amount),
		)
	}
	return credited, nil
}

var _ Crediter = (*Service)(nil)
