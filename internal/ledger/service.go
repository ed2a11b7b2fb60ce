// Package ledger は受取申請の審査一覧と受取待ち一覧を提供する。
// 申請の状態はlifecycleパッケージだけが書き換え、このパッケージは読み取りのみを行う。
package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hitoshi/lockerclaim/internal/database"
	"github.com/hitoshi/lockerclaim/internal/model"
	"github.com/hitoshi/lockerclaim/internal/repository"
)

// Service は受取申請の参照サービス。
type Service struct {
	claims repository.ClaimRepository
	logger *slog.Logger
}

// NewService はServiceを生成する。
func NewService(claims repository.ClaimRepository, logger *slog.Logger) *Service {
	return &Service{claims: claims, logger: logger}
}

// ListPendingForReview は審査待ちの申請を申請日時の古い順（先着順）で返す。
func (s *Service) ListPendingForReview(ctx context.Context) ([]model.ClaimForReview, error) {
	rows, err := s.claims.ListPendingForReview(ctx)
	if err != nil {
		return nil, s.storeFailure("list pending claims", err)
	}
	if rows == nil {
		rows = []model.ClaimForReview{}
	}
	return rows, nil
}

// ListApprovedFor は申請者の承認済み・受取待ちの申請を申請日時の新しい順で返す。
// 拾得物が既に別の状態に戻されている申請は含まない。
func (s *Service) ListApprovedFor(ctx context.Context, claimantID string) ([]model.ApprovedClaim, error) {
	if claimantID == "" {
		return nil, model.NewUnauthorizedError()
	}
	if _, err := uuid.Parse(claimantID); err != nil {
		return []model.ApprovedClaim{}, nil
	}

	rows, err := s.claims.ListApprovedFor(ctx, claimantID)
	if err != nil {
		return nil, s.storeFailure("list approved claims", err)
	}
	if rows == nil {
		rows = []model.ApprovedClaim{}
	}
	return rows, nil
}

func (s *Service) storeFailure(op string, err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	s.logger.Error("store operation failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return database.ToAPIError(err)
}
