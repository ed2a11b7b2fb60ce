// Package registry は拾得物の登録と公開向けの参照を提供する。
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/lockerclaim/internal/database"
	"github.com/hitoshi/lockerclaim/internal/model"
	"github.com/hitoshi/lockerclaim/internal/points"
	"github.com/hitoshi/lockerclaim/internal/repository"
	"github.com/hitoshi/lockerclaim/internal/security"
)

// 詳細表示のロックメッセージ
const (
	msgAlreadyClaimed = "This item has already been claimed by its owner."
	msgLockedFormat   = "Another member has a pending claim on this item (about %d hours until the lock is released)."
)

const defaultLockerNumber = 1

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// RegisterInput は拾得物登録の入力。
type RegisterInput struct {
	Name         string
	CategoryID   int64
	PlaceID      int64
	Description  string
	FoundDate    string // YYYY-MM-DD またはISO 8601形式。空の場合は当日
	LockerNumber *int   // nilの場合は1番
	ImageRef     string
	FinderID     string // 匿名登録の場合は空
}

// ListedObject は公開一覧の1行。
type ListedObject struct {
	*model.Object
	IsAvailable   bool
	DisplayStatus model.ObjectStatus
}

// Detail は拾得物の詳細表示。
type Detail struct {
	*model.ObjectDetail
	IsAvailable   bool
	DisplayStatus model.ObjectStatus
	LockMessage   string
}

// Service は拾得物登録サービス。
type Service struct {
	store     repository.Store
	crediter  points.Crediter
	sanitizer security.TextSanitizer
	location  *time.Location
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewService はServiceを生成する。crediterがnilの場合はポイントを付与しない。
func NewService(
	store repository.Store,
	crediter points.Crediter,
	sanitizer security.TextSanitizer,
	location *time.Location,
	logger *slog.Logger,
) *Service {
	if location == nil {
		location = time.UTC
	}
	return &Service{
		store:     store,
		crediter:  crediter,
		sanitizer: sanitizer,
		location:  location,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// SetClock は現在時刻の取得関数を差し替える。
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Register は拾得物を STORED として登録する。
// 拾得者が指定されている場合はコミット後にポイントを付与する。付与の失敗は登録を取り消さない。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.Object, error) {
	now := s.now()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, model.NewMissingFieldError("name")
	}
	if in.CategoryID <= 0 {
		return nil, model.NewInvalidReferenceError("category_id")
	}
	if in.PlaceID <= 0 {
		return nil, model.NewInvalidReferenceError("place_id")
	}
	foundDate, err := NormalizeFoundDate(in.FoundDate, now, s.location)
	if err != nil {
		return nil, err
	}
	locker := defaultLockerNumber
	if in.LockerNumber != nil {
		if *in.LockerNumber <= 0 {
			return nil, model.NewInvalidLockerNumberError(*in.LockerNumber)
		}
		locker = *in.LockerNumber
	}
	if in.FinderID != "" {
		if _, err := uuid.Parse(in.FinderID); err != nil {
			return nil, model.NewMemberNotFoundError(in.FinderID)
		}
	}

	obj := &model.Object{
		ID:           s.newID(),
		Name:         name,
		CategoryID:   in.CategoryID,
		PlaceID:      in.PlaceID,
		Description:  s.sanitizer.Sanitize(in.Description),
		FoundDate:    foundDate,
		ImageRef:     strings.TrimSpace(in.ImageRef),
		LockerNumber: locker,
		Status:       model.ObjectStatusStored,
		FinderID:     in.FinderID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.store.WithinTx(ctx, func(tx repository.Repos) error {
		category, err := tx.References.FindCategory(ctx, obj.CategoryID)
		if err != nil {
			return err
		}
		if category == nil {
			return model.NewCategoryNotFoundError(obj.CategoryID)
		}
		place, err := tx.References.FindPlace(ctx, obj.PlaceID)
		if err != nil {
			return err
		}
		if place == nil {
			return model.NewPlaceNotFoundError(obj.PlaceID)
		}
		if obj.FinderID != "" {
			finder, err := tx.Members.FindByID(ctx, obj.FinderID)
			if err != nil {
				return err
			}
			if finder == nil {
				return model.NewMemberNotFoundError(obj.FinderID)
			}
		}
		return tx.Objects.Create(ctx, obj)
	})
	if err != nil {
		return nil, s.toAPIError("register object", err)
	}

	s.logger.Info("object registered",
		slog.String("object_id", obj.ID),
		slog.Int("locker_number", obj.LockerNumber),
		slog.Bool("anonymous", obj.FinderID == ""),
	)

	if obj.FinderID != "" && s.crediter != nil {
		if _, err := s.crediter.CreditFinder(ctx, obj.ID, obj.FinderID); err != nil {
			s.logger.Error("finder reward failed",
				slog.String("object_id", obj.ID),
				slog.String("finder_id", obj.FinderID),
				slog.String("error", err.Error()),
			)
		}
	}

	return obj, nil
}

// ListAvailable は STORED と CLAIM_PENDING の拾得物を登録日時の新しい順で返す。
// 期限切れのロックは受付可能として扱う。
func (s *Service) ListAvailable(ctx context.Context) ([]ListedObject, error) {
	objs, err := s.store.Repos().Objects.ListPublic(ctx)
	if err != nil {
		return nil, s.toAPIError("list objects", err)
	}

	now := s.now()
	out := make([]ListedObject, len(objs))
	for i, obj := range objs {
		out[i] = ListedObject{
			Object:        obj,
			IsAvailable:   obj.EffectivelyAvailable(now),
			DisplayStatus: obj.EffectiveStatus(now),
		}
	}
	return out, nil
}

// Detail はカテゴリ名と拾得場所を含む拾得物の詳細を返す。
func (s *Service) Detail(ctx context.Context, id string) (*Detail, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewObjectNotFoundError(id)
	}
	detail, err := s.store.Repos().Objects.FindDetail(ctx, id)
	if err != nil {
		return nil, s.toAPIError("object detail", err)
	}
	if detail == nil {
		return nil, model.NewObjectNotFoundError(id)
	}

	now := s.now()
	out := &Detail{
		ObjectDetail:  detail,
		IsAvailable:   detail.EffectivelyAvailable(now),
		DisplayStatus: detail.EffectiveStatus(now),
	}
	switch {
	case detail.Status == model.ObjectStatusClaimApproved || detail.Status == model.ObjectStatusCollected:
		out.LockMessage = msgAlreadyClaimed
	case detail.Status == model.ObjectStatusClaimPending && !detail.LockExpired(now):
		out.LockMessage = fmt.Sprintf(msgLockedFormat, remainingHours(*detail.LockExpiry, now))
	}
	return out, nil
}

// toAPIError はAPIError以外のエラーをログに記録し、STORE_UNAVAILABLE に変換する。
func (s *Service) toAPIError(op string, err error) error {
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

// NormalizeFoundDate は拾得日を検証し、UTC 00:00 の日付に正規化する。
// 空、"undefined"、"null" は loc における当日とみなす。ISO 8601形式の場合は日付部分のみを使う。
func NormalizeFoundDate(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "undefined", "null":
		y, m, d := now.In(loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}

	datePart, _, _ := strings.Cut(s, "T")
	if !datePattern.MatchString(datePart) {
		return time.Time{}, model.NewInvalidFoundDateError(raw)
	}
	t, err := time.Parse("2006-01-02", datePart)
	if err != nil {
		return time.Time{}, model.NewInvalidFoundDateError(raw)
	}
	return t, nil
}

// remainingHours はロック解除までの残り時間を切り上げた時間数で返す。
func remainingHours(expiry, now time.Time) int {
	return int(math.Ceil(expiry.Sub(now).Hours()))
}

// ListCategories はカテゴリ一覧を返す。
func (s *Service) ListCategories(ctx context.Context) ([]model.Category, error) {
	categories, err := s.store.Repos().References.ListCategories(ctx)
	if err != nil {
		return nil, s.toAPIError("list categories", err)
	}
	return categories, nil
}

// ListPlaces は拾得場所一覧を返す。
func (s *Service) ListPlaces(ctx context.Context) ([]model.Place, error) {
	places, err := s.store.Repos().References.ListPlaces(ctx)
	if err != nil {
		return nil, s.toAPIError("list places", err)
	}
	return places, nil
}
