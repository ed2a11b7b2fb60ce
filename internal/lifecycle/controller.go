// Package lifecycle は拾得物と受取申請の状態遷移を提供する。
// 拾得物の status/lock_expiry と申請の status を組で書き換えるのはこのパッケージだけであり、
// すべての遷移は拾得物の行ロックを取得してから状態を検証し、1つのトランザクションで書き込む。
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/lockerclaim/internal/auth"
	"github.com/hitoshi/lockerclaim/internal/database"
	"github.com/hitoshi/lockerclaim/internal/metrics"
	"github.com/hitoshi/lockerclaim/internal/model"
	"github.com/hitoshi/lockerclaim/internal/notify"
	"github.com/hitoshi/lockerclaim/internal/repository"
	"github.com/hitoshi/lockerclaim/internal/security"
)

// 操作名（メトリクスとログのラベル）
const (
	opSubmitClaim   = "submit_claim"
	opApproveClaim  = "approve_claim"
	opRejectClaim   = "reject_claim"
	opConfirmPickup = "confirm_pickup"
	opExpireLocks   = "expire_locks"
)

// Action は審査アクション。
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
)

// ParseAction は審査アクションを解析する。大文字小文字と前後の空白は無視する。
func ParseAction(raw string) (Action, error) {
	switch Action(strings.ToUpper(strings.TrimSpace(raw))) {
	case ActionApprove:
		return ActionApprove, nil
	case ActionReject:
		return ActionReject, nil
	}
	return "", model.NewInvalidActionError(raw)
}

// Config は状態遷移の設定。
type Config struct {
	// LockDuration は申請受付時に拾得物へ設定するロック期間。
	LockDuration time.Duration
	// AutoRejectStaleClaims がtrueの場合、期限切れロックを引き継ぐ申請の受付時に
	// 残っている PENDING の申請を superseded_after_expiry として却下する。
	AutoRejectStaleClaims bool
}

// DefaultConfig はデフォルト設定（ロック48時間、期限切れ申請の自動却下あり）を返す。
func DefaultConfig() Config {
	return Config{
		LockDuration:          48 * time.Hour,
		AutoRejectStaleClaims: true,
	}
}

// SubmitClaimInput は受取申請の入力。
type SubmitClaimInput struct {
	ObjectID         string
	ClaimantID       string
	Evidence         string
	DetailAddress    string
	EvidenceImageRef string
}

// Controller は拾得物・受取申請のライフサイクルを制御する。
type Controller struct {
	store     repository.Store
	config    Config
	sanitizer security.TextSanitizer
	publisher notify.Publisher
	recorder  metrics.Recorder
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewController はControllerを生成する。
func NewController(
	store repository.Store,
	config Config,
	sanitizer security.TextSanitizer,
	publisher notify.Publisher,
	recorder metrics.Recorder,
	logger *slog.Logger,
) *Controller {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if config.LockDuration <= 0 {
		config.LockDuration = DefaultConfig().LockDuration
	}
	return &Controller{
		store:     store,
		config:    config,
		sanitizer: sanitizer,
		publisher: publisher,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// SetClock は現在時刻の取得関数を差し替える。
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// SubmitClaim は受取申請を受け付ける（T1）。
// 拾得物が STORED、またはロック期限切れの CLAIM_PENDING の場合に申請を作成し、
// 拾得物を CLAIM_PENDING にしてロック期限を設定する。
func (c *Controller) SubmitClaim(ctx context.Context, in SubmitClaimInput) (*model.Claim, error) {
	if in.ClaimantID == "" {
		return nil, model.NewUnauthorizedError()
	}
	if !validID(in.ObjectID) {
		return nil, model.NewObjectNotFoundError(in.ObjectID)
	}
	if !validID(in.ClaimantID) {
		return nil, model.NewMemberNotFoundError(in.ClaimantID)
	}

	claim := &model.Claim{
		ID:               c.newID(),
		ObjectID:         in.ObjectID,
		ClaimantID:       in.ClaimantID,
		Evidence:         c.sanitizer.Sanitize(in.Evidence),
		DetailAddress:    c.sanitizer.Sanitize(in.DetailAddress),
		EvidenceImageRef: strings.TrimSpace(in.EvidenceImageRef),
		Status:           model.ClaimStatusPending,
	}

	var superseded []string
	var lockExpiry time.Time
	err := c.run(ctx, opSubmitClaim, func(tx repository.Repos) error {
		now := c.now()

		obj, err := tx.Objects.FindByID(ctx, in.ObjectID, true)
		if err != nil {
			return err
		}
		if obj == nil {
			return model.NewObjectNotFoundError(in.ObjectID)
		}
		if err := checkClaimable(obj, now); err != nil {
			return err
		}

		member, err := tx.Members.FindByID(ctx, in.ClaimantID)
		if err != nil {
			return err
		}
		if member == nil {
			return model.NewMemberNotFoundError(in.ClaimantID)
		}

		active, err := tx.Claims.ListActiveByObject(ctx, obj.ID, true)
		if err != nil {
			return err
		}
		for _, stale := range active {
			if stale.Status != model.ClaimStatusPending {
				return model.NewObjectNotClaimableError(obj.Status)
			}
			if !c.config.AutoRejectStaleClaims {
				continue
			}
			resolveClaim(stale, model.ClaimStatusRejected, model.ResolutionSupersededByExpiry, "", now)
			if err := tx.Claims.ApplyTransition(ctx, stale); err != nil {
				return err
			}
			superseded = append(superseded, stale.ID)
		}

		claim.RequestedAt = now
		claim.UpdatedAt = now
		if err := tx.Claims.Create(ctx, claim); err != nil {
			return err
		}

		applyLock(obj, now, c.config.LockDuration)
		lockExpiry = *obj.LockExpiry
		return tx.Objects.ApplyTransition(ctx, obj)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("claim submitted",
		slog.String("claim_id", claim.ID),
		slog.String("object_id", claim.ObjectID),
		slog.String("claimant_id", claim.ClaimantID),
		slog.Time("lock_expiry", lockExpiry),
	)
	for _, id := range superseded {
		c.logger.Info("stale claim rejected on supersession",
			slog.String("claim_id", id),
			slog.String("object_id", claim.ObjectID),
			slog.String("superseded_by", claim.ID),
		)
	}
	return claim, nil
}

// ProcessClaim は審査アクションに応じて ApproveClaim または RejectClaim を実行する。
func (c *Controller) ProcessClaim(ctx context.Context, claimID, action string, reviewer auth.Identity) (*model.Claim, error) {
	if !reviewer.IsAdmin() {
		return nil, model.NewAdminRequiredError()
	}
	parsed, err := ParseAction(action)
	if err != nil {
		return nil, err
	}
	if parsed == ActionApprove {
		return c.ApproveClaim(ctx, claimID, reviewer)
	}
	return c.RejectClaim(ctx, claimID, reviewer)
}

// ApproveClaim は審査待ちの申請を承認する（T2）。
// 申請を APPROVED、拾得物を CLAIM_APPROVED にし、ロック期限を解除する。
// 申請は拾得物のロックを保持している必要がある。
func (c *Controller) ApproveClaim(ctx context.Context, claimID string, reviewer auth.Identity) (*model.Claim, error) {
	if !reviewer.IsAdmin() {
		return nil, model.NewAdminRequiredError()
	}
	pre, err := c.findClaim(ctx, opApproveClaim, claimID)
	if err != nil {
		return nil, err
	}

	var claim *model.Claim
	var obj *model.Object
	err = c.run(ctx, opApproveClaim, func(tx repository.Repos) error {
		now := c.now()

		var active []*model.Claim
		var err error
		obj, claim, active, err = lockPair(ctx, tx, pre)
		if err != nil {
			return err
		}
		if claim.Status != model.ClaimStatusPending {
			return model.NewClaimNotPendingError(claim.Status)
		}
		switch obj.Status {
		case model.ObjectStatusClaimPending:
		case model.ObjectStatusStored:
			// ロック保持者の却下で解放済み。古い申請は PENDING のまま残るが承認できない。
			return model.NewClaimSupersededError()
		default:
			return model.NewObjectNotClaimableError(obj.Status)
		}
		if holder := lockHolder(active); holder == nil || holder.ID != claim.ID {
			return model.NewClaimSupersededError()
		}

		resolveClaim(claim, model.ClaimStatusApproved, "", reviewer.MemberID, now)
		if err := tx.Claims.ApplyTransition(ctx, claim); err != nil {
			return err
		}
		applyApproved(obj, now)
		return tx.Objects.ApplyTransition(ctx, obj)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("claim approved",
		slog.String("claim_id", claim.ID),
		slog.String("object_id", obj.ID),
		slog.String("reviewer_id", reviewer.MemberID),
	)
	c.signal(ctx, notify.EventRetrievalApproved, obj, claim)
	return claim, nil
}

// RejectClaim は審査待ちの申請を却下する（T3）。
// 却下した申請がロックを保持していれば、拾得物を STORED に戻しロックを解除する。
// より新しい申請がロックを保持している場合（期限切れ後に置き換えられた古い申請）は拾得物を変更しない。
func (c *Controller) RejectClaim(ctx context.Context, claimID string, reviewer auth.Identity) (*model.Claim, error) {
	if !reviewer.IsAdmin() {
		return nil, model.NewAdminRequiredError()
	}
	pre, err := c.findClaim(ctx, opRejectClaim, claimID)
	if err != nil {
		return nil, err
	}

	var claim *model.Claim
	var released bool
	err = c.run(ctx, opRejectClaim, func(tx repository.Repos) error {
		now := c.now()

		obj, locked, active, err := lockPair(ctx, tx, pre)
		if err != nil {
			return err
		}
		claim = locked
		if claim.Status != model.ClaimStatusPending {
			return model.NewClaimNotPendingError(claim.Status)
		}

		resolveClaim(claim, model.ClaimStatusRejected, model.ResolutionRejectedByReviewer, reviewer.MemberID, now)
		if err := tx.Claims.ApplyTransition(ctx, claim); err != nil {
			return err
		}

		// ロックを保持しているのは最も新しい有効な申請。それより古い申請の却下では解放しない。
		if obj.Status != model.ObjectStatusClaimPending {
			return nil
		}
		if holder := lockHolder(active); holder != nil && holder.ID != claim.ID {
			return nil
		}
		applyRelease(obj, now)
		released = true
		return tx.Objects.ApplyTransition(ctx, obj)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("claim rejected",
		slog.String("claim_id", claim.ID),
		slog.String("object_id", claim.ObjectID),
		slog.String("reviewer_id", reviewer.MemberID),
		slog.Bool("object_released", released),
	)
	return claim, nil
}

// ConfirmPickup は承認済みの申請の受取を確定する（T4）。
// 申請者本人のみ実行でき、申請と拾得物をともに終端状態にする。
func (c *Controller) ConfirmPickup(ctx context.Context, claimID string, claimant auth.Identity) (*model.Claim, error) {
	if claimant.MemberID == "" {
		return nil, model.NewUnauthorizedError()
	}
	pre, err := c.findClaim(ctx, opConfirmPickup, claimID)
	if err != nil {
		return nil, err
	}
	if pre.ClaimantID != claimant.MemberID {
		return nil, model.NewNotClaimOwnerError()
	}

	var claim *model.Claim
	var obj *model.Object
	err = c.run(ctx, opConfirmPickup, func(tx repository.Repos) error {
		now := c.now()

		var err error
		obj, claim, _, err = lockPair(ctx, tx, pre)
		if err != nil {
			return err
		}
		if claim.Status != model.ClaimStatusApproved {
			return model.NewClaimNotApprovedError(claim.Status)
		}
		if obj.Status != model.ObjectStatusClaimApproved {
			return model.NewObjectNotClaimableError(obj.Status)
		}

		resolveClaim(claim, model.ClaimStatusCollected, "", "", now)
		if err := tx.Claims.ApplyTransition(ctx, claim); err != nil {
			return err
		}
		applyCollected(obj, now)
		return tx.Objects.ApplyTransition(ctx, obj)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("pickup confirmed",
		slog.String("claim_id", claim.ID),
		slog.String("object_id", obj.ID),
		slog.Int("locker_number", obj.LockerNumber),
	)
	c.signal(ctx, notify.EventPickupConfirmed, obj, claim)
	return claim, nil
}

// ExpireStaleLocks はロック期限が切れた CLAIM_PENDING の拾得物を最大limit件 STORED に戻し、
// 残っている PENDING の申請を expired として却下する。解放した拾得物の件数を返す。
// 他のトランザクションがロック中の行は読み飛ばす。
func (c *Controller) ExpireStaleLocks(ctx context.Context, limit int) (int, error) {
	var released int
	err := c.run(ctx, opExpireLocks, func(tx repository.Repos) error {
		now := c.now()
		released = 0

		objs, err := tx.Objects.ListExpiredLocks(ctx, now, limit)
		if err != nil {
			return err
		}
		for _, obj := range objs {
			active, err := tx.Claims.ListActiveByObject(ctx, obj.ID, true)
			if err != nil {
				return err
			}
			for _, claim := range active {
				if claim.Status != model.ClaimStatusPending {
					continue
				}
				resolveClaim(claim, model.ClaimStatusRejected, model.ResolutionExpired, "", now)
				if err := tx.Claims.ApplyTransition(ctx, claim); err != nil {
					return err
				}
			}
			applyRelease(obj, now)
			if err := tx.Objects.ApplyTransition(ctx, obj); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	c.recorder.RecordExpiredLocks(released)
	return released, nil
}

// findClaim はロックを取らずに申請を読み、拾得物IDと申請者を確定する。
// 拾得物IDと申請者は作成後に変わらないため、ロック取得順序の決定に使ってよい。
func (c *Controller) findClaim(ctx context.Context, op, claimID string) (*model.Claim, error) {
	if !validID(claimID) {
		return nil, model.NewClaimNotFoundError(claimID)
	}
	claim, err := c.store.Repos().Claims.FindByID(ctx, claimID, false)
	if err != nil {
		return nil, c.storeFailure(op, err)
	}
	if claim == nil {
		return nil, model.NewClaimNotFoundError(claimID)
	}
	return claim, nil
}

// lockPair は拾得物、申請の順に行ロックを取得し、拾得物の有効な申請一覧とともに返す。
func lockPair(ctx context.Context, tx repository.Repos, pre *model.Claim) (*model.Object, *model.Claim, []*model.Claim, error) {
	obj, err := tx.Objects.FindByID(ctx, pre.ObjectID, true)
	if err != nil {
		return nil, nil, nil, err
	}
	if obj == nil {
		return nil, nil, nil, model.NewObjectNotFoundError(pre.ObjectID)
	}
	claim, err := tx.Claims.FindByID(ctx, pre.ID, true)
	if err != nil {
		return nil, nil, nil, err
	}
	if claim == nil {
		return nil, nil, nil, model.NewClaimNotFoundError(pre.ID)
	}
	active, err := tx.Claims.ListActiveByObject(ctx, obj.ID, true)
	if err != nil {
		return nil, nil, nil, err
	}
	return obj, claim, active, nil
}

// run はfnを1つのトランザクションで実行し、結果をメトリクスに記録する。
func (c *Controller) run(ctx context.Context, op string, fn func(tx repository.Repos) error) error {
	start := time.Now()
	err := c.store.WithinTx(ctx, fn)
	duration := time.Since(start)

	if err == nil {
		c.recorder.RecordTransition(op, metrics.OutcomeSuccess, duration)
		return nil
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		c.recorder.RecordTransition(op, metrics.OutcomeRejected, duration)
		c.logger.Warn("transition refused",
			slog.String("operation", op),
			slog.String("code", apiErr.Code),
		)
		return apiErr
	}

	c.recorder.RecordTransition(op, metrics.OutcomeUnavailable, duration)
	return c.storeFailure(op, err)
}

// storeFailure はストアのエラーをログに記録し、STORE_UNAVAILABLE に変換する。
func (c *Controller) storeFailure(op string, err error) error {
	level := slog.LevelError
	if database.IsUnavailable(err) {
		level = slog.LevelWarn
	}
	c.logger.Log(context.Background(), level, "transition rolled back",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return database.ToAPIError(err)
}

// signal はコミット後にロッカー通知を発行する。
func (c *Controller) signal(ctx context.Context, event notify.Event, obj *model.Object, claim *model.Claim) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(ctx, notify.Signal{
		ObjectID:     obj.ID,
		ClaimID:      claim.ID,
		LockerNumber: obj.LockerNumber,
		Event:        event,
		OccurredAt:   c.now(),
	})
}

// validID はUUID形式のIDかを判定する。
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
