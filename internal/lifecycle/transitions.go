package lifecycle

import (
	"time"

	"github.com/hitoshi/lockerclaim/internal/model"
)

// checkClaimable は拾得物が新しい申請を受け付けられるかを判定する。
// STORED、またはロック期限切れの CLAIM_PENDING の場合のみ受け付ける。
func checkClaimable(obj *model.Object, now time.Time) error {
	switch obj.Status {
	case model.ObjectStatusStored:
		return nil
	case model.ObjectStatusClaimPending:
		if obj.LockExpired(now) {
			return nil
		}
		return model.NewObjectLockedError()
	default:
		return model.NewObjectNotClaimableError(obj.Status)
	}
}

// applyLock は拾得物を審査中にし、ロック期限を設定する。
func applyLock(obj *model.Object, now time.Time, d time.Duration) {
	expiry := now.Add(d)
	obj.Status = model.ObjectStatusClaimPending
	obj.LockExpiry = &expiry
	obj.UpdatedAt = now
}

// applyRelease は拾得物を保管中に戻し、ロックを解除する。
func applyRelease(obj *model.Object, now time.Time) {
	obj.Status = model.ObjectStatusStored
	obj.LockExpiry = nil
	obj.UpdatedAt = now
}

// applyApproved は拾得物を承認済みにする。承認後はロック期限を使わないため解除する。
func applyApproved(obj *model.Object, now time.Time) {
	obj.Status = model.ObjectStatusClaimApproved
	obj.LockExpiry = nil
	obj.UpdatedAt = now
}

// applyCollected は拾得物を受取済みの終端状態にする。
func applyCollected(obj *model.Object, now time.Time) {
	obj.Status = model.ObjectStatusCollected
	obj.LockExpiry = nil
	obj.IsRetrieved = true
	obj.UpdatedAt = now
}

// resolveClaim は申請を終了状態または承認状態に遷移させる。
// reviewerIDが空の場合は審査者を記録しない。
func resolveClaim(claim *model.Claim, status model.ClaimStatus, reason, reviewerID string, now time.Time) {
	claim.Status = status
	claim.ResolutionReason = reason
	if reviewerID != "" {
		claim.ReviewedBy = reviewerID
	}
	claim.UpdatedAt = now
	if status != model.ClaimStatusApproved {
		resolved := now
		claim.ResolvedAt = &resolved
	}
}

// lockHolder は有効な申請のうち、拾得物のロックを保持している申請（最も新しいもの）を返す。
// activeは申請日時の古い順に並んでいること。
func lockHolder(active []*model.Claim) *model.Claim {
	if len(active) == 0 {
		return nil
	}
	return active[len(active)-1]
}
