package lifecycle

import (
	"testing"
	"time"

	"github.com/hitoshi/lockerclaim/internal/model"
)

func TestCheckClaimable(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	tests := []struct {
		name     string
		obj      model.Object
		wantCode string
	}{
		{"stored", model.Object{Status: model.ObjectStatusStored}, ""},
		{"pending with live lock", model.Object{Status: model.ObjectStatusClaimPending, LockExpiry: &future}, model.ErrCodeObjectLocked},
		{"pending with expired lock", model.Object{Status: model.ObjectStatusClaimPending, LockExpiry: &past}, ""},
		{"pending expiring exactly now", model.Object{Status: model.ObjectStatusClaimPending, LockExpiry: &now}, ""},
		{"approved", model.Object{Status: model.ObjectStatusClaimApproved}, model.ErrCodeObjectNotClaimable},
		{"collected", model.Object{Status: model.ObjectStatusCollected}, model.ErrCodeObjectNotClaimable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkClaimable(&tt.obj, now)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("checkClaimable() error = %v", err)
				}
				return
			}
			assertCode(t, err, tt.wantCode)
		})
	}
}

func TestApplyHelpers_KeepLockExpiryInStep(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	obj := &model.Object{Status: model.ObjectStatusStored}

	applyLock(obj, now, 48*time.Hour)
	if obj.Status != model.ObjectStatusClaimPending || obj.LockExpiry == nil || !obj.LockExpiry.Equal(now.Add(48*time.Hour)) {
		t.Fatalf("after applyLock: %+v", obj)
	}

	applyRelease(obj, now)
	if obj.Status != model.ObjectStatusStored || obj.LockExpiry != nil {
		t.Fatalf("after applyRelease: %+v", obj)
	}

	applyLock(obj, now, time.Hour)
	applyApproved(obj, now)
	if obj.Status != model.ObjectStatusClaimApproved || obj.LockExpiry != nil {
		t.Fatalf("after applyApproved: %+v", obj)
	}

	applyCollected(obj, now)
	if obj.Status != model.ObjectStatusCollected || obj.LockExpiry != nil || !obj.IsRetrieved {
		t.Fatalf("after applyCollected: %+v", obj)
	}
}

func TestResolveClaim(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	approved := &model.Claim{Status: model.ClaimStatusPending}
	resolveClaim(approved, model.ClaimStatusApproved, "", "admin-1", now)
	if approved.ResolvedAt != nil || approved.ReviewedBy != "admin-1" {
		t.Errorf("approved = %+v, want no resolved_at and reviewer recorded", approved)
	}

	expired := &model.Claim{Status: model.ClaimStatusPending}
	resolveClaim(expired, model.ClaimStatusRejected, model.ResolutionExpired, "", now)
	if expired.ResolvedAt == nil || !expired.ResolvedAt.Equal(now) || expired.ReviewedBy != "" {
		t.Errorf("expired = %+v", expired)
	}
	if expired.ResolutionReason != model.ResolutionExpired {
		t.Errorf("ResolutionReason = %q", expired.ResolutionReason)
	}
}

func TestLockHolder(t *testing.T) {
	if lockHolder(nil) != nil {
		t.Error("lockHolder(nil) should be nil")
	}
	older := &model.Claim{ID: "a"}
	newer := &model.Claim{ID: "b"}
	if got := lockHolder([]*model.Claim{older, newer}); got != newer {
		t.Errorf("lockHolder() = %v, want newest claim", got)
	}
}
