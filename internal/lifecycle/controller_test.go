package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/lockerclaim/internal/auth"
	"github.com/hitoshi/lockerclaim/internal/metrics"
	"github.com/hitoshi/lockerclaim/internal/model"
	"github.com/hitoshi/lockerclaim/internal/notify"
	"github.com/hitoshi/lockerclaim/internal/repository"
	"github.com/hitoshi/lockerclaim/internal/security"
)

// --- テスト用の部品 ---

// fakeClock は並行に読まれても安全な手動時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// capturePublisher は発行されたロッカー通知を記録する。
type capturePublisher struct {
	mu      sync.Mutex
	signals []notify.Signal
}

func (p *capturePublisher) Publish(_ context.Context, s notify.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, s)
}

func (p *capturePublisher) events() []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []notify.Event
	for _, s := range p.signals {
		out = append(out, s.Event)
	}
	return out
}

var _ notify.Publisher = (*capturePublisher)(nil)

type fixture struct {
	store     *repository.MemoryStore
	ctrl      *Controller
	clock     *fakeClock
	publisher *capturePublisher
	admin     auth.Identity
	alice     auth.Identity
	bob       auth.Identity
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		store:     repository.NewMemoryStore(),
		clock:     &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		publisher: &capturePublisher{},
		admin:     auth.Identity{MemberID: uuid.NewString(), Role: model.RoleAdmin},
		alice:     auth.Identity{MemberID: uuid.NewString(), Role: model.RoleUser},
		bob:       auth.Identity{MemberID: uuid.NewString(), Role: model.RoleUser},
	}
	for name, id := range map[string]auth.Identity{"admin": f.admin, "alice": f.alice, "bob": f.bob} {
		if err := f.store.Repos().Members.Create(context.Background(), &model.Member{ID: id.MemberID, Name: name, Role: id.Role}); err != nil {
			t.Fatalf("会員の作成に失敗: %v", err)
		}
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	f.ctrl = NewController(f.store, cfg, security.NewTextSanitizer(), f.publisher, metrics.Nop{}, logger)
	f.ctrl.SetClock(f.clock.Now)
	return f
}

func (f *fixture) newObject(t *testing.T, locker int) string {
	t.Helper()
	now := f.clock.Now()
	obj := &model.Object{
		ID:           uuid.NewString(),
		Name:         "black umbrella",
		CategoryID:   5,
		PlaceID:      1,
		FoundDate:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		LockerNumber: locker,
		Status:       model.ObjectStatusStored,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := f.store.Repos().Objects.Create(context.Background(), obj); err != nil {
		t.Fatalf("拾得物の作成に失敗: %v", err)
	}
	return obj.ID
}

func (f *fixture) object(t *testing.T, id string) *model.Object {
	t.Helper()
	obj, err := f.store.Repos().Objects.FindByID(context.Background(), id, false)
	if err != nil || obj == nil {
		t.Fatalf("拾得物の取得に失敗: obj=%v err=%v", obj, err)
	}
	return obj
}

func (f *fixture) claim(t *testing.T, id string) *model.Claim {
	t.Helper()
	c, err := f.store.Repos().Claims.FindByID(context.Background(), id, false)
	if err != nil || c == nil {
		t.Fatalf("申請の取得に失敗: claim=%v err=%v", c, err)
	}
	return c
}

func (f *fixture) submit(t *testing.T, objectID string, claimant auth.Identity) *model.Claim {
	t.Helper()
	c, err := f.ctrl.SubmitClaim(context.Background(), SubmitClaimInput{
		ObjectID:   objectID,
		ClaimantID: claimant.MemberID,
		Evidence:   "It has my initials on the handle.",
	})
	if err != nil {
		t.Fatalf("SubmitClaim() error = %v", err)
	}
	return c
}

// assertInvariants は拾得物のロック期限とステータスの整合性、
// および有効な申請が高々1件であることを検証する。
func (f *fixture) assertInvariants(t *testing.T, objectID string) {
	t.Helper()
	obj := f.object(t, objectID)
	if (obj.LockExpiry != nil) != (obj.Status == model.ObjectStatusClaimPending) {
		t.Errorf("lock_expiry/status mismatch: status=%s lock_expiry=%v", obj.Status, obj.LockExpiry)
	}
	active, err := f.store.Repos().Claims.ListActiveByObject(context.Background(), objectID, false)
	if err != nil {
		t.Fatalf("ListActiveByObject: %v", err)
	}
	if len(active) > 1 {
		t.Errorf("active claims = %d, want at most 1", len(active))
	}
}

func assertKind(t *testing.T, err error, kind model.ErrorKind) {
	t.Helper()
	if !model.IsKind(err, kind) {
		t.Fatalf("error = %v, want kind %s", err, kind)
	}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != code {
		t.Fatalf("error = %v, want code %s", err, code)
	}
}

// --- T1 ---

func TestSubmitClaim_LocksStoredObject(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	objID := f.newObject(t, 3)

	claim := f.submit(t, objID, f.alice)

	if claim.Status != model.ClaimStatusPending {
		t.Errorf("claim status = %s, want PENDING", claim.Status)
	}
	obj := f.object(t, objID)
	if obj.Status != model.ObjectStatusClaimPending {
		t.Errorf("object status = %s, want CLAIM_PENDING", obj.Status)
	}
	want := f.clock.Now().Add(48 * time.Hour)
	if obj.LockExpiry == nil || !obj.LockExpiry.Equal(want) {
		t.Errorf("lock_expiry = %v, want %v", obj.LockExpiry, want)
	}
	f.assertInvariants(t, objID)
}

func TestSubmitClaim_SanitizesEvidence(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	objID := f.newObject(t, 1)

	claim, err := f.ctrl.SubmitClaim(context.Background(), SubmitClaimInput{
		ObjectID:      objID,
		ClaimantID:    f.alice.MemberID,
		Evidence:      "<script>alert(1)</script>blue sticker",
		DetailAddress: "  <b>library</b> 2F ",
	})
	if err != nil {
		t.Fatalf("SubmitClaim() error = %v", err)
	}
	if claim.Evidence != "blue sticker" {
		t.Errorf("Evidence = %q, want %q", claim.Evidence, "blue sticker")
	}
	if claim.DetailAddress != "library 2F" {
		t.Errorf("DetailAddress = %q, want %q", claim.DetailAddress, "library 2F")
	}
}

func TestSubmitClaim_ConflictWhileLocked(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	objID := f.newObject(t, 1)
	f.submit(t, objID, f.alice)

	f.clock.Advance(47 * time.Hour)
	_, err := f.ctrl.SubmitClaim(context.Background(), SubmitClaimInput{ObjectID: objID, ClaimantID: f.bob.MemberID})

	assertKind(t, err, model.KindConflict)
	assertCode(t, err, model.ErrCodeObjectLocked)
	f.assertInvariants(t, objID)
}

func TestSubmitClaim_NotFound(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	objID := f.newObject(t, 1)

	tests := []struct {
		name  string
		input SubmitClaimInput
		code  string
	}{
		{"malformed object id", SubmitClaimInput{ObjectID: "42", ClaimantID: f.alice.MemberID}, model.ErrCodeObjectNotFound},
		{"unknown object", SubmitClaimInput{ObjectID: uuid.NewString(), ClaimantID: f.alice.MemberID}, model.ErrCodeObjectNotFound},
		{"unknown claimant", SubmitClaimInput{ObjectID: objID, ClaimantID: uuid.NewString()}, model.ErrCodeMemberNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ctrl.SubmitClaim(context.Background(), tt.input)
			assertKind(t, err, model.KindNotFound)
			assertCode(t, err, tt.code)
		})
	}

	if obj := f.object(t, objID); obj.Status != model.ObjectStatusStored {
		t.Errorf("object status = %s, want STORED", obj.Status)
	}
}

func TestSubmitClaim_AnonymousIsUnauthorized(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.ctrl.SubmitClaim(context.Background(), SubmitClaimInput{ObjectID: f.newObject(t, 1)})
	assertKind(t, err, model.KindUnauthorized)
}

func TestSubmitClaim_ConcurrentExactlyOneWins(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	objID := f.newObject(t, 1)

	const n = 16
	claimants := make([]string, n)
	for i := range claimants {
		claimants[i] = uuid.NewString()
		if err := f.store.Repos().Members.Create(context.Background(), &model.Member{ID: claimants[i], Name: "c", Role: model.RoleUser}); err != nil {
			t.Fatalf("会員の作成に失敗: %v", err)
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.ctrl.SubmitClaim(context.Background(), SubmitClaimInput{ObjectID: objID, ClaimantID: claimants[i]})
		}(i)
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case model.IsKind(err, model.KindConflict):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("successful submissions = %d, want 1", wins)
	}
	f.assertInvariants(t, objID)
}

// --- T2 / T3 ---

func TestApproveClaim_MovesPairForward(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	objID := f.newObject(t, 4)
	submitted := f.submit(t, objID, f.alice)

	approved, err := f.ctrl.ApproveClaim(context.Background(), submitted.ID, f.admin)
	if err != nil {
		t.Fatalf("ApproveClaim() error = %v", err)
	}

	if approved.Status != model.ClaimStatusApproved || approved.ReviewedBy != f.admin.MemberID {
		t.Errorf("approved = %+v", approved)
	}
	obj := f.object(t, objID)
	if obj.Status != model.ObjectStatusClaimApproved || obj.LockExpiry != nil {
		t.Errorf("object status=%s lock=%v, want CLAIM_APPROVED/nil", obj.Status, obj.LockExpiry)
	}
	if got := f.publisher.events(); len(got) != 1 || got[0] != notify.EventRetrievalApproved {
		t.Errorf("signals = %v", got)
	}
	f.assertInvariants(t, objID)
}

func TestApproveClaim_RequiresAdmin(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	objID := f.newObject(t, 1)
	submitted := f.submit(t, objID, f.alice)

	_, err := f.ctrl.ApproveClaim(context.Background(), submitted.ID, f.bob)
	assertKind(t, err, model.KindAuthorization)

	if c := f.claim(t, submitted.ID); c.Status != model.ClaimStatusPending {
		t.Errorf("claim status = %s, want PENDING", c.Status)
	}
}

func TestApproveClaim_NotPendingLeavesRecordsUnchanged(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	objID := f.newObject(t, 1)
	submitted := f.submit(t, objID, f.alice)
	if _, err := f.ctrl.RejectClaim(context.Background(), submitted.ID, f.admin); err != nil {
		t.Fatalf("RejectClaim() error = %v", err)
	}
	beforeObj := f.object(t, objID)
	beforeClaim := f.claim(t, submitted.ID)

	f.clock.Advance(time.Minute)
	_, err := f.ctrl.ApproveClaim(context.Background(), submitted.ID, f.admin)

	assertKind(t, err, model.KindConflict)
	assertCode(t, err, model.ErrCodeClaimNotPending)
	afterObj := f.object(t, objID)
	afterClaim := f.claim(t, submitted.ID)
	if afterObj.Status != beforeObj.Status || !afterObj.UpdatedAt.Equal(beforeObj.UpdatedAt) {
		t.Errorf("object changed: before=%+v after=%+v", beforeObj, afterObj)
	}
	if afterClaim.Status != beforeClaim.Status || !afterClaim.UpdatedAt.Equal(beforeClaim.UpdatedAt) {
		t.Errorf("claim changed: before=%+v after=%+v", beforeClaim, afterClaim)
	}
	if len(f.publisher.events()) != 0 {
		t.Error("no signal should be published for a refused approval")
	}
}

func TestApproveClaim_UnknownClaim(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	for _, id := range []string{"", "abc", uuid.NewString()} {
		_, err := f.ctrl.ApproveClaim(context.Background(), id, f.admin)
		assertKind(t, err, model.KindNotFound)
	}
}

func TestRejectThenSubmit_ObjectFullyReleased(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	objID := f.newObject(t, 2)
	first := f.submit(t, objID, f.alice)

	rejected, err := f.ctrl.RejectClaim(context.Background(), first.ID, f.admin)
	if err != nil {
		t.Fatalf("RejectClaim() error = %v", err)
	}
	if rejected.Status != model.ClaimStatusRejected || rejected.ResolutionReason != model.ResolutionRejectedByReviewer {
		t.Errorf("rejected = %+v", rejected)
	}
	obj := f.object(t, objID)
	if obj.Status != model.ObjectStatusStored || obj.LockExpiry != nil {
		t.Errorf("object status=%s lock=%v, want STORED/nil", obj.Status, obj.LockExpiry)
	}

	second := f.submit(t, objID, f.bob)
	if second.Status != model.ClaimStatusPending {
		t.Errorf("second claim status = %s", second.Status)
	}
	f.assertInvariants(t, objID)
}

func TestProcessClaim(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	objID := f.newObject(t, 1)
	submitted := f.submit(t, objID, f.alice)

	_, err := f.ctrl.ProcessClaim(context.Background(), submitted.ID, "DELETE", f.admin)
	assertKind(t, err, model.KindValidation)

	_, err = f.ctrl.ProcessClaim(context.Background(), submitted.ID, "approve", f.alice)
	assertKind(t, err, model.KindAuthorization)

	claim, err := f.ctrl.ProcessClaim(context.Background(), submitted.ID, " approve ", f.admin)
	if err != nil {
		t.Fatalf("ProcessClaim() error = %v", err)
	}
	if claim.Status != model.ClaimStatusApproved {
		t.Errorf("status = %s, want APPROVED", claim.Status)
	}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		raw     string
		want    Action
		wantErr bool
	}{
		{"APPROVE", ActionApprove, false},
		{"reject", ActionReject, false},
		{"", "", true},
		{"CANCEL", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAction(tt.raw)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseAction(%q) = %q, %v", tt.raw, got, err)
		}
	}
}

// --- T4 ---

func TestConfirmPickup_Idempotence(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	objID := f.newObject(t, 9)
	submitted := f.submit(t, objID, f.alice)
	if _, err := f.ctrl.ApproveClaim(context.Background(), submitted.ID, f.admin); err != nil {
		t.Fatalf("ApproveClaim() error = %v", err)
	}

	if _, err := f.ctrl.ConfirmPickup(context.Background(), submitted.ID, f.alice); err != nil {
		t.Fatalf("first ConfirmPickup() error = %v", err)
	}
	_, err := f.ctrl.ConfirmPickup(context.Background(), submitted.ID, f.alice)
	assertKind(t, err, model.KindConflict)
	assertCode(t, err, model.ErrCodeClaimNotApproved)

	got := f.publisher.events()
	if len(got) != 2 || got[1] != notify.EventPickupConfirmed {
		t.Errorf("signals = %v, want approve + one pickup", got)
	}
	obj := f.object(t, objID)
	if obj.Status != model.ObjectStatusCollected || !obj.IsRetrieved || obj.LockExpiry != nil {
		t.Errorf("object = %+v", obj)
	}
}

func TestConfirmPickup_OwnershipIsAuthorization(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	objID := f.newObject(t, 1)
	submitted := f.submit(t, objID, f.alice)
	if _, err := f.ctrl.ApproveClaim(context.Background(), submitted.ID, f.admin); err != nil {
		t.Fatalf("ApproveClaim() error = %v", err)
	}

	_, err := f.ctrl.ConfirmPickup(context.Background(), submitted.ID, f.bob)
	assertKind(t, err, model.KindAuthorization)
	assertCode(t, err, model.ErrCodeNotClaimOwner)

	if c := f.claim(t, submitted.ID); c.Status != model.ClaimStatusApproved {
		t.Errorf("claim status = %s, want APPROVED", c.Status)
	}
}

func TestConfirmPickup_PendingClaimIsConflict(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	objID := f.newObject(t, 1)
	submitted := f.submit(t, objID, f.alice)

	_, err := f.ctrl.ConfirmPickup(context.Background(), submitted.ID, f.alice)
	assertKind(t, err, model.KindConflict)
	f.assertInvariants(t, objID)
}

// --- シナリオ ---

func TestScenario_FullLifecycle(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	objID := f.newObject(t, 5)

	a := f.submit(t, objID, f.alice)
	f.assertInvariants(t, objID)

	_, err := f.ctrl.SubmitClaim(ctx, SubmitClaimInput{ObjectID: objID, ClaimantID: f.bob.MemberID})
	assertKind(t, err, model.KindConflict)

	if _, err := f.ctrl.ApproveClaim(ctx, a.ID, f.admin); err != nil {
		t.Fatalf("ApproveClaim() error = %v", err)
	}
	f.assertInvariants(t, objID)

	collected, err := f.ctrl.ConfirmPickup(ctx, a.ID, f.alice)
	if err != nil {
		t.Fatalf("ConfirmPickup() error = %v", err)
	}
	if collected.Status != model.ClaimStatusCollected || collected.ResolvedAt == nil {
		t.Errorf("collected = %+v", collected)
	}
	f.assertInvariants(t, objID)

	_, err = f.ctrl.SubmitClaim(ctx, SubmitClaimInput{ObjectID: objID, ClaimantID: f.bob.MemberID})
	assertKind(t, err, model.KindConflict)
	assertCode(t, err, model.ErrCodeObjectNotClaimable)
}

func TestScenario_ExpirySupersession_AutoReject(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	objID := f.newObject(t, 1)
	a := f.submit(t, objID, f.alice)

	f.clock.Advance(48*time.Hour + time.Second)
	b := f.submit(t, objID, f.bob)

	stale := f.claim(t, a.ID)
	if stale.Status != model.ClaimStatusRejected || stale.ResolutionReason != model.ResolutionSupersededByExpiry {
		t.Errorf("stale claim = %+v, want REJECTED/superseded_after_expiry", stale)
	}
	obj := f.object(t, objID)
	wantExpiry := f.clock.Now().Add(48 * time.Hour)
	if obj.LockExpiry == nil || !obj.LockExpiry.Equal(wantExpiry) {
		t.Errorf("lock_expiry = %v, want %v", obj.LockExpiry, wantExpiry)
	}
	f.assertInvariants(t, objID)

	if _, err := f.ctrl.ApproveClaim(context.Background(), b.ID, f.admin); err != nil {
		t.Fatalf("ApproveClaim(b) error = %v", err)
	}
}

// 自動却下を無効にすると、期限切れ後に置き換えられた申請は PENDING のまま残る。
func TestScenario_ExpirySupersession_DanglingMode(t *testing.T) {
	f := newFixture(t, Config{LockDuration: 48 * time.Hour, AutoRejectStaleClaims: false})
	ctx := context.Background()
	objID := f.newObject(t, 1)
	a := f.submit(t, objID, f.alice)

	f.clock.Advance(49 * time.Hour)
	b := f.submit(t, objID, f.bob)

	if stale := f.claim(t, a.ID); stale.Status != model.ClaimStatusPending {
		t.Errorf("stale claim status = %s, want PENDING", stale.Status)
	}
	active, err := f.store.Repos().Claims.ListActiveByObject(ctx, objID, false)
	if err != nil {
		t.Fatalf("ListActiveByObject: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("active claims = %d, want 2 (stale + new)", len(active))
	}

	_, err = f.ctrl.ApproveClaim(ctx, a.ID, f.admin)
	assertCode(t, err, model.ErrCodeClaimSuperseded)

	if _, err := f.ctrl.RejectClaim(ctx, a.ID, f.admin); err != nil {
		t.Fatalf("RejectClaim(stale) error = %v", err)
	}
	if obj := f.object(t, objID); obj.Status != model.ObjectStatusClaimPending {
		t.Errorf("object status = %s, want CLAIM_PENDING (still held by the newer claim)", obj.Status)
	}

	if _, err := f.ctrl.ApproveClaim(ctx, b.ID, f.admin); err != nil {
		t.Fatalf("ApproveClaim(b) error = %v", err)
	}
	f.assertInvariants(t, objID)
}

// 自動却下なしでも、ロック保持者の却下は拾得物を解放し、残った古い申請は承認できない。
func TestScenario_DanglingMode_RejectHolderReleasesObject(t *testing.T) {
	f := newFixture(t, Config{LockDuration: 48 * time.Hour, AutoRejectStaleClaims: false})
	ctx := context.Background()
	objID := f.newObject(t, 1)
	a := f.submit(t, objID, f.alice)

	f.clock.Advance(49 * time.Hour)
	b := f.submit(t, objID, f.bob)

	if _, err := f.ctrl.RejectClaim(ctx, b.ID, f.admin); err != nil {
		t.Fatalf("RejectClaim(b) error = %v", err)
	}
	obj := f.object(t, objID)
	if obj.Status != model.ObjectStatusStored || obj.LockExpiry != nil {
		t.Fatalf("object = status %s lock_expiry %v, want STORED with no lock", obj.Status, obj.LockExpiry)
	}
	if stale := f.claim(t, a.ID); stale.Status != model.ClaimStatusPending {
		t.Errorf("stale claim status = %s, want PENDING", stale.Status)
	}

	// 解放後の古い申請は承認できず、記録も変わらない
	_, err := f.ctrl.ApproveClaim(ctx, a.ID, f.admin)
	assertKind(t, err, model.KindConflict)
	assertCode(t, err, model.ErrCodeClaimSuperseded)
	if obj := f.object(t, objID); obj.Status != model.ObjectStatusStored {
		t.Errorf("object status after refused approve = %s, want STORED", obj.Status)
	}

	// 3人目の申請は受け付けられる
	carol := auth.Identity{MemberID: uuid.NewString(), Role: model.RoleUser}
	if err := f.store.Repos().Members.Create(ctx, &model.Member{ID: carol.MemberID, Name: "carol", Role: carol.Role}); err != nil {
		t.Fatalf("会員の作成に失敗: %v", err)
	}
	c := f.submit(t, objID, carol)

	_, err = f.ctrl.ApproveClaim(ctx, a.ID, f.admin)
	assertCode(t, err, model.ErrCodeClaimSuperseded)

	if _, err := f.ctrl.ApproveClaim(ctx, c.ID, f.admin); err != nil {
		t.Fatalf("ApproveClaim(carol) error = %v", err)
	}
	if obj := f.object(t, objID); obj.Status != model.ObjectStatusClaimApproved {
		t.Errorf("object status = %s, want CLAIM_APPROVED", obj.Status)
	}
}

// --- 期限切れスイープ ---

func TestExpireStaleLocks(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	expiredObj := f.newObject(t, 1)
	expiredClaim := f.submit(t, expiredObj, f.alice)

	f.clock.Advance(47 * time.Hour)
	freshObj := f.newObject(t, 2)
	f.submit(t, freshObj, f.bob)

	f.clock.Advance(2 * time.Hour)
	released, err := f.ctrl.ExpireStaleLocks(ctx, 10)
	if err != nil {
		t.Fatalf("ExpireStaleLocks() error = %v", err)
	}
	if released != 1 {
		t.Errorf("released = %d, want 1", released)
	}

	if obj := f.object(t, expiredObj); obj.Status != model.ObjectStatusStored || obj.LockExpiry != nil {
		t.Errorf("expired object = %+v", obj)
	}
	if c := f.claim(t, expiredClaim.ID); c.Status != model.ClaimStatusRejected || c.ResolutionReason != model.ResolutionExpired {
		t.Errorf("expired claim = %+v", c)
	}
	if obj := f.object(t, freshObj); obj.Status != model.ObjectStatusClaimPending {
		t.Errorf("fresh object status = %s, want CLAIM_PENDING", obj.Status)
	}
	f.assertInvariants(t, expiredObj)
	f.assertInvariants(t, freshObj)

	released, err = f.ctrl.ExpireStaleLocks(ctx, 10)
	if err != nil || released != 0 {
		t.Errorf("second sweep released=%d err=%v, want 0/nil", released, err)
	}
}

// --- ストア障害 ---

var errCommitFailed = errors.New("connection reset by peer")

// commitFailingStore はfnの成功後にコミット失敗を模擬するStore。
type commitFailingStore struct {
	*repository.MemoryStore
	fail bool
}

func (s *commitFailingStore) WithinTx(ctx context.Context, fn func(tx repository.Repos) error) error {
	return s.MemoryStore.WithinTx(ctx, func(tx repository.Repos) error {
		if err := fn(tx); err != nil {
			return err
		}
		if s.fail {
			return errCommitFailed
		}
		return nil
	})
}

func TestTransitions_StoreUnavailableLeavesNoPartialWrite(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	objID := f.newObject(t, 1)
	submitted := f.submit(t, objID, f.alice)

	failing := &commitFailingStore{MemoryStore: f.store, fail: true}
	ctrl := NewController(failing, DefaultConfig(), security.NewTextSanitizer(), f.publisher, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	ctrl.SetClock(f.clock.Now)

	_, err := ctrl.ApproveClaim(context.Background(), submitted.ID, f.admin)
	assertKind(t, err, model.KindUnavailable)

	if c := f.claim(t, submitted.ID); c.Status != model.ClaimStatusPending {
		t.Errorf("claim status = %s, want PENDING", c.Status)
	}
	if obj := f.object(t, objID); obj.Status != model.ObjectStatusClaimPending {
		t.Errorf("object status = %s, want CLAIM_PENDING", obj.Status)
	}
	if len(f.publisher.events()) != 0 {
		t.Error("no signal should be published when the transaction fails")
	}

	other := f.newObject(t, 2)
	_, err = ctrl.SubmitClaim(context.Background(), SubmitClaimInput{ObjectID: other, ClaimantID: f.bob.MemberID})
	assertKind(t, err, model.KindUnavailable)
	if obj := f.object(t, other); obj.Status != model.ObjectStatusStored {
		t.Errorf("object status = %s, want STORED", obj.Status)
	}
}

func TestTransitions_CanceledContextIsUnavailable(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	objID := f.newObject(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.ctrl.SubmitClaim(ctx, SubmitClaimInput{ObjectID: objID, ClaimantID: f.alice.MemberID})
	assertKind(t, err, model.KindUnavailable)
}
