package points

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/lockerclaim/internal/metrics"
	"github.com/hitoshi/lockerclaim/internal/model"
	"github.com/hitoshi/lockerclaim/internal/repository"
)

const finderID = "6b1f0c5e-2d7a-4f7e-9d3b-0a1b2c3d4e5f"

func newTestService(t *testing.T, amount int) (*Service, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	if err := store.Repos().Members.Create(context.Background(), &model.Member{ID: finderID, Name: "Finder", Role: model.RoleUser}); err != nil {
		t.Fatalf("会員の作成に失敗: %v", err)
	}
	return NewService(store, amount, metrics.Nop{}, slog.New(slog.NewJSONHandler(io.Discard, nil))), store
}

func memberPoints(t *testing.T, store *repository.MemoryStore) int {
	t.Helper()
	m, err := store.Repos().Members.FindByID(context.Background(), finderID)
	if err != nil || m == nil {
		t.Fatalf("会員の取得に失敗: m=%v err=%v", m, err)
	}
	return m.Points
}

func TestCreditFinder_CreditsOnce(t *testing.T) {
	svc, store := newTestService(t, 100)
	ctx := context.Background()

	credited, err := svc.CreditFinder(ctx, "obj-1", finderID)
	if err != nil || !credited {
		t.Fatalf("first credit: credited=%v err=%v", credited, err)
	}

	credited, err = svc.CreditFinder(ctx, "obj-1", finderID)
	if err != nil {
		t.Fatalf("second credit error = %v", err)
	}
	if credited {
		t.Error("second credit for the same object should be a no-op")
	}

	if got := memberPoints(t, store); got != 100 {
		t.Errorf("points = %d, want 100", got)
	}
}

func TestCreditFinder_DistinctObjectsAccumulate(t *testing.T) {
	svc, store := newTestService(t, 100)
	ctx := context.Background()

	for _, id := range []string{"obj-1", "obj-2", "obj-3"} {
		if _, err := svc.CreditFinder(ctx, id, finderID); err != nil {
			t.Fatalf("CreditFinder(%s) error = %v", id, err)
		}
	}

	if got := memberPoints(t, store); got != 300 {
		t.Errorf("points = %d, want 300", got)
	}
}

func TestCreditFinder_AnonymousFinderIsSkipped(t *testing.T) {
	svc, _ := newTestService(t, 100)

	credited, err := svc.CreditFinder(context.Background(), "obj-1", "")
	if err != nil || credited {
		t.Errorf("credited=%v err=%v, want false/nil", credited, err)
	}
}

func TestCreditFinder_ZeroAmountDisablesRewards(t *testing.T) {
	svc, store := newTestService(t, 0)

	credited, err := svc.CreditFinder(context.Background(), "obj-1", finderID)
	if err != nil || credited {
		t.Errorf("credited=%v err=%v, want false/nil", credited, err)
	}
	if got := memberPoints(t, store); got != 0 {
		t.Errorf("points = %d, want 0", got)
	}
}

func TestCreditFinder_UnknownMemberFails(t *testing.T) {
	svc, _ := newTestService(t, 100)

	_, err := svc.CreditFinder(context.Background(), "obj-1", "00000000-0000-0000-0000-000000000000")
	if err == nil {
		t.Fatal("expected error for unknown member")
	}
}

// failingStore はWithinTxが常に失敗するStore。
type failingStore struct {
	repository.Store
	err error
}

func (s failingStore) WithinTx(ctx context.Context, fn func(tx repository.Repos) error) error {
	return s.err
}

func TestCreditFinder_StoreErrorIsWrapped(t *testing.T) {
	errDown := errors.New("connection refused")
	svc := NewService(failingStore{Store: repository.NewMemoryStore(), err: errDown}, 100, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	_, err := svc.CreditFinder(context.Background(), "obj-1", finderID)
	if !errors.Is(err, errDown) {
		t.Errorf("error = %v, want wrapped %v", err, errDown)
	}
}
