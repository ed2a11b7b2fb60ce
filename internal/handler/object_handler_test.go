package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/lockerclaim/internal/model"
	"github.com/hitoshi/lockerclaim/internal/registry"
)

// mockObjectService はObjectServiceInterfaceのモック実装。
type mockObjectService struct {
	registerFn func(ctx context.Context, in registry.RegisterInput) (*model.Object, error)
	listFn     func(ctx context.Context) ([]registry.ListedObject, error)
	detailFn   func(ctx context.Context, id string) (*registry.Detail, error)
}

func (m *mockObjectService) Register(ctx context.Context, in registry.RegisterInput) (*model.Object, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, in)
	}
	return &model.Object{ID: "o1", Name: in.Name, Status: model.ObjectStatusStored}, nil
}

func (m *mockObjectService) ListAvailable(ctx context.Context) ([]registry.ListedObject, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockObjectService) Detail(ctx context.Context, id string) (*registry.Detail, error) {
	if m.detailFn != nil {
		return m.detailFn(ctx, id)
	}
	return nil, model.NewObjectNotFoundError(id)
}

func (m *mockObjectService) ListCategories(context.Context) ([]model.Category, error) {
	return []model.Category{{ID: 1, Name: "Electronics"}}, nil
}

func (m *mockObjectService) ListPlaces(context.Context) ([]model.Place, error) {
	return []model.Place{{ID: 1, Name: "Library", Address: "Library", DetailAddress: "Entrance"}}, nil
}

func TestRegisterObject_FinderFromIdentity(t *testing.T) {
	tests := []struct {
		name       string
		anonymous  bool
		wantFinder string
	}{
		{"authenticated finder", false, testUser.MemberID},
		{"anonymous kiosk", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got registry.RegisterInput
			svc := &mockObjectService{
				registerFn: func(_ context.Context, in registry.RegisterInput) (*model.Object, error) {
					got = in
					return &model.Object{ID: "o1", Name: in.Name, Status: model.ObjectStatusStored, LockerNumber: 3}, nil
				},
			}
			h := NewObjectHandler(svc)

			body := `{"name":"umbrella","category_id":5,"place_id":2,"found_date":"2026-02-12","locker_number":3}`
			req := httptest.NewRequest(http.MethodPost, "/api/objects", bytes.NewBufferString(body))
			if !tt.anonymous {
				req = withIdentity(req, testUser)
			}
			w := httptest.NewRecorder()

			h.RegisterObject(w, req)

			if w.Code != http.StatusCreated {
				t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
			}
			if got.FinderID != tt.wantFinder {
				t.Errorf("FinderID = %q, want %q", got.FinderID, tt.wantFinder)
			}
			if got.LockerNumber == nil || *got.LockerNumber != 3 || got.CategoryID != 5 || got.FoundDate != "2026-02-12" {
				t.Errorf("input = %+v", got)
			}
		})
	}
}

func TestRegisterObject_LockerNumberOmitted(t *testing.T) {
	var got registry.RegisterInput
	svc := &mockObjectService{
		registerFn: func(_ context.Context, in registry.RegisterInput) (*model.Object, error) {
			got = in
			return &model.Object{ID: "o1"}, nil
		},
	}
	h := NewObjectHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/objects", bytes.NewBufferString(`{"name":"pen","category_id":5,"place_id":1}`))
	w := httptest.NewRecorder()

	h.RegisterObject(w, req)

	if got.LockerNumber != nil {
		t.Errorf("LockerNumber = %v, want nil", *got.LockerNumber)
	}
}

func TestGetObject_LockMessage(t *testing.T) {
	expiry := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	svc := &mockObjectService{
		detailFn: func(_ context.Context, id string) (*registry.Detail, error) {
			return &registry.Detail{
				ObjectDetail: &model.ObjectDetail{
					Object: model.Object{
						ID:         id,
						Name:       "phone",
						Status:     model.ObjectStatusClaimPending,
						LockExpiry: &expiry,
						FoundDate:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
					},
					CategoryName: "Electronics",
					PlaceAddress: "Library",
				},
				IsAvailable:   false,
				DisplayStatus: model.ObjectStatusClaimPending,
				LockMessage:   "locked for 3 hours",
			}, nil
		},
	}
	h := NewObjectHandler(svc)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/objects/o1", nil), "id", "o1")
	w := httptest.NewRecorder()

	h.GetObject(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["lock_message"] != "locked for 3 hours" || resp["is_available"] != false {
		t.Errorf("resp = %v", resp)
	}
	if resp["found_date"] != "2026-03-01" || resp["category_name"] != "Electronics" {
		t.Errorf("resp = %v", resp)
	}
}

func TestGetObject_NotFound(t *testing.T) {
	h := NewObjectHandler(&mockObjectService{})

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/objects/zzz", nil), "id", "zzz")
	w := httptest.NewRecorder()

	h.GetObject(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestListObjects_EmptyIsArray(t *testing.T) {
	h := NewObjectHandler(&mockObjectService{})

	w := httptest.NewRecorder()
	h.ListObjects(w, httptest.NewRequest(http.MethodGet, "/api/objects", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := bytes.TrimSpace(w.Body.Bytes()); string(got) != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}
