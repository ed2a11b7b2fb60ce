package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/lockerclaim/internal/middleware"
	"github.com/hitoshi/lockerclaim/internal/model"
	"github.com/hitoshi/lockerclaim/internal/registry"
)

// ObjectServiceInterface は拾得物ハンドラーが必要とするサービスインターフェース。
type ObjectServiceInterface interface {
	// Register は拾得物を登録する。
	Register(ctx context.Context, in registry.RegisterInput) (*model.Object, error)
	// ListAvailable は公開一覧を返す。
	ListAvailable(ctx context.Context) ([]registry.ListedObject, error)
	// Detail は拾得物の詳細を返す。
	Detail(ctx context.Context, id string) (*registry.Detail, error)
	// ListCategories はカテゴリ一覧を返す。
	ListCategories(ctx context.Context) ([]model.Category, error)
	// ListPlaces は拾得場所一覧を返す。
	ListPlaces(ctx context.Context) ([]model.Place, error)
}

// ObjectHandler は拾得物と参照データのHTTPハンドラー。
type ObjectHandler struct {
	service ObjectServiceInterface
}

// NewObjectHandler はObjectHandlerを生成する。
func NewObjectHandler(service ObjectServiceInterface) *ObjectHandler {
	return &ObjectHandler{service: service}
}

// registerObjectRequest は拾得物登録リクエストのボディ。
type registerObjectRequest struct {
	Name         string `json:"name"`
	CategoryID   int64  `json:"category_id"`
	PlaceID      int64  `json:"place_id"`
	Description  string `json:"description"`
	FoundDate    string `json:"found_date"`
	LockerNumber *int   `json:"locker_number"`
	ImageRef     string `json:"image_ref"`
}

// objectResponse は拾得物のAPIレスポンス。
type objectResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	CategoryID    int64      `json:"category_id"`
	PlaceID       int64      `json:"place_id"`
	Description   string     `json:"description"`
	FoundDate     string     `json:"found_date"`
	ImageRef      string     `json:"image_ref,omitempty"`
	LockerNumber  int        `json:"locker_number"`
	Status        string     `json:"status"`
	LockExpiry    *time.Time `json:"lock_expiry"`
	IsRetrieved   bool       `json:"is_retrieved"`
	IsAvailable   bool       `json:"is_available"`
	DisplayStatus string     `json:"display_status"`
	CreatedAt     time.Time  `json:"created_at"`
}

// objectDetailResponse は拾得物詳細のAPIレスポンス。
type objectDetailResponse struct {
	objectResponse
	CategoryName  string  `json:"category_name"`
	PlaceName     string  `json:"place_name"`
	Address       string  `json:"address"`
	DetailAddress string  `json:"detail_address"`
	LockMessage   *string `json:"lock_message"`
}

type categoryResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type placeResponse struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Address       string `json:"address"`
	DetailAddress string `json:"detail_address"`
}

// ListObjects は受付中の拾得物一覧を返す。
// GET /api/objects
func (h *ObjectHandler) ListObjects(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ListAvailable(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]objectResponse, len(rows))
	for i, row := range rows {
		resp[i] = toObjectResponse(row.Object, row.IsAvailable, row.DisplayStatus)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetObject は拾得物の詳細を返す。
// GET /api/objects/{id}
func (h *ObjectHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.Detail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := objectDetailResponse{
		objectResponse: toObjectResponse(&detail.Object, detail.IsAvailable, detail.DisplayStatus),
		CategoryName:   detail.CategoryName,
		PlaceName:      detail.PlaceName,
		Address:        detail.PlaceAddress,
		DetailAddress:  detail.PlaceDetailAddress,
	}
	if detail.LockMessage != "" {
		msg := detail.LockMessage
		resp.LockMessage = &msg
	}
	writeJSON(w, http.StatusOK, resp)
}

// RegisterObject は拾得物を登録する。
// 認証済みの場合は呼び出し元を拾得者として記録する。匿名での登録も受け付ける。
// POST /api/objects
func (h *ObjectHandler) RegisterObject(w http.ResponseWriter, r *http.Request) {
	var req registerObjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := registry.RegisterInput{
		Name:         req.Name,
		CategoryID:   req.CategoryID,
		PlaceID:      req.PlaceID,
		Description:  req.Description,
		FoundDate:    req.FoundDate,
		LockerNumber: req.LockerNumber,
		ImageRef:     req.ImageRef,
	}
	if identity, ok := middleware.IdentityFromContext(r.Context()); ok {
		in.FinderID = identity.MemberID
	}

	obj, err := h.service.Register(r.Context(), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toObjectResponse(obj, true, obj.Status))
}

// ListCategories はカテゴリ一覧を返す。
// GET /api/categories
func (h *ObjectHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	resp := make([]categoryResponse, len(categories))
	for i, c := range categories {
		resp[i] = categoryResponse{ID: c.ID, Name: c.Name}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListPlaces は拾得場所一覧を返す。
// GET /api/places
func (h *ObjectHandler) ListPlaces(w http.ResponseWriter, r *http.Request) {
	places, err := h.service.ListPlaces(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	resp := make([]placeResponse, len(places))
	for i, p := range places {
		resp[i] = placeResponse{ID: p.ID, Name: p.Name, Address: p.Address, DetailAddress: p.DetailAddress}
	}
	writeJSON(w, http.StatusOK, resp)
}

func toObjectResponse(obj *model.Object, available bool, display model.ObjectStatus) objectResponse {
	return objectResponse{
		ID:            obj.ID,
		Name:          obj.Name,
		CategoryID:    obj.CategoryID,
		PlaceID:       obj.PlaceID,
		Description:   obj.Description,
		FoundDate:     obj.FoundDate.Format("2006-01-02"),
		ImageRef:      obj.ImageRef,
		LockerNumber:  obj.LockerNumber,
		Status:        string(obj.Status),
		LockExpiry:    obj.LockExpiry,
		IsRetrieved:   obj.IsRetrieved,
		IsAvailable:   available,
		DisplayStatus: string(display),
		CreatedAt:     obj.CreatedAt,
	}
}
