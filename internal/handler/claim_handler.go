package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/lockerclaim/internal/auth"
	"github.com/hitoshi/lockerclaim/internal/lifecycle"
	"github.com/hitoshi/lockerclaim/internal/middleware"
	"github.com/hitoshi/lockerclaim/internal/model"
)

// ClaimControllerInterface は受取申請の状態遷移を行うインターフェース。
type ClaimControllerInterface interface {
	// SubmitClaim は受取申請を受け付ける。
	SubmitClaim(ctx context.Context, in lifecycle.SubmitClaimInput) (*model.Claim, error)
	// ProcessClaim は審査アクションを実行する。
	ProcessClaim(ctx context.Context, claimID, action string, reviewer auth.Identity) (*model.Claim, error)
	// ConfirmPickup は受取を確定する。
	ConfirmPickup(ctx context.Context, claimID string, claimant auth.Identity) (*model.Claim, error)
}

// ClaimLedgerInterface は受取申請の一覧を返すインターフェース。
type ClaimLedgerInterface interface {
	// ListPendingForReview は審査待ちの申請を先着順で返す。
	ListPendingForReview(ctx context.Context) ([]model.ClaimForReview, error)
	// ListApprovedFor は申請者の受取待ちの申請を返す。
	ListApprovedFor(ctx context.Context, claimantID string) ([]model.ApprovedClaim, error)
}

// ClaimHandler は受取申請・審査・キオスク受取のHTTPハンドラー。
type ClaimHandler struct {
	controller ClaimControllerInterface
	ledger     ClaimLedgerInterface
}

// NewClaimHandler はClaimHandlerを生成する。
func NewClaimHandler(controller ClaimControllerInterface, ledger ClaimLedgerInterface) *ClaimHandler {
	return &ClaimHandler{controller: controller, ledger: ledger}
}

// submitClaimRequest は受取申請リクエストのボディ。
type submitClaimRequest struct {
	ObjectID         string `json:"object_id"`
	Evidence         string `json:"evidence"`
	DetailAddress    string `json:"detail_address"`
	EvidenceImageRef string `json:"evidence_image_ref"`
}

// processClaimRequest は審査リクエストのボディ。
type processClaimRequest struct {
	Action string `json:"action"`
}

// claimResponse は受取申請のAPIレスポンス。
type claimResponse struct {
	ID               string     `json:"id"`
	ObjectID         string     `json:"object_id"`
	ClaimantID       string     `json:"claimant_id"`
	Evidence         string     `json:"evidence"`
	DetailAddress    string     `json:"detail_address"`
	EvidenceImageRef string     `json:"evidence_image_ref,omitempty"`
	Status           string     `json:"status"`
	ResolutionReason string     `json:"resolution_reason,omitempty"`
	ReviewedBy       string     `json:"reviewed_by,omitempty"`
	RequestedAt      time.Time  `json:"requested_at"`
	ResolvedAt       *time.Time `json:"resolved_at"`
}

// reviewClaimResponse は審査一覧の1行。
type reviewClaimResponse struct {
	claimResponse
	ClaimantName string `json:"claimant_name"`
	ObjectName   string `json:"object_name"`
	LockerNumber int    `json:"locker_number"`
	ObjectStatus string `json:"object_status"`
}

// approvedClaimResponse はキオスクの受取待ち一覧の1行。
type approvedClaimResponse struct {
	claimResponse
	ObjectName   string `json:"object_name"`
	ImageRef     string `json:"image_ref,omitempty"`
	LockerNumber int    `json:"locker_number"`
	ObjectStatus string `json:"object_status"`
}

// SubmitClaim は受取申請を受け付ける。
// POST /api/claims
func (h *ClaimHandler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		handleServiceError(w, model.NewUnauthorizedError())
		return
	}

	var req submitClaimRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ObjectID == "" {
		handleServiceError(w, model.NewMissingFieldError("object_id"))
		return
	}

	claim, err := h.controller.SubmitClaim(r.Context(), lifecycle.SubmitClaimInput{
		ObjectID:         req.ObjectID,
		ClaimantID:       identity.MemberID,
		Evidence:         req.Evidence,
		DetailAddress:    req.DetailAddress,
		EvidenceImageRef: req.EvidenceImageRef,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toClaimResponse(claim))
}

// ListPendingClaims は審査待ちの申請一覧を返す。
// GET /api/admin/claims
func (h *ClaimHandler) ListPendingClaims(w http.ResponseWriter, r *http.Request) {
	rows, err := h.ledger.ListPendingForReview(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]reviewClaimResponse, len(rows))
	for i := range rows {
		row := &rows[i]
		resp[i] = reviewClaimResponse{
			claimResponse: toClaimResponse(&row.Claim),
			ClaimantName:  row.ClaimantName,
			ObjectName:    row.ObjectName,
			LockerNumber:  row.LockerNumber,
			ObjectStatus:  string(row.ObjectStatus),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ProcessClaim は申請を承認または却下する。
// POST /api/admin/claims/{id}/process
func (h *ClaimHandler) ProcessClaim(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		handleServiceError(w, model.NewUnauthorizedError())
		return
	}

	var req processClaimRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claim, err := h.controller.ProcessClaim(r.Context(), chi.URLParam(r, "id"), req.Action, identity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toClaimResponse(claim))
}

// ListApproved は呼び出し元の受取待ちの申請一覧を返す。
// GET /api/kiosk/approved
func (h *ClaimHandler) ListApproved(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		handleServiceError(w, model.NewUnauthorizedError())
		return
	}

	rows, err := h.ledger.ListApprovedFor(r.Context(), identity.MemberID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]approvedClaimResponse, len(rows))
	for i := range rows {
		row := &rows[i]
		resp[i] = approvedClaimResponse{
			claimResponse: toClaimResponse(&row.Claim),
			ObjectName:    row.ObjectName,
			ImageRef:      row.ImageRef,
			LockerNumber:  row.LockerNumber,
			ObjectStatus:  string(row.ObjectStatus),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CollectClaim は受取を確定する。
// POST /api/kiosk/claims/{id}/collect
func (h *ClaimHandler) CollectClaim(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		handleServiceError(w, model.NewUnauthorizedError())
		return
	}

	claim, err := h.controller.ConfirmPickup(r.Context(), chi.URLParam(r, "id"), identity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toClaimResponse(claim))
}

func toClaimResponse(c *model.Claim) claimResponse {
	return claimResponse{
		ID:               c.ID,
		ObjectID:         c.ObjectID,
		ClaimantID:       c.ClaimantID,
		Evidence:         c.Evidence,
		DetailAddress:    c.DetailAddress,
		EvidenceImageRef: c.EvidenceImageRef,
		Status:           string(c.Status),
		ResolutionReason: c.ResolutionReason,
		ReviewedBy:       c.ReviewedBy,
		RequestedAt:      c.RequestedAt,
		ResolvedAt:       c.ResolvedAt,
	}
}
