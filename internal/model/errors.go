package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類を表す。HTTPステータスへの変換に使用する。
type ErrorKind string

const (
	KindNotFound      ErrorKind = "not_found"
	KindConflict      ErrorKind = "conflict"
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindUnauthorized  ErrorKind = "unauthorized"
	KindUnavailable   ErrorKind = "unavailable"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string    // エラーコード
	Message  string    // エラーメッセージ
	Category string    // カテゴリ: auth, validation, object, claim, system
	Action   string    // ユーザー向け対処方法
	Kind     ErrorKind // エラー分類
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// IsKind はerrがAPIErrorであり、指定の分類に属するかを返す。
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}

// 定義済みエラーコード
const (
	ErrCodeObjectNotFound      = "OBJECT_NOT_FOUND"
	ErrCodeClaimNotFound       = "CLAIM_NOT_FOUND"
	ErrCodeMemberNotFound      = "MEMBER_NOT_FOUND"
	ErrCodeCategoryNotFound    = "CATEGORY_NOT_FOUND"
	ErrCodePlaceNotFound       = "PLACE_NOT_FOUND"
	ErrCodeObjectLocked        = "OBJECT_LOCKED"
	ErrCodeObjectNotClaimable  = "OBJECT_NOT_CLAIMABLE"
	ErrCodeClaimNotPending     = "CLAIM_NOT_PENDING"
	ErrCodeClaimNotApproved    = "CLAIM_NOT_APPROVED"
	ErrCodeClaimSuperseded     = "CLAIM_SUPERSEDED"
	ErrCodeMissingField        = "MISSING_FIELD"
	ErrCodeInvalidFoundDate    = "INVALID_FOUND_DATE"
	ErrCodeInvalidLockerNumber = "INVALID_LOCKER_NUMBER"
	ErrCodeInvalidReference    = "INVALID_REFERENCE"
	ErrCodeInvalidAction       = "INVALID_ACTION"
	ErrCodeNotClaimOwner       = "NOT_CLAIM_OWNER"
	ErrCodeAdminRequired       = "ADMIN_REQUIRED"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeStoreUnavailable    = "STORE_UNAVAILABLE"
)

// NewObjectNotFoundError は拾得物未検出エラーを生成する。
func NewObjectNotFoundError(objectID string) *APIError {
	return &APIError{
		Code:     ErrCodeObjectNotFound,
		Message:  fmt.Sprintf("指定された拾得物が見つかりません: %s", objectID),
		Category: "object",
		Action:   "拾得物IDを確認してください。",
		Kind:     KindNotFound,
	}
}

// NewClaimNotFoundError は受取申請未検出エラーを生成する。
func NewClaimNotFoundError(claimID string) *APIError {
	return &APIError{
		Code:     ErrCodeClaimNotFound,
		Message:  fmt.Sprintf("指定された受取申請が見つかりません: %s", claimID),
		Category: "claim",
		Action:   "申請IDを確認してください。",
		Kind:     KindNotFound,
	}
}

// NewMemberNotFoundError は会員が見つからない場合のエラーを生成する。
func NewMemberNotFoundError(memberID string) *APIError {
	return &APIError{
		Code:     ErrCodeMemberNotFound,
		Message:  fmt.Sprintf("会員が見つかりません: %s", memberID),
		Category: "auth",
		Action:   "ログインし直してください。",
		Kind:     KindNotFound,
	}
}

// NewCategoryNotFoundError はカテゴリが存在しない場合のエラーを生成する。
func NewCategoryNotFoundError(categoryID int64) *APIError {
	return &APIError{
		Code:     ErrCodeCategoryNotFound,
		Message:  fmt.Sprintf("指定されたカテゴリが見つかりません: %d", categoryID),
		Category: "validation",
		Action:   "カテゴリ一覧から選択してください。",
		Kind:     KindNotFound,
	}
}

// NewPlaceNotFoundError は拾得場所が存在しない場合のエラーを生成する。
func NewPlaceNotFoundError(placeID int64) *APIError {
	return &APIError{
		Code:     ErrCodePlaceNotFound,
		Message:  fmt.Sprintf("指定された拾得場所が見つかりません: %d", placeID),
		Category: "validation",
		Action:   "拾得場所一覧から選択してください。",
		Kind:     KindNotFound,
	}
}

// NewObjectLockedError は他の申請の審査中で受け付けられない場合のエラーを生成する。
func NewObjectLockedError() *APIError {
	return &APIError{
		Code:     ErrCodeObjectLocked,
		Message:  "現在ほかの方が受取申請中のため申請できません。",
		Category: "claim",
		Action:   "審査期限が過ぎてから再度お試しください。",
		Kind:     KindConflict,
	}
}

// NewObjectNotClaimableError は承認済み・受取済みの拾得物に申請した場合のエラーを生成する。
func NewObjectNotClaimableError(status ObjectStatus) *APIError {
	return &APIError{
		Code:     ErrCodeObjectNotClaimable,
		Message:  fmt.Sprintf("この拾得物は申請を受け付けていません: %s", status),
		Category: "claim",
		Action:   "拾得物一覧から受付中のものを選択してください。",
		Kind:     KindConflict,
	}
}

// NewClaimNotPendingError は審査待ちでない申請を審査しようとした場合のエラーを生成する。
func NewClaimNotPendingError(status ClaimStatus) *APIError {
	return &APIError{
		Code:     ErrCodeClaimNotPending,
		Message:  fmt.Sprintf("この申請は審査待ちではありません: %s", status),
		Category: "claim",
		Action:   "申請一覧を再読み込みしてください。",
		Kind:     KindConflict,
	}
}

// NewClaimNotApprovedError は承認済みでない申請の受取を確定しようとした場合のエラーを生成する。
func NewClaimNotApprovedError(status ClaimStatus) *APIError {
	return &APIError{
		Code:     ErrCodeClaimNotApproved,
		Message:  fmt.Sprintf("この申請は受取可能な状態ではありません: %s", status),
		Category: "claim",
		Action:   "承認済みの申請一覧を確認してください。",
		Kind:     KindConflict,
	}
}

// NewClaimSupersededError は審査対象の申請が拾得物のロックを保持していない場合のエラーを生成する。
// ロック期限切れ後に別の申請に置き換えられた申請が該当する。
func NewClaimSupersededError() *APIError {
	return &APIError{
		Code:     ErrCodeClaimSuperseded,
		Message:  "この申請は審査期限切れ後に別の申請に置き換えられています。",
		Category: "claim",
		Action:   "申請一覧を再読み込みしてください。",
		Kind:     KindConflict,
	}
}

// NewMissingFieldError は必須項目が未入力の場合のエラーを生成する。
func NewMissingFieldError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingField,
		Message:  fmt.Sprintf("必須項目が入力されていません: %s", field),
		Category: "validation",
		Action:   "必須項目を入力してください。",
		Kind:     KindValidation,
	}
}

// NewInvalidFoundDateError は拾得日の形式が不正な場合のエラーを生成する。
func NewInvalidFoundDateError(value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFoundDate,
		Message:  fmt.Sprintf("拾得日の形式が正しくありません: %s", value),
		Category: "validation",
		Action:   "拾得日は YYYY-MM-DD 形式で入力してください。",
		Kind:     KindValidation,
	}
}

// NewInvalidLockerNumberError はロッカー番号が正の整数でない場合のエラーを生成する。
func NewInvalidLockerNumberError(n int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLockerNumber,
		Message:  fmt.Sprintf("無効なロッカー番号です: %d", n),
		Category: "validation",
		Action:   "ロッカー番号は1以上の整数で指定してください。",
		Kind:     KindValidation,
	}
}

// NewInvalidReferenceError はカテゴリ・場所などの参照IDが不正な場合のエラーを生成する。
func NewInvalidReferenceError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidReference,
		Message:  fmt.Sprintf("%s は正の整数で指定してください。", field),
		Category: "validation",
		Action:   "一覧から選択し直してください。",
		Kind:     KindValidation,
	}
}

// NewInvalidActionError は審査アクションが APPROVE/REJECT 以外の場合のエラーを生成する。
func NewInvalidActionError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAction,
		Message:  fmt.Sprintf("無効な審査アクションです: %s", action),
		Category: "validation",
		Action:   "action には APPROVE または REJECT を指定してください。",
		Kind:     KindValidation,
	}
}

// NewNotClaimOwnerError は本人以外が受取を確定しようとした場合のエラーを生成する。
func NewNotClaimOwnerError() *APIError {
	return &APIError{
		Code:     ErrCodeNotClaimOwner,
		Message:  "ご本人の申請ではないため受け取れません。",
		Category: "auth",
		Action:   "申請したアカウントでログインしてください。",
		Kind:     KindAuthorization,
	}
}

// NewAdminRequiredError は管理者権限が必要な操作の場合のエラーを生成する。
func NewAdminRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAdminRequired,
		Message:  "この操作には管理者権限が必要です。",
		Category: "auth",
		Action:   "管理者アカウントでログインしてください。",
		Kind:     KindAuthorization,
	}
}

// NewUnauthorizedError は認証情報がない、または無効な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
		Kind:     KindUnauthorized,
	}
}

// NewStoreUnavailableError はデータストアで処理を完了できなかった場合のエラーを生成する。
// 変更は一切適用されていない。
func NewStoreUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "一時的に処理を完了できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Kind:     KindUnavailable,
	}
}
