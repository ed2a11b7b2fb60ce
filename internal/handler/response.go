package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/hitoshi/lockerclaim/internal/middleware"
	"github.com/hitoshi/lockerclaim/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限。
const maxRequestBodySize = 64 << 10

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// decodeJSON はリクエストボディをvにデコードする。失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize))
	if err := dec.Decode(v); err != nil {
		middleware.WriteErrorResponse(w, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
			Kind:     model.KindValidation,
		})
		return false
	}
	return true
}

// handleServiceError はサービス層から返されたエラーを書き込む。ステータスはエラー分類で決まる。
func handleServiceError(w http.ResponseWriter, err error) {
	middleware.WriteError(w, err)
}
