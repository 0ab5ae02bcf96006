package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/shelfmate/internal/middleware"
	"github.com/hitoshi/shelfmate/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの最大サイズ（1MB）。
const maxRequestBodySize = 1 << 20

// RequestValidator はリクエストDTOの検証インターフェース。
type RequestValidator interface {
	Validate(s any) error
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一エラーフォーマットでレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	middleware.WriteError(w, err)
}

// decodeJSON はリクエストボディをデコードし、validatorがあれば検証する。
// 失敗した場合はエラーレスポンスを書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v RequestValidator, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	if v != nil {
		if err := v.Validate(dst); err != nil {
			handleServiceError(w, err)
			return false
		}
	}
	return true
}

// requireUser はセッションのユーザーIDを返す。未認証の場合は401を書き込んでfalseを返す。
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// requireSelf はURLの{userId}がセッションのユーザーと一致することを確認する。
// 一致しない場合は403 FORBIDDENを書き込んでfalseを返す。
func requireSelf(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return "", false
	}
	if chi.URLParam(r, "userId") != userID {
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
		return "", false
	}
	return userID, true
}

// wantsJSON はクライアントがJSONレスポンスを要求しているかを返す。
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
