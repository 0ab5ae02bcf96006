package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hitoshi/shelfmate/internal/middleware"
	"github.com/hitoshi/shelfmate/internal/model"
)

var (
	// ErrAuthMissing はトークンが設定されていないことを表す。
	// リクエストは認証ヘッダーなしで送信され、認証が必要なエンドポイントは401を返す。
	ErrAuthMissing = errors.New("auth token is not configured")

	// ErrInvalidResponse はレスポンスのデコードまたは検証に失敗したことを表す。
	ErrInvalidResponse = errors.New("invalid response")
)

// TransportError はサーバーに到達できなかったことを表す。
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ResponseError はサーバーがエラーステータスを返したことを表す。
// errors.Asで*model.APIErrorを取り出せる。
type ResponseError struct {
	StatusCode int
	APIError   *model.APIError
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.APIError.Error())
}

func (e *ResponseError) Unwrap() error {
	return e.APIError
}

// IsNotFound はerrが404のResponseErrorかどうかを返す。
func IsNotFound(err error) bool {
	var respErr *ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// decodeError はエラーレスポンスのボディをAPIErrorに変換する。
// 統一フォーマットでない場合はステータスコードから推定する。
func decodeError(status int, body []byte) *ResponseError {
	var payload middleware.ErrorResponseBody
	if err := json.Unmarshal(body, &payload); err == nil && payload.Code != "" {
		message := payload.Message
		if message == "" {
			message = payload.Error
		}
		return &ResponseError{
			StatusCode: status,
			APIError: &model.APIError{
				Code:     payload.Code,
				Message:  message,
				Category: payload.Category,
				Action:   payload.Action,
				Details:  payload.Details,
			},
		}
	}
	return &ResponseError{StatusCode: status, APIError: fallbackError(status)}
}

func fallbackError(status int) *model.APIError {
	switch {
	case status == http.StatusUnauthorized:
		return model.NewUnauthorizedError()
	case status == http.StatusForbidden:
		return model.NewForbiddenError()
	case status == http.StatusTooManyRequests:
		return model.NewRateLimitedError()
	case status == http.StatusServiceUnavailable:
		return model.NewStorageUnavailableError()
	}
	apiErr := model.NewInternalError()
	apiErr.Message = fmt.Sprintf("サーバーがステータス %d を返しました。", status)
	return apiErr
}
