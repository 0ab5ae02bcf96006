// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: auth, validation, shelf, catalog, discussion, system
	Action   string            // ユーザー向け対処方法
	Details  map[string]string // 追加情報（競合時の置換対象書籍など）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Retryable はリトライで回復しうるエラーかどうかを返す。
func (e *APIError) Retryable() bool {
	return e.Code == ErrCodeStorageUnavailable
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized             = "UNAUTHORIZED"
	ErrCodeForbidden                = "FORBIDDEN"
	ErrCodeInvalidRequest           = "INVALID_REQUEST"
	ErrCodeValidationFailed         = "VALIDATION_FAILED"
	ErrCodeInvalidArgument          = "INVALID_ARGUMENT"
	ErrCodeInvalidStatus            = "INVALID_STATUS"
	ErrCodeInvalidRating            = "INVALID_RATING"
	ErrCodeInvalidState             = "INVALID_STATE"
	ErrCodeCurrentlyReadingConflict = "CURRENTLY_READING_CONFLICT"
	ErrCodeBookNotFound             = "BOOK_NOT_FOUND"
	ErrCodeShelfEntryNotFound       = "SHELF_ENTRY_NOT_FOUND"
	ErrCodePostNotFound             = "POST_NOT_FOUND"
	ErrCodeCommentNotFound          = "COMMENT_NOT_FOUND"
	ErrCodeSearchQueryRequired      = "SEARCH_QUERY_REQUIRED"
	ErrCodeNoBooksFound             = "NO_BOOKS_FOUND"
	ErrCodeStorageUnavailable       = "STORAGE_UNAVAILABLE"
	ErrCodeRecsUnavailable          = "RECS_UNAVAILABLE"
	ErrCodeUserNotFound             = "USER_NOT_FOUND"
	ErrCodeInvalidURL               = "INVALID_URL"
	ErrCodeSSRFBlocked              = "SSRF_BLOCKED"
	ErrCodeSourceFetchFailed        = "SOURCE_FETCH_FAILED"
	ErrCodeSourceNotDetected        = "SOURCE_NOT_DETECTED"
	ErrCodeDuplicateSource          = "DUPLICATE_SOURCE"
	ErrCodeRateLimited              = "RATE_LIMITED"
	ErrCodeInternal                 = "INTERNAL_ERROR"
)

// IsCode はerrがAPIErrorであり、指定コードを持つかを返す。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は他ユーザーのリソースへのアクセスエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "このリソースにアクセスする権限がありません。",
		Category: "auth",
		Action:   "自分の本棚のみ操作できます。",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewValidationError はフィールド単位のバリデーションエラーを生成する。
// fieldsにはフィールド名とメッセージの組を渡す。
func NewValidationError(fields map[string]string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  "入力内容に誤りがあります。",
		Category: "validation",
		Action:   "各項目の内容を確認してください。",
		Details:  fields,
	}
}

// NewInvalidArgumentError は範囲外の引数エラーを生成する。
func NewInvalidArgumentError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidArgument,
		Message:  fmt.Sprintf("無効な引数です: %s", reason),
		Category: "validation",
		Action:   "入力値を確認してください。",
	}
}

// NewInvalidStatusError は無効な本棚ステータスエラーを生成する。
func NewInvalidStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatus,
		Message:  fmt.Sprintf("無効なステータスです: %s", status),
		Category: "validation",
		Action:   "ステータスには to-read、currently-reading、read のいずれかを指定してください。",
	}
}

// NewInvalidRatingError は無効な評価エラーを生成する。
func NewInvalidRatingError(rating string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRating,
		Message:  fmt.Sprintf("無効な評価です: %q", rating),
		Category: "validation",
		Action:   "評価には pos、mid、neg のいずれかを指定してください。",
	}
}

// NewInvalidStateError は現在の状態では実行できない操作のエラーを生成する。
func NewInvalidStateError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  fmt.Sprintf("現在の状態では実行できません: %s", reason),
		Category: "shelf",
		Action:   "本棚の状態を確認してから再度お試しください。",
	}
}

// NewCurrentlyReadingConflictError は「読書中」の書籍が既に存在する場合のエラーを生成する。
// 置き換えられる書籍のIDとタイトルをDetailsに含める。
func NewCurrentlyReadingConflictError(displacedBookID, displacedTitle string) *APIError {
	return &APIError{
		Code:     ErrCodeCurrentlyReadingConflict,
		Message:  fmt.Sprintf("「%s」を読書中です。", displacedTitle),
		Category: "shelf",
		Action:   "置き換える場合は replace_current を指定して再度リクエストしてください。",
		Details: map[string]string{
			"book_id": displacedBookID,
			"title":   displacedTitle,
		},
	}
}

// NewBookNotFoundError は書籍未検出エラーを生成する。
func NewBookNotFoundError(bookID string) *APIError {
	return &APIError{
		Code:     ErrCodeBookNotFound,
		Message:  fmt.Sprintf("指定された書籍が見つかりません: %s", bookID),
		Category: "catalog",
		Action:   "書籍IDを確認してください。",
	}
}

// NewShelfEntryNotFoundError は本棚エントリ未検出エラーを生成する。
func NewShelfEntryNotFoundError(bookID string) *APIError {
	return &APIError{
		Code:     ErrCodeShelfEntryNotFound,
		Message:  fmt.Sprintf("この書籍は本棚にありません: %s", bookID),
		Category: "shelf",
		Action:   "先に書籍を本棚に追加してください。",
	}
}

// NewPostNotFoundError は投稿未検出エラーを生成する。
func NewPostNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("指定された投稿が見つかりません: %s", postID),
		Category: "discussion",
		Action:   "投稿IDを確認してください。",
	}
}

// NewCommentNotFoundError はコメント未検出エラーを生成する。
func NewCommentNotFoundError(commentID string) *APIError {
	return &APIError{
		Code:     ErrCodeCommentNotFound,
		Message:  fmt.Sprintf("指定されたコメントが見つかりません: %s", commentID),
		Category: "discussion",
		Action:   "コメントIDを確認してください。",
	}
}

// NewSearchQueryRequiredError は検索クエリ未指定エラーを生成する。
func NewSearchQueryRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSearchQueryRequired,
		Message:  "検索クエリが指定されていません。",
		Category: "validation",
		Action:   "query パラメータを指定してください。",
	}
}

// NewNoBooksFoundError は該当書籍なしエラーを生成する。
func NewNoBooksFoundError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeNoBooksFound,
		Message:  reason,
		Category: "catalog",
		Action:   "条件を変えて再度お試しください。",
	}
}

// NewStorageUnavailableError は永続化層への到達失敗エラーを生成する。
// 呼び出し元はバックオフ付きでリトライしてよい。原因はログにのみ記録する。
func NewStorageUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStorageUnavailable,
		Message:  "本棚データの保存先に接続できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRecsUnavailableError は推薦サービスへの到達失敗エラーを生成する。
func NewRecsUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeRecsUnavailable,
		Message:  fmt.Sprintf("推薦サービスを利用できません: %s", reason),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidURLError はURL形式エラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("URLが不正です: %s", reason),
		Category: "catalog",
		Action:   "http:// または https:// から始まるURLを指定してください。",
	}
}

// NewSSRFBlockedError は内部ネットワーク宛てURLの拒否エラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "このURLにはアクセスできません。",
		Category: "catalog",
		Action:   "公開されているURLを指定してください。",
	}
}

// NewSourceFetchFailedError は取り込み元の取得失敗エラーを生成する。
func NewSourceFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceFetchFailed,
		Message:  fmt.Sprintf("取り込み元を取得できませんでした: %s", reason),
		Category: "catalog",
		Action:   "URLが正しいか、サイトが応答しているか確認してください。",
	}
}

// NewSourceNotDetectedError はURLからRSS/Atomフィードを検出できなかったエラーを生成する。
func NewSourceNotDetectedError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceNotDetected,
		Message:  fmt.Sprintf("カタログフィードが見つかりません: %s", url),
		Category: "catalog",
		Action:   "RSS/AtomフィードのURLを直接指定してください。",
	}
}

// NewDuplicateSourceError は登録済み取り込み元の重複エラーを生成する。
func NewDuplicateSourceError(feedURL string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateSource,
		Message:  fmt.Sprintf("この取り込み元は登録済みです: %s", feedURL),
		Category: "catalog",
		Action:   "別のURLを指定してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
