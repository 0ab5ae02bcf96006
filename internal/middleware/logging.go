package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// accessRecorder はレスポンスのステータスと書き込みバイト数を記録する。
type accessRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (ar *accessRecorder) WriteHeader(code int) {
	if ar.status == 0 {
		ar.status = code
	}
	ar.ResponseWriter.WriteHeader(code)
}

func (ar *accessRecorder) Write(b []byte) (int, error) {
	if ar.status == 0 {
		ar.status = http.StatusOK
	}
	n, err := ar.ResponseWriter.Write(b)
	ar.bytes += n
	return n, err
}

func (ar *accessRecorder) statusCode() int {
	if ar.status == 0 {
		return http.StatusOK
	}
	return ar.status
}

// logUserKey はセッションミドルウェアが認証済みユーザーIDを書き戻す領域のキー。
var logUserKey = contextKey("log_user_id")

// NewLoggingMiddleware はアクセスログを1リクエスト1行のJSONで出力するミドルウェアを返す。
//
// 本棚のパスはユーザーIDを含むため、chiのルートパターンを route として別に出す。
// 5xxはError、4xxはWarnで記録する。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &accessRecorder{ResponseWriter: w}

			var sessionUser string
			r = r.WithContext(context.WithValue(r.Context(), logUserKey, &sessionUser))

			next.ServeHTTP(rec, r)

			status := rec.statusCode()
			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", rec.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if route := routePattern(r); route != "" {
				args = append(args, slog.String("route", route))
			}
			if userID := loggedUserID(r.Context(), sessionUser); userID != "" {
				args = append(args, slog.String("user_id", userID))
			}

			logger.Log(r.Context(), accessLevel(status), "http_request", args...)
		})
	}
}

// routePattern はchiがマッチしたルートパターンを返す。chi配下でなければ空文字。
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}

func loggedUserID(ctx context.Context, sessionUser string) string {
	if userID, err := UserIDFromContext(ctx); err == nil && userID != "" {
		return userID
	}
	return sessionUser
}

func accessLevel(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
