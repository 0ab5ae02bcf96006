// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/shelfmate/internal/dto"
	"github.com/hitoshi/shelfmate/internal/middleware"
	"github.com/hitoshi/shelfmate/internal/model"
)

const (
	oauthStateCookie  = "oauth_state"
	loginClientCookie = "login_client"
	loginFlowMaxAge   = 600

	// loginClientCLI はshelfmatectl用のログイン。コールバックでトークンをJSONで返す。
	loginClientCLI = "cli"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // 秒
}

// AuthHandler はGoogleログインとセッション管理のHTTPハンドラー。
//
// ブラウザにはsession_id Cookieを発行し、shelfmatectlやAccept: application/json
// のクライアントにはBearerトークンとしてdto.SessionTokenを返す。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{service: service, config: config}
}

// mountAuthRoutes は/auth配下のルートを登録する。セッションミドルウェアの外に置く。
func mountAuthRoutes(r chi.Router, h *AuthHandler) {
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", h.Login)
		r.Get("/google/callback", h.Callback)
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
	})
}

// Login はGoogleの認可画面へリダイレクトする。
// GET /auth/google/login[?client=cli]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	http.SetCookie(w, h.cookie(oauthStateCookie, state, loginFlowMaxAge, false))
	if r.URL.Query().Get("client") == loginClientCLI {
		http.SetCookie(w, h.cookie(loginClientCookie, loginClientCLI, loginFlowMaxAge, false))
	}

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback は認可コードをセッションに交換する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if apiErr := verifyState(r); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	cli := isCLILogin(r)
	http.SetCookie(w, h.cookie(oauthStateCookie, "", -1, false))
	if cli {
		http.SetCookie(w, h.cookie(loginClientCookie, "", -1, false))
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidArgumentError("認可コードがありません。"))
		return
	}

	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		handleServiceError(w, err)
		return
	}

	if cli || wantsJSON(r) {
		slog.Info("issued bearer token", slog.String("user_id", session.UserID))
		writeJSON(w, http.StatusOK, dto.SessionToken{
			Token:     session.ID,
			UserID:    session.UserID,
			ExpiresAt: session.ExpiresAt,
		})
		return
	}

	http.SetCookie(w, h.cookie(middleware.SessionCookieName, session.ID, h.config.SessionMaxAge, true))
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄する。BearerトークンとCookieのどちらでも受け付ける。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.SessionToken(r); token != "" {
		if err := h.service.Logout(r.Context(), token); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	if isAPIClient(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.SetCookie(w, h.cookie(middleware.SessionCookieName, "", -1, true))
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Me は現在のユーザーのプロフィールを返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	token := middleware.SessionToken(r)
	if token == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), token)
	if err != nil || user == nil {
		if err != nil {
			slog.Warn("failed to get current user", slog.String("error", err.Error()))
		}
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, dto.FromUser(user))
}

// cookie はHttpOnlyかつSameSite=LaxのCookieを組み立てる。maxAgeが負なら削除用。
// withDomainはセッションCookieのみCookieDomainを付けるために使う。
func (h *AuthHandler) cookie(name, value string, maxAge int, withDomain bool) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if withDomain {
		c.Domain = h.config.CookieDomain
	}
	return c
}

// verifyState はクエリのstateがCookieと一致するか検証する。
func verifyState(r *http.Request) *model.APIError {
	state := r.URL.Query().Get("state")
	c, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || c.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		return model.NewInvalidArgumentError("stateパラメータが一致しません。")
	}
	return nil
}

func isCLILogin(r *http.Request) bool {
	c, err := r.Cookie(loginClientCookie)
	return err == nil && c.Value == loginClientCLI
}

// isAPIClient はBearerトークンかJSON指定のリクエストかを返す。
func isAPIClient(r *http.Request) bool {
	if wantsJSON(r) {
		return true
	}
	scheme, _, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	return ok && strings.EqualFold(scheme, "Bearer")
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
