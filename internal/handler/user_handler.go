package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/shelfmate/internal/dto"
	"github.com/hitoshi/shelfmate/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Profile はユーザーのプロフィールを返す。
	Profile(ctx context.Context, userID string) (*model.User, error)
	// UpdateProfile は表示名とプロフィール画像を更新する。
	UpdateProfile(ctx context.Context, userID, name, profilePicture string) (*model.User, error)
	// SaveGenres はオンボーディングで選択したジャンルを保存し、正規化後の一覧を返す。
	SaveGenres(ctx context.Context, userID string, genres []string) ([]string, error)
	// Withdraw はユーザーの退会処理を実行する。
	// 本棚、投稿、コメント、チャット、セッションはユーザーと共に削除される。
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service   UserServiceInterface
	validator RequestValidator
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, validator RequestValidator) *UserHandler {
	return &UserHandler{
		service:   service,
		validator: validator,
	}
}

// Profile はログインユーザーのプロフィールを返す。
// GET /user/profile
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	user, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.FromUser(user))
}

// UpdateProfile は表示名とプロフィール画像を更新する。
// PUT /user/profile
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req dto.UpdateProfileRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), userID, req.Name, req.ProfilePicture)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.FromUser(user))
}

// SaveGenres はオンボーディングで選択したジャンルを保存する。
// POST /user/save-genres
func (h *UserHandler) SaveGenres(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req dto.GenresRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	genres, err := h.service.SaveGenres(r.Context(), userID, req.Genres)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.GenresRequest{Genres: genres})
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetupUserRoutes はユーザー管理関連のルーティングを設定したchi.Routerを返す。
func SetupUserRoutes(service UserServiceInterface, validator RequestValidator) http.Handler {
	r := chi.NewRouter()
	h := NewUserHandler(service, validator)

	r.Route("/user", func(r chi.Router) {
		r.Get("/profile", h.Profile)
		r.Put("/profile", h.UpdateProfile)
		r.Post("/save-genres", h.SaveGenres)
	})
	r.Route("/api/users", func(r chi.Router) {
		r.Delete("/me", h.Withdraw)
	})

	return r
}
