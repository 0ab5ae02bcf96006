package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/shelfmate/internal/dto"
	"github.com/hitoshi/shelfmate/internal/model"
)

// RecsServiceInterface は推薦ハンドラーが必要とする推薦サービスのインターフェース。
type RecsServiceInterface interface {
	Recommendations(ctx context.Context, userID string, refreshCount int) ([]dto.Recommendation, error)
	OnboardingRecommendations(ctx context.Context, userID string, genres []string) ([]dto.Recommendation, error)
}

// GenreSaver はオンボーディングのジャンルを保存するインターフェース。
type GenreSaver interface {
	SaveGenres(ctx context.Context, userID string, genres []string) ([]string, error)
}

// RecsHandler は外部推薦サービスへの転送ハンドラー。
type RecsHandler struct {
	service   RecsServiceInterface
	genres    GenreSaver
	validator RequestValidator
}

// NewRecsHandler はRecsHandlerを生成する。
func NewRecsHandler(service RecsServiceInterface, genres GenreSaver, validator RequestValidator) *RecsHandler {
	return &RecsHandler{service: service, genres: genres, validator: validator}
}

// Recommendations はユーザーの推薦一覧を返す。
// GET /recs/api/user/{userId}/recommendations?refresh_count=
func (h *RecsHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireSelf(w, r)
	if !ok {
		return
	}

	refresh := 0
	if raw := r.URL.Query().Get("refresh_count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidArgumentError("refresh_countは0以上の整数で指定してください。"))
			return
		}
		refresh = n
	}

	recs, err := h.service.Recommendations(r.Context(), userID, refresh)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// Onboarding はジャンルを保存してから、そのジャンルに基づく推薦を返す。
// POST /recs/api/user/onboarding/recommendations
func (h *RecsHandler) Onboarding(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req dto.GenresRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	genres, err := h.genres.SaveGenres(r.Context(), userID, req.Genres)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	recs, err := h.service.OnboardingRecommendations(r.Context(), userID, genres)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}
