package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/shelfmate/internal/dto"
	"github.com/hitoshi/shelfmate/internal/model"
	"github.com/hitoshi/shelfmate/internal/shelf"
)

// ShelfServiceInterface は本棚ハンドラーが必要とするサービスインターフェース。
// shelf.Controllerが実装する。
type ShelfServiceInterface interface {
	Describe(ctx context.Context, userID, bookID string) (*shelf.EntryView, error)
	SetStatus(ctx context.Context, req shelf.SetStatusRequest) (*model.ShelfEntry, error)
	UpdateProgress(ctx context.Context, userID, bookID string, page int) (*shelf.ProgressResult, error)
	CompleteBook(ctx context.Context, userID, bookID string, finalPage int) (*model.ShelfEntry, error)
	RateBook(ctx context.Context, userID, bookID string, rating model.Rating) (*model.ShelfEntry, error)
	DeleteEntry(ctx context.Context, userID, bookID string) (bool, error)
	Shelf(ctx context.Context, userID string, status model.ShelfStatus) ([]model.ShelvedBook, error)
	LastRead(ctx context.Context, userID string) (*model.ShelvedBook, error)
	Snapshot(ctx context.Context, userID string) (*model.ShelfSnapshot, error)
}

// ShelfHandler は本棚のHTTPハンドラー。
// 全てのルートで{userId}はセッションのユーザーと一致する必要がある。
type ShelfHandler struct {
	service   ShelfServiceInterface
	validator RequestValidator
}

// NewShelfHandler はShelfHandlerを生成する。
func NewShelfHandler(service ShelfServiceInterface, validator RequestValidator) *ShelfHandler {
	return &ShelfHandler{service: service, validator: validator}
}

// GetStatus は書籍の本棚ステータスと進捗を返す。
// GET /shelf/api/user/{userId}/bookshelf/{bookId}/status
func (h *ShelfHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireSelf(w, r)
	if !ok {
		return
	}

	view, err := h.service.Describe(r.Context(), userID, chi.URLParam(r, "bookId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.StatusView{
		BookID:      view.BookID,
		Status:      string(view.Status),
		Rating:      string(view.Rating),
		CurrentPage: view.CurrentPage,
		PageCount:   view.PageCount,
		Percent:     view.Percent,
	})
}

// AddToShelf は書籍を本棚に置く。
// POST /shelf/api/user/{userId}/bookshelf
func (h *ShelfHandler) AddToShelf(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireSelf(w, r)
	if !ok {
		return
	}

	var req dto.SetStatusRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	status, err := model.ParseShelfStatus(req.Status)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	rating, err := ratingFor(status, req.Rating)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	entry, err := h.service.SetStatus(r.Context(), shelf.SetStatusRequest{
		UserID:         userID,
		BookID:         req.BookID,
		Status:         status,
		Rating:         rating,
		ReplaceCurrent: req.ReplaceCurrent,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.FromShelfEntry(entry))
}

// UpdateStatus は既存書籍のステータスを変更する。statusがreadの場合は読了処理になる。
// PUT /shelf/api/user/{userId}/bookshelf/{bookId}/status
func (h *ShelfHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireSelf(w, r)
	if !ok {
		return
	}
	bookID := chi.URLParam(r, "bookId")

	var req dto.UpdateStatusRequest
	if !decodeJSON(w, r, nil, &req) {
		return
	}
	status, err := model.ParseShelfStatus(req.Status)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	rating, err := ratingFor(status, req.Rating)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	var entry *model.ShelfEntry
	if status == model.StatusRead {
		finalPage := 0
		if req.FinalPage != nil {
			finalPage = *req.FinalPage
		}
		entry, err = h.service.CompleteBook(r.Context(), userID, bookID, finalPage)
		if err == nil && rating.IsSet() {
			entry, err = h.service.RateBook(r.Context(), userID, bookID, rating)
		}
	} else {
		entry, err = h.service.SetStatus(r.Context(), shelf.SetStatusRequest{
			UserID: userID,
			BookID: bookID,
			Status: status,
		})
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.FromShelfEntry(entry))
}

// UpdateProgress は現在のページ数を更新する。総ページ数に達した場合は読了になる。
// PUT /shelf/api/user/{userId}/bookshelf/{bookId}/current-page
func (h *ShelfHandler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireSelf(w, r)
	if !ok {
		return
	}

	var req dto.ProgressRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	if req.PageNumber == nil {
		handleServiceError(w, model.NewInvalidArgumentError("page_number is required"))
		return
	}

	result, err := h.service.UpdateProgress(r.Context(), userID, chi.URLParam(r, "bookId"), *req.PageNumber)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ProgressResult{
		Entry:     dto.FromShelfEntry(result.Entry),
		Percent:   result.Percent,
		Completed: result.Completed,
	})
}

// UpdateRating は読了書籍の評価を更新する。
// PUT /shelf/api/user/{userId}/bookshelf/{bookId}/rating
func (h *ShelfHandler) UpdateRating(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireSelf(w, r)
	if !ok {
		return
	}

	var req dto.RatingRequest
	if !decodeJSON(w, r, nil, &req) {
		return
	}
	rating, err := model.ParseRating(req.Rating)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !rating.IsSet() {
		handleServiceError(w, model.NewInvalidRatingError(req.Rating))
		return
	}

	entry, err := h.service.RateBook(r.Context(), userID, chi.URLParam(r, "bookId"), rating)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.FromShelfEntry(entry))
}

// DeleteEntry は書籍を本棚から外す。エントリがなくてもエラーにしない。
// DELETE /shelf/api/user/{userId}/bookshelf/{bookId}
func (h *ShelfHandler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireSelf(w, r)
	if !ok {
		return
	}

	deleted, err := h.service.DeleteEntry(r.Context(), userID, chi.URLParam(r, "bookId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.DeleteResult{Deleted: deleted})
}

// ListShelf は指定した棚の書籍一覧を返す。
// GET /shelf/api/user/{userId}/books/{shelf}
func (h *ShelfHandler) ListShelf(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireSelf(w, r)
	if !ok {
		return
	}

	status, err := model.ParseShelfStatus(chi.URLParam(r, "shelf"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	books, err := h.service.Shelf(r.Context(), userID, status)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.FromShelvedBooks(books))
}

// LastRead は最後に読了した書籍を評価付きで返す。
// GET /shelf/api/user/{userId}/books/lastread
// GET /chat/user/{userId}/lastread
func (h *ShelfHandler) LastRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireSelf(w, r)
	if !ok {
		return
	}

	sb, err := h.service.LastRead(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := dto.LastRead{
		Book:   *dto.FromBook(&sb.Book),
		Rating: string(sb.Entry.Rating),
	}
	if sb.Entry.DateFinished != nil {
		resp.DateFinished = *sb.Entry.DateFinished
	}
	writeJSON(w, http.StatusOK, resp)
}

// Snapshot はユーザーの本棚全体を返す。
// GET /shelf/api/user/{userId}/snapshot
func (h *ShelfHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireSelf(w, r)
	if !ok {
		return
	}

	snap, err := h.service.Snapshot(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.FromSnapshot(snap))
}

// ratingFor はstatusがreadの場合のみ評価を解釈する。それ以外では無視する。
func ratingFor(status model.ShelfStatus, raw string) (model.Rating, error) {
	if status != model.StatusRead {
		return "", nil
	}
	return model.ParseRating(raw)
}
