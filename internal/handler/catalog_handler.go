package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/shelfmate/internal/dto"
	"github.com/hitoshi/shelfmate/internal/model"
)

// CatalogServiceInterface はカタログハンドラーが必要とするサービスインターフェース。
type CatalogServiceInterface interface {
	Search(ctx context.Context, query, searchType string) ([]*model.Book, error)
	GetBook(ctx context.Context, bookID string) (*model.Book, error)
	RegisterSource(ctx context.Context, inputURL string) (*model.CatalogSource, error)
}

// CatalogHandler はカタログ検索のHTTPハンドラー。
type CatalogHandler struct {
	service   CatalogServiceInterface
	validator RequestValidator
}

// NewCatalogHandler はCatalogHandlerを生成する。
func NewCatalogHandler(service CatalogServiceInterface, validator RequestValidator) *CatalogHandler {
	return &CatalogHandler{service: service, validator: validator}
}

// Search は書籍を検索する。
// GET /api/books?query=&type=any|title|author|isbn
func (h *CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	books, err := h.service.Search(r.Context(), q.Get("query"), q.Get("type"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromBooks(books))
}

// GetBook は書籍詳細を返す。
// GET /api/books/{bookId}
func (h *CatalogHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.GetBook(r.Context(), chi.URLParam(r, "bookId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromBook(book))
}

// RegisterSource は入力URLからカタログフィードを検出して取り込み元に登録する。
// POST /api/catalog/sources
func (h *CatalogHandler) RegisterSource(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	var req dto.RegisterSourceRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	source, err := h.service.RegisterSource(r.Context(), req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromCatalogSource(source))
}
