package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/shelfmate/internal/dto"
	"github.com/hitoshi/shelfmate/internal/model"
	"github.com/hitoshi/shelfmate/internal/shelf"
	"github.com/hitoshi/shelfmate/internal/validation"
)

// mockShelfService はShelfServiceInterfaceのモック実装。
type mockShelfService struct {
	describeFn       func(ctx context.Context, userID, bookID string) (*shelf.EntryView, error)
	setStatusFn      func(ctx context.Context, req shelf.SetStatusRequest) (*model.ShelfEntry, error)
	updateProgressFn func(ctx context.Context, userID, bookID string, page int) (*shelf.ProgressResult, error)
	completeBookFn   func(ctx context.Context, userID, bookID string, finalPage int) (*model.ShelfEntry, error)
	rateBookFn       func(ctx context.Context, userID, bookID string, rating model.Rating) (*model.ShelfEntry, error)
	deleteEntryFn    func(ctx context.Context, userID, bookID string) (bool, error)
	shelfFn          func(ctx context.Context, userID string, status model.ShelfStatus) ([]model.ShelvedBook, error)
	lastReadFn       func(ctx context.Context, userID string) (*model.ShelvedBook, error)
	snapshotFn       func(ctx context.Context, userID string) (*model.ShelfSnapshot, error)
}

func (m *mockShelfService) Describe(ctx context.Context, userID, bookID string) (*shelf.EntryView, error) {
	return m.describeFn(ctx, userID, bookID)
}

func (m *mockShelfService) SetStatus(ctx context.Context, req shelf.SetStatusRequest) (*model.ShelfEntry, error) {
	return m.setStatusFn(ctx, req)
}

func (m *mockShelfService) UpdateProgress(ctx context.Context, userID, bookID string, page int) (*shelf.ProgressResult, error) {
	return m.updateProgressFn(ctx, userID, bookID, page)
}

func (m *mockShelfService) CompleteBook(ctx context.Context, userID, bookID string, finalPage int) (*model.ShelfEntry, error) {
	return m.completeBookFn(ctx, userID, bookID, finalPage)
}

func (m *mockShelfService) RateBook(ctx context.Context, userID, bookID string, rating model.Rating) (*model.ShelfEntry, error) {
	return m.rateBookFn(ctx, userID, bookID, rating)
}

func (m *mockShelfService) DeleteEntry(ctx context.Context, userID, bookID string) (bool, error) {
	return m.deleteEntryFn(ctx, userID, bookID)
}

func (m *mockShelfService) Shelf(ctx context.Context, userID string, status model.ShelfStatus) ([]model.ShelvedBook, error) {
	return m.shelfFn(ctx, userID, status)
}

func (m *mockShelfService) LastRead(ctx context.Context, userID string) (*model.ShelvedBook, error) {
	return m.lastReadFn(ctx, userID)
}

func (m *mockShelfService) Snapshot(ctx context.Context, userID string) (*model.ShelfSnapshot, error) {
	return m.snapshotFn(ctx, userID)
}

var _ ShelfServiceInterface = (*mockShelfService)(nil)

const shelfUser = "user-123"

func newShelfRequest(method, target, body string, params ...string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req = withChiURLParams(req, append([]string{"userId", shelfUser}, params...)...)
	return withUserID(req, shelfUser)
}

func intPtr(n int) *int { return &n }

// --- GET status ---

func TestShelfHandler_GetStatus_NoStatus(t *testing.T) {
	svc := &mockShelfService{
		describeFn: func(ctx context.Context, userID, bookID string) (*shelf.EntryView, error) {
			return &shelf.EntryView{BookID: bookID, Status: model.StatusNone, PageCount: 300}, nil
		},
	}
	h := NewShelfHandler(svc, validation.New())

	w := httptest.NewRecorder()
	h.GetStatus(w, newShelfRequest(http.MethodGet, "/", "", "bookId", "book-1"))

	require.Equal(t, http.StatusOK, w.Code)
	var got dto.StatusView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "book-1", got.BookID)
	assert.Equal(t, "no-status", got.Status)
	assert.Equal(t, 300, got.PageCount)
}

func TestShelfHandler_OtherUser_ReturnsForbidden(t *testing.T) {
	h := NewShelfHandler(&mockShelfService{}, validation.New())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = withChiURLParams(req, "userId", "someone-else", "bookId", "book-1")
	req = withUserID(req, shelfUser)
	w := httptest.NewRecorder()

	h.GetStatus(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, model.ErrCodeForbidden, parseAPIErrorResponse(t, w).Code)
}

func TestShelfHandler_NoSession_ReturnsUnauthorized(t *testing.T) {
	h := NewShelfHandler(&mockShelfService{}, validation.New())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = withChiURLParams(req, "userId", shelfUser)
	w := httptest.NewRecorder()

	h.Snapshot(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestShelfHandler_GetStatus_UnknownBook(t *testing.T) {
	svc := &mockShelfService{
		describeFn: func(ctx context.Context, userID, bookID string) (*shelf.EntryView, error) {
			return nil, model.NewBookNotFoundError(bookID)
		},
	}
	h := NewShelfHandler(svc, validation.New())

	w := httptest.NewRecorder()
	h.GetStatus(w, newShelfRequest(http.MethodGet, "/", "", "bookId", "missing"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, model.ErrCodeBookNotFound, parseAPIErrorResponse(t, w).Code)
}

// --- POST bookshelf ---

func TestShelfHandler_AddToShelf_Created(t *testing.T) {
	var got shelf.SetStatusRequest
	svc := &mockShelfService{
		setStatusFn: func(ctx context.Context, req shelf.SetStatusRequest) (*model.ShelfEntry, error) {
			got = req
			return &model.ShelfEntry{ID: "e1", UserID: req.UserID, BookID: req.BookID, Status: req.Status, Rating: req.Rating}, nil
		},
	}
	h := NewShelfHandler(svc, validation.New())

	w := httptest.NewRecorder()
	h.AddToShelf(w, newShelfRequest(http.MethodPost, "/", `{"book_id":"book-1","status":"read","rating":"pos"}`))

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, shelfUser, got.UserID)
	assert.Equal(t, model.StatusRead, got.Status)
	assert.Equal(t, model.RatingPositive, got.Rating)
	assert.False(t, got.ReplaceCurrent)

	var entry dto.ShelfEntry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&entry))
	assert.Equal(t, "read", entry.Status)
	assert.Equal(t, "pos", entry.Rating)
}

func TestShelfHandler_AddToShelf_Conflict(t *testing.T) {
	svc := &mockShelfService{
		setStatusFn: func(ctx context.Context, req shelf.SetStatusRequest) (*model.ShelfEntry, error) {
			return nil, model.NewCurrentlyReadingConflictError("book-a", "Book A")
		},
	}
	h := NewShelfHandler(svc, validation.New())

	w := httptest.NewRecorder()
	h.AddToShelf(w, newShelfRequest(http.MethodPost, "/", `{"book_id":"book-b","status":"currently-reading"}`))

	require.Equal(t, http.StatusConflict, w.Code)
	body := parseAPIErrorResponse(t, w)
	assert.Equal(t, model.ErrCodeCurrentlyReadingConflict, body.Code)
	assert.Equal(t, "Book A", body.Details["title"])
	assert.Equal(t, "book-a", body.Details["book_id"])
}

func TestShelfHandler_AddToShelf_ReplaceCurrentForwarded(t *testing.T) {
	var replace bool
	svc := &mockShelfService{
		setStatusFn: func(ctx context.Context, req shelf.SetStatusRequest) (*model.ShelfEntry, error) {
			replace = req.ReplaceCurrent
			return &model.ShelfEntry{UserID: req.UserID, BookID: req.BookID, Status: req.Status}, nil
		},
	}
	h := NewShelfHandler(svc, validation.New())

	w := httptest.NewRecorder()
	h.AddToShelf(w, newShelfRequest(http.MethodPost, "/", `{"book_id":"book-b","status":"currently-reading","replace_current":true}`))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, replace)
}

func TestShelfHandler_AddToShelf_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing book", `{"status":"to-read"}`},
		{"no-status is not shelvable", `{"book_id":"b","status":"no-status"}`},
		{"unknown status", `{"book_id":"b","status":"finished"}`},
		{"unknown rating", `{"book_id":"b","status":"read","rating":"great"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockShelfService{
				setStatusFn: func(ctx context.Context, req shelf.SetStatusRequest) (*model.ShelfEntry, error) {
					t.Error("service should not be called")
					return nil, nil
				},
			}
			h := NewShelfHandler(svc, validation.New())

			w := httptest.NewRecorder()
			h.AddToShelf(w, newShelfRequest(http.MethodPost, "/", tt.body))

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestShelfHandler_AddToShelf_RatingIgnoredUnlessRead(t *testing.T) {
	for _, status := range []string{"to-read", "currently-reading"} {
		t.Run(status, func(t *testing.T) {
			var got shelf.SetStatusRequest
			svc := &mockShelfService{
				setStatusFn: func(ctx context.Context, req shelf.SetStatusRequest) (*model.ShelfEntry, error) {
					got = req
					return &model.ShelfEntry{UserID: req.UserID, BookID: req.BookID, Status: req.Status}, nil
				},
			}
			h := NewShelfHandler(svc, validation.New())

			w := httptest.NewRecorder()
			h.AddToShelf(w, newShelfRequest(http.MethodPost, "/", `{"book_id":"book-1","status":"`+status+`","rating":"great"}`))

			require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
			assert.Equal(t, model.RatingNone, got.Rating)
		})
	}
}

func TestShelfHandler_AddToShelf_StorageUnavailable(t *testing.T) {
	svc := &mockShelfService{
		setStatusFn: func(ctx context.Context, req shelf.SetStatusRequest) (*model.ShelfEntry, error) {
			return nil, model.NewStorageUnavailableError()
		},
	}
	h := NewShelfHandler(svc, validation.New())

	w := httptest.NewRecorder()
	h.AddToShelf(w, newShelfRequest(http.MethodPost, "/", `{"book_id":"book-1","status":"to-read"}`))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, model.ErrCodeStorageUnavailable, parseAPIErrorResponse(t, w).Code)
}

// --- PUT current-page ---

func TestShelfHandler_UpdateProgress_Completed(t *testing.T) {
	finished := time.Now()
	svc := &mockShelfService{
		updateProgressFn: func(ctx context.Context, userID, bookID string, page int) (*shelf.ProgressResult, error) {
			assert.Equal(t, 300, page)
			return &shelf.ProgressResult{
				Entry:     &model.ShelfEntry{UserID: userID, BookID: bookID, Status: model.StatusRead, DateFinished: &finished},
				Percent:   100,
				Completed: true,
			}, nil
		},
	}
	h := NewShelfHandler(svc, validation.New())

	w := httptest.NewRecorder()
	h.UpdateProgress(w, newShelfRequest(http.MethodPut, "/", `{"page_number":300}`, "bookId", "book-1"))

	require.Equal(t, http.StatusOK, w.Code)
	var got dto.ProgressResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.True(t, got.Completed)
	assert.Equal(t, 100, got.Percent)
	require.NotNil(t, got.Entry)
	assert.Equal(t, "read", got.Entry.Status)
}

func TestShelfHandler_UpdateProgress_ZeroPageIsAccepted(t *testing.T) {
	svc := &mockShelfService{
		updateProgressFn: func(ctx context.Context, userID, bookID string, page int) (*shelf.ProgressResult, error) {
			return &shelf.ProgressResult{
				Entry: &model.ShelfEntry{UserID: userID, BookID: bookID, Status: model.StatusCurrentlyReading, CurrentPage: intPtr(page)},
			}, nil
		},
	}
	h := NewShelfHandler(svc, validation.New())

	w := httptest.NewRecorder()
	h.UpdateProgress(w, newShelfRequest(http.MethodPut, "/", `{"page_number":0}`, "bookId", "book-1"))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestShelfHandler_UpdateProgress_MissingPage(t *testing.T) {
	h := NewShelfHandler(&mockShelfService{}, validation.New())

	w := httptest.NewRecorder()
	h.UpdateProgress(w, newShelfRequest(http.MethodPut, "/", `{}`, "bookId", "book-1"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := parseAPIErrorResponse(t, w)
	assert.Equal(t, model.ErrCodeValidationFailed, body.Code)
	assert.Contains(t, body.Details, "page_number")
}

func TestShelfHandler_UpdateProgress_MissingPageWithoutValidator(t *testing.T) {
	svc := &mockShelfService{
		updateProgressFn: func(ctx context.Context, userID, bookID string, page int) (*shelf.ProgressResult, error) {
			t.Error("service should not be called")
			return nil, nil
		},
	}
	h := NewShelfHandler(svc, nil)

	w := httptest.NewRecorder()
	h.UpdateProgress(w, newShelfRequest(http.MethodPut, "/", `{}`, "bookId", "book-1"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, model.ErrCodeInvalidArgument, parseAPIErrorResponse(t, w).Code)
}

func TestShelfHandler_UpdateProgress_OutOfRange(t *testing.T) {
	svc := &mockShelfService{
		updateProgressFn: func(ctx context.Context, userID, bookID string, page int) (*shelf.ProgressResult, error) {
			return nil, model.NewInvalidArgumentError("page_number out of range")
		},
	}
	h := NewShelfHandler(svc, validation.New())

	w := httptest.NewRecorder()
	h.UpdateProgress(w, newShelfRequest(http.MethodPut, "/", `{"page_number":999}`, "bookId", "book-1"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, model.ErrCodeInvalidArgument, parseAPIErrorResponse(t, w).Code)
}

// --- PUT status ---

func TestShelfHandler_UpdateStatus_ReadCompletesThenRates(t *testing.T) {
	var calls []string
	svc := &mockShelfService{
		completeBookFn: func(ctx context.Context, userID, bookID string, finalPage int) (*model.ShelfEntry, error) {
			calls = append(calls, "complete")
			assert.Equal(t, 280, finalPage)
			return &model.ShelfEntry{UserID: userID, BookID: bookID, Status: model.StatusRead}, nil
		},
		rateBookFn: func(ctx context.Context, userID, bookID string, rating model.Rating) (*model.ShelfEntry, error) {
			calls = append(calls, "rate")
			return &model.ShelfEntry{UserID: userID, BookID: bookID, Status: model.StatusRead, Rating: rating}, nil
		},
	}
	h := NewShelfHandler(svc, validation.New())

	w := httptest.NewRecorder()
	h.UpdateStatus(w, newShelfRequest(http.MethodPut, "/", `{"status":"read","final_page":280,"rating":"mid"}`, "bookId", "book-1"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"complete", "rate"}, calls)
	var entry dto.ShelfEntry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&entry))
	assert.Equal(t, "mid", entry.Rating)
}

func TestShelfHandler_UpdateStatus_OtherStatusUsesSetStatus(t *testing.T) {
	svc := &mockShelfService{
		setStatusFn: func(ctx context.Context, req shelf.SetStatusRequest) (*model.ShelfEntry, error) {
			assert.Equal(t, "book-1", req.BookID)
			assert.False(t, req.ReplaceCurrent)
			return &model.ShelfEntry{UserID: req.UserID, BookID: req.BookID, Status: req.Status}, nil
		},
	}
	h := NewShelfHandler(svc, validation.New())

	w := httptest.NewRecorder()
	h.UpdateStatus(w, newShelfRequest(http.MethodPut, "/", `{"status":"to-read"}`, "bookId", "book-1"))

	assert.Equal(t, http.StatusOK, w.Code)
}

// --- PUT rating ---

func TestShelfHandler_UpdateRating_NotRead(t *testing.T) {
	svc := &mockShelfService{
		rateBookFn: func(ctx context.Context, userID, bookID string, rating model.Rating) (*model.ShelfEntry, error) {
			return nil, model.NewInvalidStateError("book is not read")
		},
	}
	h := NewShelfHandler(svc, validation.New())

	w := httptest.NewRecorder()
	h.UpdateRating(w, newShelfRequest(http.MethodPut, "/", `{"rating":"neg"}`, "bookId", "book-1"))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, model.ErrCodeInvalidState, parseAPIErrorResponse(t, w).Code)
}

func TestShelfHandler_UpdateRating_EmptyRating(t *testing.T) {
	h := NewShelfHandler(&mockShelfService{}, validation.New())

	w := httptest.NewRecorder()
	h.UpdateRating(w, newShelfRequest(http.MethodPut, "/", `{"rating":""}`, "bookId", "book-1"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, model.ErrCodeInvalidRating, parseAPIErrorResponse(t, w).Code)
}

// --- DELETE ---

func TestShelfHandler_DeleteEntry(t *testing.T) {
	for _, deleted := range []bool{true, false} {
		svc := &mockShelfService{
			deleteEntryFn: func(ctx context.Context, userID, bookID string) (bool, error) {
				return deleted, nil
			},
		}
		h := NewShelfHandler(svc, validation.New())

		w := httptest.NewRecorder()
		h.DeleteEntry(w, newShelfRequest(http.MethodDelete, "/", "", "bookId", "book-1"))

		require.Equal(t, http.StatusOK, w.Code)
		var got dto.DeleteResult
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, deleted, got.Deleted)
	}
}

// --- GET books ---

func TestShelfHandler_ListShelf(t *testing.T) {
	svc := &mockShelfService{
		shelfFn: func(ctx context.Context, userID string, status model.ShelfStatus) ([]model.ShelvedBook, error) {
			assert.Equal(t, model.StatusToRead, status)
			return []model.ShelvedBook{{
				Book:  model.Book{ID: "book-1", Title: "Book One"},
				Entry: model.ShelfEntry{UserID: userID, BookID: "book-1", Status: status},
			}}, nil
		},
	}
	h := NewShelfHandler(svc, validation.New())

	w := httptest.NewRecorder()
	h.ListShelf(w, newShelfRequest(http.MethodGet, "/", "", "shelf", "to-read"))

	require.Equal(t, http.StatusOK, w.Code)
	var got []dto.ShelvedBook
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "Book One", got[0].Book.Title)
}

func TestShelfHandler_ListShelf_UnknownShelf(t *testing.T) {
	h := NewShelfHandler(&mockShelfService{}, validation.New())

	w := httptest.NewRecorder()
	h.ListShelf(w, newShelfRequest(http.MethodGet, "/", "", "shelf", "favourites"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, model.ErrCodeInvalidStatus, parseAPIErrorResponse(t, w).Code)
}

func TestShelfHandler_LastRead(t *testing.T) {
	finished := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := &mockShelfService{
		lastReadFn: func(ctx context.Context, userID string) (*model.ShelvedBook, error) {
			return &model.ShelvedBook{
				Book:  model.Book{ID: "book-1", Title: "Book One"},
				Entry: model.ShelfEntry{Status: model.StatusRead, Rating: model.RatingPositive, DateFinished: &finished},
			}, nil
		},
	}
	h := NewShelfHandler(svc, validation.New())

	w := httptest.NewRecorder()
	h.LastRead(w, newShelfRequest(http.MethodGet, "/", ""))

	require.Equal(t, http.StatusOK, w.Code)
	var got dto.LastRead
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "book-1", got.Book.ID)
	assert.Equal(t, "pos", got.Rating)
	assert.True(t, finished.Equal(got.DateFinished))
}

func TestShelfHandler_LastRead_NoBooks(t *testing.T) {
	svc := &mockShelfService{
		lastReadFn: func(ctx context.Context, userID string) (*model.ShelvedBook, error) {
			return nil, model.NewNoBooksFoundError("no finished books")
		},
	}
	h := NewShelfHandler(svc, validation.New())

	w := httptest.NewRecorder()
	h.LastRead(w, newShelfRequest(http.MethodGet, "/", ""))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, model.ErrCodeNoBooksFound, parseAPIErrorResponse(t, w).Code)
}

func TestShelfHandler_Snapshot_InternalError(t *testing.T) {
	svc := &mockShelfService{
		snapshotFn: func(ctx context.Context, userID string) (*model.ShelfSnapshot, error) {
			return nil, errors.New("boom")
		},
	}
	h := NewShelfHandler(svc, validation.New())

	w := httptest.NewRecorder()
	h.Snapshot(w, newShelfRequest(http.MethodGet, "/", ""))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
