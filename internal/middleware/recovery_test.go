package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/shelfmate/internal/model"
)

func TestRecoveryMiddleware_LogsUserIDOfPanickingRequest(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	repo := &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{ID: id, UserID: "user-panic", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}

	// Logging -> Recovery -> Session -> Handler
	inner := NewSessionMiddleware(repo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("shelf exploded")
	}))
	handler := NewLoggingMiddleware(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)))(
		NewRecoveryMiddleware(logger)(inner),
	)

	req := httptest.NewRequest(http.MethodPut, "/shelf/api/user/user-panic/bookshelf/book-a/status", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	var entry map[string]any
	if err := json.Unmarshal(logBuf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log: %v (%s)", err, logBuf.String())
	}
	if entry["msg"] != "panic recovered" {
		t.Errorf("msg = %v, want panic recovered", entry["msg"])
	}
	if entry["user_id"] != "user-panic" {
		t.Errorf("user_id = %v, want user-panic", entry["user_id"])
	}
	if entry["panic"] != "shelf exploded" {
		t.Errorf("panic = %v, want shelf exploded", entry["panic"])
	}
}

func TestRecoveryMiddleware_RepanicsAbortHandler(t *testing.T) {
	handler := NewRecoveryMiddleware(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(http.ErrAbortHandler)
		}),
	)

	defer func() {
		rec := recover()
		if rec != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", rec)
		}
	}()

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/shelf/api/user/u/snapshot", nil))
	t.Fatal("ErrAbortHandler should propagate")
}
