package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/shelfmate/internal/model"
)

func newTestClient(t *testing.T, token string, h http.HandlerFunc) (*Client, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := New(Session{BaseURL: srv.URL, Token: token, UserID: "user-1"}, Options{
		Logger:  logger,
		Timeout: time.Second,
		Backoff: time.Millisecond,
	})
	return c, &buf
}

func TestNew_Defaults(t *testing.T) {
	c := New(Session{BaseURL: "http://example.com/"}, Options{})
	assert.Equal(t, "http://example.com", c.baseURL)
	assert.Equal(t, defaultMaxAttempts, c.maxAttempts)
	assert.Equal(t, defaultBackoff, c.backoff)

	c = New(Session{}, Options{})
	assert.Equal(t, DefaultBaseURL, c.baseURL)
}

func TestDo_SendsBearerToken(t *testing.T) {
	c, _ := newTestClient(t, "tok-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		_, _ = io.WriteString(w, `{"id":"user-1","name":"Alice","genres":[]}`)
	})

	user, err := c.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)
}

func TestDo_MissingTokenLogsAndSendsWithoutHeader(t *testing.T) {
	c, buf := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[]`)
	})

	_, err := c.Search(context.Background(), "dune", "")
	require.NoError(t, err)
	_, err = c.Search(context.Background(), "emma", "")
	require.NoError(t, err)

	assert.Contains(t, buf.String(), ErrAuthMissing.Error())
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("sending requests without credentials")))
}

func TestDo_MapsErrorBody(t *testing.T) {
	c, _ := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"code":"CURRENTLY_READING_CONFLICT","message":"別の書籍を読書中です。","category":"shelf","action":"置き換えますか？","details":{"book_id":"book-a","title":"Dune"},"error":"別の書籍を読書中です。"}`)
	})

	_, err := c.Upsert(context.Background(), &model.ShelfEntry{UserID: "user-1", BookID: "book-b", Status: model.StatusCurrentlyReading})
	require.Error(t, err)

	var respErr *ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, http.StatusConflict, respErr.StatusCode)

	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, model.ErrCodeCurrentlyReadingConflict, apiErr.Code)
	assert.Equal(t, "shelf", apiErr.Category)
	assert.Equal(t, "Dune", apiErr.Details["title"])
}

func TestDo_FallbackErrorWithoutBody(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   string
	}{
		{"unauthorized", http.StatusUnauthorized, model.ErrCodeUnauthorized},
		{"forbidden", http.StatusForbidden, model.ErrCodeForbidden},
		{"rate limited", http.StatusTooManyRequests, model.ErrCodeRateLimited},
		{"unavailable", http.StatusServiceUnavailable, model.ErrCodeStorageUnavailable},
		{"teapot", http.StatusTeapot, model.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, "plain text")
			})
			c.maxAttempts = 1

			_, err := c.Profile(context.Background())
			assert.True(t, model.IsCode(err, tt.want), "got %v", err)
		})
	}
}

func TestDo_RetriesIdempotentReads(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"id":"b1","title":"Dune","page_count":400}`)
	})

	book, err := c.Book(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "Dune", book.Title)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Book(context.Background(), "b1")
	assert.True(t, model.IsCode(err, model.ErrCodeStorageUnavailable))
	assert.Equal(t, int32(defaultMaxAttempts), calls.Load())
}

func TestDo_DoesNotRetryWrites(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.SendChat(context.Background(), "b1", "hello")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Book(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Session{BaseURL: url, Token: "tok"}, Options{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Backoff: time.Millisecond,
	})

	_, err := c.Profile(context.Background())
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, http.MethodGet, transportErr.Op)
	assert.True(t, retryable(err))
}

func TestDo_RejectsMalformedPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"missing required id", `{"title":"Dune"}`},
		{"negative page count", `{"id":"b1","title":"Dune","page_count":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.Book(context.Background(), "b1")
			assert.ErrorIs(t, err, ErrInvalidResponse)
			assert.False(t, model.IsCode(err, model.ErrCodeValidationFailed))
		})
	}
}

func TestDo_ValidatesSliceElements(t *testing.T) {
	c, _ := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":"b1","title":"Dune"},{"id":"b2"}]`)
	})

	_, err := c.Search(context.Background(), "d", "title")
	require.ErrorIs(t, err, ErrInvalidResponse)
	assert.Contains(t, err.Error(), "[1]")
	assert.Contains(t, err.Error(), "title is required")
}

func TestUserID_ResolvesOnceFromProfile(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/user/profile", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":"user-9","name":"Bob","genres":[]}`)
	}))
	t.Cleanup(srv.Close)

	c := New(Session{BaseURL: srv.URL, Token: "tok"}, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	for i := 0; i < 3; i++ {
		id, err := c.UserID(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "user-9", id)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestUserID_UsesSessionValue(t *testing.T) {
	c := New(Session{BaseURL: "http://127.0.0.1:1", UserID: "user-1"}, Options{})

	id, err := c.UserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)
}

func TestResponseError_Message(t *testing.T) {
	err := &ResponseError{StatusCode: 404, APIError: model.NewBookNotFoundError("b1")}
	assert.Contains(t, err.Error(), "http 404")
	assert.Contains(t, err.Error(), model.ErrCodeBookNotFound)
}
