// Package client はshelfmate REST APIのクライアントを提供する。
//
// Clientはshelf.Storeとshelf.BookFinderを実装するため、CLIはサーバーと同じ
// shelf.Controllerを使って本棚の状態遷移と競合解決を行える。
// レスポンスはdtoのvalidateタグで検証してからドメインモデルに変換する。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/shelfmate/internal/model"
	"github.com/hitoshi/shelfmate/internal/validation"
)

const (
	// DefaultBaseURL はAPIの既定のホスト。
	DefaultBaseURL = "http://localhost:8000"

	defaultTimeout     = 15 * time.Second
	defaultMaxAttempts = 3
	defaultBackoff     = 100 * time.Millisecond
	maxResponseSize    = 4 << 20
	userAgent          = "shelfmatectl/1.0"
)

// Session はAPIの接続先と認証情報。
// UserIDが空の場合は最初に必要になった時点でプロフィールから解決する。
type Session struct {
	BaseURL string
	Token   string
	UserID  string
}

// Options はClientの動作設定。ゼロ値のフィールドには既定値を使用する。
type Options struct {
	HTTPClient  *http.Client
	Logger      *slog.Logger
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// Client はREST APIのクライアント。複数のgoroutineから安全に使用できる。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	validator   *validation.Validator
	baseURL     string
	token       string
	maxAttempts int
	backoff     time.Duration

	mu       sync.Mutex
	userID   string
	group    singleflight.Group
	authWarn sync.Once
}

// New はClientを生成する。
func New(session Session, opts Options) *Client {
	baseURL := strings.TrimRight(session.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	return &Client{
		httpClient:  httpClient,
		logger:      logger,
		validator:   validation.New(),
		baseURL:     baseURL,
		token:       session.Token,
		maxAttempts: attempts,
		backoff:     backoff,
		userID:      session.UserID,
	}
}

// UserID はセッションのユーザーIDを返す。
// 未設定の場合はGET /user/profileで解決し、以降はキャッシュする。
// 同時に呼び出されてもプロフィールの取得は1回にまとめる。
func (c *Client) UserID(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.userID
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}

	v, err, _ := c.group.Do("user_id", func() (any, error) {
		user, err := c.Profile(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.userID = user.ID
		c.mu.Unlock()
		return user.ID, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// getJSON はGETリクエストを送信してoutにデコードする。
func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, q, nil, out)
}

// do はリクエストを送信し、レスポンスをoutにデコードして検証する。
// GETは冪等なので、通信エラーと5xxの場合に指数バックオフでリトライする。
func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts = c.maxAttempts
	}

	delay := c.backoff
	for attempt := 1; ; attempt++ {
		err := c.once(ctx, method, path, q, body, out)
		if err == nil || attempt >= attempts || !retryable(err) {
			return err
		}
		c.logger.Debug("retrying request",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		delay *= 2
	}
}

func (c *Client) once(ctx context.Context, method, path string, q url.Values, body []byte, out any) error {
	reqURL := c.baseURL + path
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else {
		c.authWarn.Do(func() {
			c.logger.Warn("sending requests without credentials",
				slog.String("path", path),
				slog.String("error", ErrAuthMissing.Error()),
			)
		})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: method, URL: reqURL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &TransportError{Op: method, URL: reqURL, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		respErr := decodeError(resp.StatusCode, data)
		c.logger.Debug("api error response",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("code", respErr.APIError.Code),
		)
		return respErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrInvalidResponse, method, path, err)
	}
	if err := c.validate(out); err != nil {
		return fmt.Errorf("%w: %s %s: %s", ErrInvalidResponse, method, path, violations(err))
	}
	return nil
}

// validate はデコード済みのレスポンスを検証する。スライスは要素ごとに検証する。
func (c *Client) validate(out any) error {
	v := reflect.ValueOf(out)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		return c.validator.Validate(v.Addr().Interface())
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			if err := c.validate(v.Index(i).Addr().Interface()); err != nil {
				return fmt.Errorf("[%d] %s", i, violations(err))
			}
		}
	}
	return nil
}

// violations は検証エラーのフィールドごとの違反を1行にまとめる。
func violations(err error) string {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || len(apiErr.Details) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(apiErr.Details))
	for _, field := range slices.Sorted(maps.Keys(apiErr.Details)) {
		parts = append(parts, field+" "+apiErr.Details[field])
	}
	return strings.Join(parts, ", ")
}

func retryable(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode >= http.StatusInternalServerError
	}
	return false
}
