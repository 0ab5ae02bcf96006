// Package recs は外部の推薦サービスへのクライアントを提供する。
// 推薦アルゴリズム自体は外部サービス側にあり、ここでは要求の転送とレスポンスの検証のみを行う。
package recs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hitoshi/shelfmate/internal/dto"
	"github.com/hitoshi/shelfmate/internal/model"
)

const (
	// maxResponseSize は推薦レスポンスの最大サイズ（1MB）。
	maxResponseSize = 1 << 20
	// defaultTimeout は推薦サービス呼び出しの既定タイムアウト。
	defaultTimeout = 10 * time.Second
)

// Client は推薦サービスのクライアント。
// baseURLが空の場合は全ての呼び出しがRECS_UNAVAILABLEを返す。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
}

// NewClient はClientを生成する。timeoutが0以下の場合は既定値を使用する。
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		baseURL:    baseURL,
	}
}

// Enabled は推薦サービスが設定されているかを返す。
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// Recommendations はユーザーの推薦書籍を順位順に返す。
// refreshCountは推薦の再生成回数で、0の場合はクエリに含めない。
func (c *Client) Recommendations(ctx context.Context, userID string, refreshCount int) ([]dto.Recommendation, error) {
	if !c.Enabled() {
		return nil, model.NewRecsUnavailableError("推薦サービスが設定されていません。")
	}

	q := url.Values{}
	if refreshCount > 0 {
		q.Set("refresh_count", strconv.Itoa(refreshCount))
	}
	path := "/recs/api/user/" + url.PathEscape(userID) + "/recommendations"
	return c.do(ctx, http.MethodGet, path, q, nil)
}

// OnboardingRecommendations はオンボーディングで選択したジャンルに基づく推薦を返す。
func (c *Client) OnboardingRecommendations(ctx context.Context, userID string, genres []string) ([]dto.Recommendation, error) {
	if !c.Enabled() {
		return nil, model.NewRecsUnavailableError("推薦サービスが設定されていません。")
	}

	body, err := json.Marshal(map[string]any{
		"user_id": userID,
		"genres":  genres,
	})
	if err != nil {
		return nil, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/recs/api/user/onboarding/recommendations", nil, body)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte) ([]dto.Recommendation, error) {
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
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Shelfmate/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("推薦サービスの呼び出しに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, model.NewRecsUnavailableError("推薦サービスに接続できませんでした。")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("推薦サービスがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewRecsUnavailableError(fmt.Sprintf("推薦サービスがステータス %d を返しました。", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, model.NewRecsUnavailableError("推薦サービスのレスポンスを読み取れませんでした。")
	}

	books, err := decodeBooks(data)
	if err != nil {
		c.logger.Error("推薦サービスのレスポンスのパースに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, model.NewRecsUnavailableError("推薦サービスのレスポンスが不正です。")
	}
	return books, nil
}

// decodeBooks は書籍の配列、または {"recommendations": [...]} 形式のレスポンスを解釈する。
// book_idを持たない要素は除外する。
func decodeBooks(data []byte) ([]dto.Recommendation, error) {
	var books []dto.Recommendation
	if err := json.Unmarshal(data, &books); err != nil {
		var wrapped struct {
			Recommendations []dto.Recommendation `json:"recommendations"`
		}
		if werr := json.Unmarshal(data, &wrapped); werr != nil {
			return nil, err
		}
		books = wrapped.Recommendations
	}

	out := make([]dto.Recommendation, 0, len(books))
	for _, b := range books {
		if b.BookID == "" {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
