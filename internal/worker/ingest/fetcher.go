package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/shelfmate/internal/metrics"
	"github.com/hitoshi/shelfmate/internal/model"
)

// SourceStateUpdater は取り込み元のフェッチ状態を保存するインターフェース。
type SourceStateUpdater interface {
	UpdateFetchState(ctx context.Context, src *model.CatalogSource) error
}

// BookUpserter は書籍をsource_guidでUPSERTするインターフェース。
type BookUpserter interface {
	UpsertBySourceGUID(ctx context.Context, book *model.Book) (bool, error)
}

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// FetcherConfig はFetcherの動作設定。
type FetcherConfig struct {
	Timeout     time.Duration
	MaxBodySize int64
	// Interval は成功時の次回フェッチまでの間隔。
	Interval time.Duration
}

// Fetcher は取り込み元1件のHTTPフェッチ、パース、書籍UPSERTを行う。
// ETag/Last-Modifiedによる条件付きGETとSSRF検証を行う。
type Fetcher struct {
	sources   SourceStateUpdater
	books     BookUpserter
	converter *Converter
	ssrfGuard SSRFValidator
	metrics   metrics.IngestCollector
	logger    *slog.Logger
	cfg       FetcherConfig
	now       func() time.Time
}

// NewFetcher はFetcherを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewFetcher(
	sources SourceStateUpdater,
	books BookUpserter,
	converter *Converter,
	ssrfGuard SSRFValidator,
	collector metrics.IngestCollector,
	logger *slog.Logger,
	cfg FetcherConfig,
) *Fetcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 5 << 20
	}
	if collector == nil {
		collector = nopCollector{}
	}
	return &Fetcher{
		sources:   sources,
		books:     books,
		converter: converter,
		ssrfGuard: ssrfGuard,
		metrics:   collector,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Fetch は取り込み元をフェッチし、結果に応じてフェッチ状態を更新する。
func (f *Fetcher) Fetch(ctx context.Context, src *model.CatalogSource) error {
	start := f.now()

	if err := f.ssrfGuard.ValidateURL(src.FeedURL); err != nil {
		f.logger.Error("SSRF検証に失敗しました",
			slog.String("source_id", src.ID),
			slog.String("feed_url", src.FeedURL),
			slog.String("error", err.Error()),
		)
		ApplyStop(src, fmt.Sprintf("SSRF検証失敗: %s", err.Error()), f.now())
		f.metrics.RecordFetchFailure(src.ID, "ssrf")
		f.saveState(ctx, src)
		return fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	client := f.ssrfGuard.NewSafeClient(f.cfg.Timeout, f.cfg.MaxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.FeedURL, nil)
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", "Shelfmate/1.0 Catalog Ingest")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	if src.ETag != "" {
		req.Header.Set("If-None-Match", src.ETag)
	}
	if src.LastModified != "" {
		req.Header.Set("If-Modified-Since", src.LastModified)
	}

	resp, err := client.Do(req)
	if err != nil {
		f.logger.Error("HTTPリクエストに失敗しました",
			slog.String("source_id", src.ID),
			slog.String("feed_url", src.FeedURL),
			slog.String("error", err.Error()),
		)
		ApplyBackoff(src, fmt.Sprintf("HTTPリクエスト失敗: %s", err.Error()), f.now())
		f.metrics.RecordFetchFailure(src.ID, "transport")
		f.saveState(ctx, src)
		return fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	f.metrics.RecordHTTPStatus(resp.StatusCode)
	f.metrics.RecordFetchLatency(f.now().Sub(start))

	result := ClassifyHTTPStatus(resp.StatusCode)
	switch result {
	case FetchResultNotModified:
		f.logger.Info("取り込み元は未変更です（304）",
			slog.String("source_id", src.ID),
			slog.Int("http_status", resp.StatusCode),
		)
		ApplySuccess(src, f.cfg.Interval, f.now())
		f.metrics.RecordFetchSuccess(src.ID)
		return f.sources.UpdateFetchState(ctx, src)

	case FetchResultStop:
		reason := fmt.Sprintf("HTTPステータス %d によりフェッチを停止しました", resp.StatusCode)
		f.logger.Warn("取り込みを停止します",
			slog.String("source_id", src.ID),
			slog.String("feed_url", src.FeedURL),
			slog.Int("http_status", resp.StatusCode),
		)
		ApplyStop(src, reason, f.now())
		f.metrics.RecordFetchFailure(src.ID, result.String())
		return f.sources.UpdateFetchState(ctx, src)

	case FetchResultOK:
		// 以下で処理を続行
	default:
		reason := fmt.Sprintf("HTTPステータス %d によりバックオフを適用しました", resp.StatusCode)
		f.logger.Warn("取り込みにバックオフを適用します",
			slog.String("source_id", src.ID),
			slog.Int("http_status", resp.StatusCode),
			slog.Int("consecutive_errors", src.ConsecutiveErrors+1),
		)
		ApplyBackoff(src, reason, f.now())
		f.metrics.RecordFetchFailure(src.ID, result.String())
		return f.sources.UpdateFetchState(ctx, src)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodySize))
	if err != nil {
		ApplyBackoff(src, fmt.Sprintf("レスポンス読み取り失敗: %s", err.Error()), f.now())
		f.metrics.RecordFetchFailure(src.ID, "read")
		return f.sources.UpdateFetchState(ctx, src)
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		src.ETag = etag
	}
	if lastMod := resp.Header.Get("Last-Modified"); lastMod != "" {
		src.LastModified = lastMod
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		f.logger.Error("フィードのパースに失敗しました",
			slog.String("source_id", src.ID),
			slog.String("feed_url", src.FeedURL),
			slog.String("error", err.Error()),
		)
		ApplyParseFailure(src, err.Error(), f.cfg.Interval, f.now())
		f.metrics.RecordParseFailure(src.ID)
		f.saveState(ctx, src)
		return nil
	}

	if parsed.Title != "" {
		src.Title = parsed.Title
	}

	books := f.converter.Convert(parsed)
	inserted, updated, err := f.upsert(ctx, books)
	if err != nil {
		f.logger.Error("書籍のUPSERTに失敗しました",
			slog.String("source_id", src.ID),
			slog.String("error", err.Error()),
		)
		ApplyBackoff(src, fmt.Sprintf("書籍UPSERT失敗: %s", err.Error()), f.now())
		f.metrics.RecordFetchFailure(src.ID, "upsert")
		f.saveState(ctx, src)
		return err
	}
	f.metrics.RecordBooksUpserted(inserted + updated)

	ApplySuccess(src, f.cfg.Interval, f.now())
	f.metrics.RecordFetchSuccess(src.ID)
	if err := f.sources.UpdateFetchState(ctx, src); err != nil {
		return err
	}

	f.logger.Info("取り込みが完了しました",
		slog.String("source_id", src.ID),
		slog.String("feed_url", src.FeedURL),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("books_inserted", inserted),
		slog.Int("books_updated", updated),
		slog.Int("items_total", len(parsed.Items)),
		slog.Float64("duration_ms", float64(f.now().Sub(start).Milliseconds())),
	)
	return nil
}

// upsert は書籍を順にUPSERTし、新規作成数と更新数を返す。
func (f *Fetcher) upsert(ctx context.Context, books []*model.Book) (int, int, error) {
	var inserted, updated int
	for _, b := range books {
		created, err := f.books.UpsertBySourceGUID(ctx, b)
		if err != nil {
			return inserted, updated, fmt.Errorf("source_guid %s: %w", b.SourceGUID, err)
		}
		if created {
			inserted++
		} else {
			updated++
		}
	}
	return inserted, updated, nil
}

// saveState はフェッチ状態を保存する。失敗はログのみに記録する。
func (f *Fetcher) saveState(ctx context.Context, src *model.CatalogSource) {
	if err := f.sources.UpdateFetchState(ctx, src); err != nil {
		f.logger.Error("取り込み元の状態更新に失敗しました",
			slog.String("source_id", src.ID),
			slog.String("error", err.Error()),
		)
	}
}

type nopCollector struct{}

func (nopCollector) RecordFetchSuccess(string) {}
func (nopCollector) RecordFetchFailure(string, string) {}
func (nopCollector) RecordParseFailure(string) {}
func (nopCollector) RecordHTTPStatus(int) {}
func (nopCollector) RecordFetchLatency(time.Duration) {}
func (nopCollector) RecordBooksUpserted(int) {}
