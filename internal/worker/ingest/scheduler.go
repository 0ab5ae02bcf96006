// Package ingest はカタログフィードのバックグラウンド取り込みを提供する。
// スケジューラ、フェッチャー、書籍への変換、リトライ/バックオフ戦略を含む。
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/shelfmate/internal/model"
)

// SourceLister はフェッチ対象の取り込み元を取得するインターフェース。
type SourceLister interface {
	ListDueForFetch(ctx context.Context) ([]*model.CatalogSource, error)
}

// SourceFetcher は取り込み元1件のフェッチを実行するインターフェース。
type SourceFetcher interface {
	Fetch(ctx context.Context, src *model.CatalogSource) error
}

// Scheduler は取り込みのスケジューリングと並列制御を行う。
type Scheduler struct {
	sources        SourceLister
	fetcher        SourceFetcher
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerを生成する。maxConcurrencyが0以下の場合は4を使用する。
func NewScheduler(sources SourceLister, fetcher SourceFetcher, logger *slog.Logger, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Scheduler{
		sources:        sources,
		fetcher:        fetcher,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start はinterval間隔で取り込みサイクルを実行する。起動直後に1回実行し、
// コンテキストがキャンセルされるまで継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("取り込みスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	s.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("取り込みスケジューラを停止しました")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("取り込みサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce はフェッチ対象を1回取得し、最大並列数を守りながらフェッチする。
// 個別のフェッチ失敗はログに記録し、他の取り込み元の処理は継続する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	sources, err := s.sources.ListDueForFetch(ctx)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		s.logger.Info("取り込み対象はありません")
		return nil
	}

	s.logger.Info("取り込みサイクルを開始します",
		slog.Int("source_count", len(sources)),
	)

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

loop:
	for _, src := range sources {
		select {
		case <-ctx.Done():
			break loop
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(src *model.CatalogSource) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.fetcher.Fetch(ctx, src); err != nil {
				s.logger.Error("取り込みに失敗しました",
					slog.String("source_id", src.ID),
					slog.String("feed_url", src.FeedURL),
					slog.String("error", err.Error()),
				)
			}
		}(src)
	}

	wg.Wait()

	s.logger.Info("取り込みサイクルが完了しました",
		slog.Int("source_count", len(sources)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return ctx.Err()
}
