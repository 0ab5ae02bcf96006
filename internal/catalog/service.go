// Package catalog は書籍カタログの検索・参照と、カタログ取り込み元の登録を提供する。
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shelfmate/internal/model"
	"github.com/hitoshi/shelfmate/internal/repository"
	"github.com/hitoshi/shelfmate/internal/shelf"
)

// DefaultSearchLimit は検索結果の既定上限件数。
const DefaultSearchLimit = 50

// Detector はカタログフィードURL検出のインターフェース。
type Detector interface {
	DetectSourceURL(ctx context.Context, inputURL string) (string, error)
}

// Service はカタログのサービス層。
type Service struct {
	books       repository.BookRepository
	sources     repository.CatalogSourceRepository
	detector    Detector
	searchLimit int
	now         func() time.Time
}

// NewService はServiceを生成する。searchLimitが0以下の場合はDefaultSearchLimitを使う。
// sourcesとdetectorは取り込み元を登録しない構成ではnilでよい。
func NewService(
	books repository.BookRepository,
	sources repository.CatalogSourceRepository,
	detector Detector,
	searchLimit int,
) *Service {
	if searchLimit <= 0 {
		searchLimit = DefaultSearchLimit
	}
	return &Service{
		books:       books,
		sources:     sources,
		detector:    detector,
		searchLimit: searchLimit,
		now:         time.Now,
	}
}

// Search はクエリと検索種別で書籍を検索する。
// 空クエリはSEARCH_QUERY_REQUIRED、未知の種別はINVALID_ARGUMENT、該当なしはNO_BOOKS_FOUNDを返す。
// 種別が空の場合はanyとして扱う。
func (s *Service) Search(ctx context.Context, query, searchType string) ([]*model.Book, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, model.NewSearchQueryRequiredError()
	}

	st := model.SearchType(strings.ToLower(strings.TrimSpace(searchType)))
	if st == "" {
		st = model.SearchAny
	}
	if !st.Valid() {
		return nil, model.NewInvalidArgumentError(fmt.Sprintf("不明な検索種別です: %s", searchType))
	}

	if st == model.SearchISBN && repository.NormalizeISBN(query) == "" {
		return nil, model.NewInvalidArgumentError("ISBNは数字（末尾のXを含む）で指定してください。")
	}

	books, err := s.books.Search(ctx, query, st, s.searchLimit)
	if err != nil {
		return nil, fmt.Errorf("書籍の検索に失敗しました: %w", err)
	}
	if len(books) == 0 {
		return nil, model.NewNoBooksFoundError("条件に一致する書籍が見つかりません。")
	}
	return books, nil
}

// GetBook は書籍を返す。見つからない場合はBOOK_NOT_FOUNDを返す。
func (s *Service) GetBook(ctx context.Context, bookID string) (*model.Book, error) {
	book, err := s.FindBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, model.NewBookNotFoundError(bookID)
	}
	return book, nil
}

// FindBook は書籍を返す。見つからない場合はnilを返す。
func (s *Service) FindBook(ctx context.Context, bookID string) (*model.Book, error) {
	book, err := s.books.FindByID(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("書籍の取得に失敗しました: %w", err)
	}
	return book, nil
}

// RegisterSource は入力URLからカタログフィードを検出し、取り込み元として登録する。
// 登録直後から取り込み対象になる。
func (s *Service) RegisterSource(ctx context.Context, inputURL string) (*model.CatalogSource, error) {
	if s.sources == nil || s.detector == nil {
		return nil, fmt.Errorf("catalog source registration is not configured")
	}

	feedURL, err := s.detector.DetectSourceURL(ctx, strings.TrimSpace(inputURL))
	if err != nil {
		return nil, err
	}

	existing, err := s.sources.FindByFeedURL(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("取り込み元の検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateSourceError(feedURL)
	}

	now := s.now()
	source := &model.CatalogSource{
		ID:          uuid.New().String(),
		FeedURL:     feedURL,
		Title:       feedURL,
		FetchStatus: model.FetchStatusActive,
		NextFetchAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.sources.Create(ctx, source); err != nil {
		return nil, fmt.Errorf("取り込み元の保存に失敗しました: %w", err)
	}

	slog.Info("catalog source registered",
		slog.String("source_id", source.ID),
		slog.String("feed_url", feedURL),
	)
	return source, nil
}

var _ shelf.BookFinder = (*Service)(nil)
