package dto

import (
	"time"

	"github.com/hitoshi/shelfmate/internal/model"
)

// Book は書籍のクライアント向け表現。
type Book struct {
	ID              string   `json:"id" validate:"required"`
	Title           string   `json:"title" validate:"required"`
	Authors         []string `json:"authors"`
	ISBN            []string `json:"isbn"`
	PageCount       int      `json:"page_count" validate:"min=0"`
	CoverImage      string   `json:"cover_image,omitempty"`
	Summary         string   `json:"summary,omitempty"`
	GenreTags       []string `json:"genre_tags"`
	Publisher       string   `json:"publisher,omitempty"`
	PublicationDate string   `json:"publication_date,omitempty"`
	Language        string   `json:"language,omitempty"`
}

// FromBook はドメインの書籍をDTOに変換する。
func FromBook(b *model.Book) *Book {
	if b == nil {
		return nil
	}
	return &Book{
		ID:              b.ID,
		Title:           b.Title,
		Authors:         nonNil(b.Authors),
		ISBN:            nonNil(b.ISBN),
		PageCount:       b.PageCount,
		CoverImage:      b.CoverImage,
		Summary:         b.Summary,
		GenreTags:       nonNil(b.GenreTags),
		Publisher:       b.Publisher,
		PublicationDate: b.PublicationDate,
		Language:        b.Language,
	}
}

// FromBooks は書籍のスライスを変換する。
func FromBooks(books []*model.Book) []*Book {
	out := make([]*Book, 0, len(books))
	for _, b := range books {
		out = append(out, FromBook(b))
	}
	return out
}

// Model はDTOをドメインの書籍に変換する。
func (b *Book) Model() *model.Book {
	return &model.Book{
		ID:              b.ID,
		Title:           b.Title,
		Authors:         b.Authors,
		ISBN:            b.ISBN,
		PageCount:       b.PageCount,
		CoverImage:      b.CoverImage,
		Summary:         b.Summary,
		GenreTags:       b.GenreTags,
		Publisher:       b.Publisher,
		PublicationDate: b.PublicationDate,
		Language:        b.Language,
	}
}

// Recommendation は推薦サービスが返す書籍1件。順位はスライス内の位置で表す。
type Recommendation struct {
	BookID     string   `json:"book_id" validate:"required"`
	Title      string   `json:"title"`
	Authors    []string `json:"authors,omitempty"`
	CoverImage string   `json:"cover_image,omitempty"`
	GenreTags  []string `json:"genre_tags,omitempty"`
	Score      float64  `json:"score,omitempty"`
}

// RegisterSourceRequest はカタログ取り込み元の登録リクエスト。
type RegisterSourceRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// CatalogSource はカタログ取り込み元のレスポンス。
type CatalogSource struct {
	ID          string    `json:"id"`
	FeedURL     string    `json:"feed_url"`
	Title       string    `json:"title"`
	FetchStatus string    `json:"fetch_status"`
	NextFetchAt time.Time `json:"next_fetch_at"`
}

// FromCatalogSource はmodel.CatalogSourceからCatalogSourceを生成する。
func FromCatalogSource(s *model.CatalogSource) *CatalogSource {
	if s == nil {
		return nil
	}
	return &CatalogSource{
		ID:          s.ID,
		FeedURL:     s.FeedURL,
		Title:       s.Title,
		FetchStatus: string(s.FetchStatus),
		NextFetchAt: s.NextFetchAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
