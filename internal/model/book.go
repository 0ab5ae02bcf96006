package model

import "time"

// Book はカタログ上の書籍を表す。本棚からは読み取り専用で参照される。
type Book struct {
	ID              string
	Title           string
	Authors         []string
	ISBN            []string
	PageCount       int
	CoverImage      string
	Summary         string
	GenreTags       []string
	Publisher       string
	PublicationDate string
	Language        string
	SourceGUID      string // 取り込み元フィードのGUID。手動登録の場合は空
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SearchType はカタログ検索の対象フィールドを表す。
type SearchType string

const (
	// SearchAny はタイトル・著者・ISBNのいずれかに一致する書籍を検索する。
	SearchAny SearchType = "any"
	// SearchTitle はタイトルで検索する。
	SearchTitle SearchType = "title"
	// SearchAuthor は著者名で検索する。
	SearchAuthor SearchType = "author"
	// SearchISBN はISBN（10桁/13桁）で検索する。
	SearchISBN SearchType = "isbn"
)

// Valid は既知の検索種別かどうかを返す。
func (t SearchType) Valid() bool {
	switch t {
	case SearchAny, SearchTitle, SearchAuthor, SearchISBN:
		return true
	}
	return false
}

// CatalogSource はカタログ取り込み元のRSS/Atomフィードを表す。
type CatalogSource struct {
	ID                string
	FeedURL           string
	Title             string
	ETag              string
	LastModified      string
	FetchStatus       FetchStatus
	ConsecutiveErrors int
	ErrorMessage      string
	NextFetchAt       time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// FetchStatus は取り込み元のフェッチ状態を表す。
type FetchStatus string

const (
	// FetchStatusActive はフェッチ対象。
	FetchStatusActive FetchStatus = "active"
	// FetchStatusStopped はフェッチ停止中。
	FetchStatusStopped FetchStatus = "stopped"
)
