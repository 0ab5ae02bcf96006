package model

import (
	"strings"
	"time"
)

// ShelfStatus はユーザーと書籍の関係（本棚の種類）を表す。
type ShelfStatus string

const (
	// StatusNone は本棚に存在しないことを表す。レコード不在と同値。
	StatusNone ShelfStatus = "no-status"
	// StatusToRead は「読みたい」棚。
	StatusToRead ShelfStatus = "to-read"
	// StatusCurrentlyReading は「読書中」棚。ユーザーごとに最大1冊。
	StatusCurrentlyReading ShelfStatus = "currently-reading"
	// StatusRead は「読了」棚。
	StatusRead ShelfStatus = "read"
)

// ParseShelfStatus は文字列をShelfStatusに変換する。
// 空文字列はStatusNoneとして扱う。
func ParseShelfStatus(s string) (ShelfStatus, error) {
	st := ShelfStatus(strings.TrimSpace(s))
	if st == "" {
		return StatusNone, nil
	}
	if !st.Valid() {
		return "", NewInvalidStatusError(s)
	}
	return st, nil
}

// Valid は既知のステータスかどうかを返す。
func (s ShelfStatus) Valid() bool {
	switch s {
	case StatusNone, StatusToRead, StatusCurrentlyReading, StatusRead:
		return true
	}
	return false
}

// Shelvable は本棚への書き込み対象となるステータスかどうかを返す。
func (s ShelfStatus) Shelvable() bool {
	return s == StatusToRead || s == StatusCurrentlyReading || s == StatusRead
}

// String はStringerを実装する。
func (s ShelfStatus) String() string {
	return string(s)
}

// Rating は読了書籍に対する3段階の評価を表す。
// 空文字列は未評価（null）を表す。
type Rating string

const (
	// RatingNone は未評価。
	RatingNone Rating = ""
	// RatingPositive は高評価。
	RatingPositive Rating = "pos"
	// RatingNeutral は普通。
	RatingNeutral Rating = "mid"
	// RatingNegative は低評価。
	RatingNegative Rating = "neg"
)

// ParseRating は文字列をRatingに変換する。空文字列はRatingNoneを返す。
func ParseRating(s string) (Rating, error) {
	r := Rating(strings.TrimSpace(s))
	if r == RatingNone {
		return RatingNone, nil
	}
	if !r.Valid() {
		return "", NewInvalidRatingError(s)
	}
	return r, nil
}

// Valid はpos、mid、negのいずれかであるかを返す。
func (r Rating) Valid() bool {
	return r == RatingPositive || r == RatingNeutral || r == RatingNegative
}

// IsSet は評価が設定されているかを返す。
func (r Rating) IsSet() bool {
	return r != RatingNone
}

// ShelfEntry はユーザー×書籍の本棚レコードを表す。
// (UserID, BookID) の組ごとに最大1件存在する。
type ShelfEntry struct {
	ID           string
	UserID       string
	BookID       string
	Status       ShelfStatus
	Rating       Rating
	CurrentPage  *int // StatusCurrentlyReadingのときのみ意味を持つ
	DateStarted  *time.Time
	DateFinished *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Page は現在のページ数を返す。未設定の場合は0。
func (e *ShelfEntry) Page() int {
	if e == nil || e.CurrentPage == nil {
		return 0
	}
	return *e.CurrentPage
}

// ShelvedBook は本棚エントリと書籍情報の組。本棚の一覧表示に使用する。
type ShelvedBook struct {
	Entry ShelfEntry
	Book  Book
}

// ShelfSnapshot はユーザーの本棚全体の読み取り専用ビュー。
// 変更操作が行われるたびに無効化される。
type ShelfSnapshot struct {
	UserID           string
	CurrentlyReading *ShelvedBook
	ToRead           []ShelvedBook
	Read             []ShelvedBook
	TakenAt          time.Time
}

// StatusOf はスナップショット中の書籍のステータスを返す。
func (s *ShelfSnapshot) StatusOf(bookID string) ShelfStatus {
	if s == nil {
		return StatusNone
	}
	if s.CurrentlyReading != nil && s.CurrentlyReading.Entry.BookID == bookID {
		return StatusCurrentlyReading
	}
	for _, sb := range s.ToRead {
		if sb.Entry.BookID == bookID {
			return StatusToRead
		}
	}
	for _, sb := range s.Read {
		if sb.Entry.BookID == bookID {
			return StatusRead
		}
	}
	return StatusNone
}
