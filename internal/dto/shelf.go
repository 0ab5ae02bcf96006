// Package dto はREST APIのリクエスト・レスポンスのデータ転送オブジェクトを提供する。
//
// サーバーのハンドラーはドメインモデルをDTOに変換して返し、クライアントは
// 受信したDTOをvalidateタグで検証してからドメインモデルに戻す。
package dto

import (
	"time"

	"github.com/hitoshi/shelfmate/internal/model"
)

// ShelfEntry は本棚エントリのクライアント向け表現。
type ShelfEntry struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id" validate:"required"`
	BookID       string     `json:"book_id" validate:"required"`
	Status       string     `json:"status" validate:"shelf_status"`
	Rating       string     `json:"rating,omitempty" validate:"omitempty,rating"`
	CurrentPage  *int       `json:"current_page,omitempty" validate:"omitempty,min=0"`
	DateStarted  *time.Time `json:"date_started,omitempty"`
	DateFinished *time.Time `json:"date_finished,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// FromShelfEntry はドメインの本棚エントリをDTOに変換する。
func FromShelfEntry(e *model.ShelfEntry) *ShelfEntry {
	if e == nil {
		return nil
	}
	return &ShelfEntry{
		ID:           e.ID,
		UserID:       e.UserID,
		BookID:       e.BookID,
		Status:       string(e.Status),
		Rating:       string(e.Rating),
		CurrentPage:  e.CurrentPage,
		DateStarted:  e.DateStarted,
		DateFinished: e.DateFinished,
		UpdatedAt:    e.UpdatedAt,
	}
}

// Model はDTOをドメインの本棚エントリに変換する。
func (e *ShelfEntry) Model() *model.ShelfEntry {
	if e == nil {
		return nil
	}
	return &model.ShelfEntry{
		ID:           e.ID,
		UserID:       e.UserID,
		BookID:       e.BookID,
		Status:       model.ShelfStatus(e.Status),
		Rating:       model.Rating(e.Rating),
		CurrentPage:  e.CurrentPage,
		DateStarted:  e.DateStarted,
		DateFinished: e.DateFinished,
		UpdatedAt:    e.UpdatedAt,
	}
}

// StatusView は書籍に対する本棚の状態。エントリがない場合はstatusがno-statusになる。
type StatusView struct {
	BookID      string `json:"book_id" validate:"required"`
	Status      string `json:"status" validate:"shelf_status_any"`
	Rating      string `json:"rating,omitempty" validate:"omitempty,rating"`
	CurrentPage int    `json:"current_page" validate:"min=0"`
	PageCount   int    `json:"page_count" validate:"min=0"`
	Percent     int    `json:"percent" validate:"min=0,max=100"`
}

// ProgressResult は進捗更新の結果。
type ProgressResult struct {
	Entry     *ShelfEntry `json:"entry" validate:"required"`
	Percent   int         `json:"percent" validate:"min=0,max=100"`
	Completed bool        `json:"completed"`
}

// ShelvedBook は本棚エントリと書籍の組。
type ShelvedBook struct {
	Book  Book       `json:"book"`
	Entry ShelfEntry `json:"entry"`
}

// FromShelvedBook はドメインのShelvedBookをDTOに変換する。
func FromShelvedBook(sb model.ShelvedBook) ShelvedBook {
	return ShelvedBook{
		Book:  *FromBook(&sb.Book),
		Entry: *FromShelfEntry(&sb.Entry),
	}
}

// FromShelvedBooks はShelvedBookのスライスを変換する。nilは空スライスになる。
func FromShelvedBooks(list []model.ShelvedBook) []ShelvedBook {
	out := make([]ShelvedBook, 0, len(list))
	for _, sb := range list {
		out = append(out, FromShelvedBook(sb))
	}
	return out
}

// Model はDTOをドメインのShelvedBookに変換する。
func (sb ShelvedBook) Model() model.ShelvedBook {
	return model.ShelvedBook{
		Book:  *sb.Book.Model(),
		Entry: *sb.Entry.Model(),
	}
}

// Snapshot はユーザーの本棚全体。
type Snapshot struct {
	UserID           string        `json:"user_id" validate:"required"`
	CurrentlyReading *ShelvedBook  `json:"currently_reading,omitempty"`
	ToRead           []ShelvedBook `json:"to_read"`
	Read             []ShelvedBook `json:"read"`
	TakenAt          time.Time     `json:"taken_at"`
}

// FromSnapshot はドメインのスナップショットをDTOに変換する。
func FromSnapshot(s *model.ShelfSnapshot) *Snapshot {
	out := &Snapshot{
		UserID:  s.UserID,
		ToRead:  FromShelvedBooks(s.ToRead),
		Read:    FromShelvedBooks(s.Read),
		TakenAt: s.TakenAt,
	}
	if s.CurrentlyReading != nil {
		cr := FromShelvedBook(*s.CurrentlyReading)
		out.CurrentlyReading = &cr
	}
	return out
}

// Model はDTOをドメインのスナップショットに変換する。
func (s *Snapshot) Model() *model.ShelfSnapshot {
	out := &model.ShelfSnapshot{
		UserID:  s.UserID,
		TakenAt: s.TakenAt,
	}
	if s.CurrentlyReading != nil {
		cr := s.CurrentlyReading.Model()
		out.CurrentlyReading = &cr
	}
	for _, sb := range s.ToRead {
		out.ToRead = append(out.ToRead, sb.Model())
	}
	for _, sb := range s.Read {
		out.Read = append(out.Read, sb.Model())
	}
	return out
}

// LastRead は最後に読了した書籍と評価。
type LastRead struct {
	Book         Book      `json:"book"`
	Rating       string    `json:"rating,omitempty" validate:"omitempty,rating"`
	DateFinished time.Time `json:"date_finished"`
}

// DeleteResult は本棚エントリ削除の結果。
type DeleteResult struct {
	Deleted bool `json:"deleted"`
}

// SetStatusRequest は POST /shelf/api/user/{userId}/bookshelf のリクエストボディ。
type SetStatusRequest struct {
	BookID         string `json:"book_id" validate:"notblank"`
	Status         string `json:"status" validate:"shelf_status"`
	Rating         string `json:"rating,omitempty"`
	ReplaceCurrent bool   `json:"replace_current,omitempty"`
}

// UpdateStatusRequest は PUT .../bookshelf/{bookId}/status のリクエストボディ。
// statusがreadの場合は読了処理になり、final_pageで最終ページを指定できる。
type UpdateStatusRequest struct {
	Status    string `json:"status" validate:"shelf_status"`
	Rating    string `json:"rating,omitempty"`
	FinalPage *int   `json:"final_page,omitempty" validate:"omitempty,min=0"`
}

// ProgressRequest は PUT .../bookshelf/{bookId}/current-page のリクエストボディ。
type ProgressRequest struct {
	PageNumber *int `json:"page_number" validate:"required"`
}

// RatingRequest は PUT .../bookshelf/{bookId}/rating のリクエストボディ。
type RatingRequest struct {
	Rating string `json:"rating" validate:"rating"`
}
