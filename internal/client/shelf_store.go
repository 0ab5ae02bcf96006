package client

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/shelfmate/internal/dto"
	"github.com/hitoshi/shelfmate/internal/model"
	"github.com/hitoshi/shelfmate/internal/shelf"
)

var (
	_ shelf.Store      = (*Client)(nil)
	_ shelf.BookFinder = (*Client)(nil)
)

func shelfPath(userID string) string {
	return "/shelf/api/user/" + url.PathEscape(userID)
}

func entryPath(userID, bookID string) string {
	return shelfPath(userID) + "/bookshelf/" + url.PathEscape(bookID)
}

// FindEntry は書籍の本棚ステータスを取得する。no-statusの場合はnilを返す。
func (c *Client) FindEntry(ctx context.Context, userID, bookID string) (*model.ShelfEntry, error) {
	var view dto.StatusView
	if err := c.getJSON(ctx, entryPath(userID, bookID)+"/status", nil, &view); err != nil {
		if model.IsCode(err, model.ErrCodeShelfEntryNotFound) {
			return nil, nil
		}
		return nil, err
	}

	status := model.ShelfStatus(view.Status)
	if status == model.StatusNone {
		return nil, nil
	}
	entry := &model.ShelfEntry{
		UserID: userID,
		BookID: view.BookID,
		Status: status,
		Rating: model.Rating(view.Rating),
	}
	if status == model.StatusCurrentlyReading {
		page := view.CurrentPage
		entry.CurrentPage = &page
	}
	return entry, nil
}

// FindCurrentlyReading は「読書中」の書籍を返す。ない場合はnilを返す。
func (c *Client) FindCurrentlyReading(ctx context.Context, userID string) (*model.ShelfEntry, error) {
	books, err := c.ListShelved(ctx, userID, model.StatusCurrentlyReading)
	if err != nil {
		return nil, err
	}
	if len(books) == 0 {
		return nil, nil
	}
	entry := books[0].Entry
	return &entry, nil
}

// ListShelved は指定した棚の書籍を返す。
func (c *Client) ListShelved(ctx context.Context, userID string, status model.ShelfStatus) ([]model.ShelvedBook, error) {
	var list []dto.ShelvedBook
	path := shelfPath(userID) + "/books/" + url.PathEscape(string(status))
	if err := c.getJSON(ctx, path, nil, &list); err != nil {
		return nil, err
	}
	out := make([]model.ShelvedBook, 0, len(list))
	for _, sb := range list {
		out = append(out, sb.Model())
	}
	return out, nil
}

// Upsert は書籍を本棚に置く。
func (c *Client) Upsert(ctx context.Context, entry *model.ShelfEntry) (*model.ShelfEntry, error) {
	return c.postEntry(ctx, entry, false)
}

// ReplaceCurrentlyReading は現在の「読書中」を置き換えて書籍を「読書中」にする。
// 置き換え対象の判定はサーバーが行う。
func (c *Client) ReplaceCurrentlyReading(ctx context.Context, userID, displacedBookID string, entry *model.ShelfEntry) (*model.ShelfEntry, error) {
	c.logger.Debug("replacing currently reading",
		slog.String("user_id", userID),
		slog.String("book_id", entry.BookID),
		slog.String("displaced_book_id", displacedBookID),
	)
	return c.postEntry(ctx, entry, true)
}

func (c *Client) postEntry(ctx context.Context, entry *model.ShelfEntry, replace bool) (*model.ShelfEntry, error) {
	req := dto.SetStatusRequest{
		BookID:         entry.BookID,
		Status:         string(entry.Status),
		Rating:         string(entry.Rating),
		ReplaceCurrent: replace,
	}
	var saved dto.ShelfEntry
	if err := c.do(ctx, http.MethodPost, shelfPath(entry.UserID)+"/bookshelf", nil, req, &saved); err != nil {
		return nil, err
	}
	return saved.Model(), nil
}

// UpdateCurrentPage は現在のページ数を更新する。
func (c *Client) UpdateCurrentPage(ctx context.Context, userID, bookID string, page int) (*model.ShelfEntry, error) {
	var result dto.ProgressResult
	req := dto.ProgressRequest{PageNumber: &page}
	if err := c.do(ctx, http.MethodPut, entryPath(userID, bookID)+"/current-page", nil, req, &result); err != nil {
		return nil, err
	}
	return result.Entry.Model(), nil
}

// Complete は書籍を読了にする。読了日時はサーバーの時刻で記録される。
func (c *Client) Complete(ctx context.Context, userID, bookID string, _ time.Time) (*model.ShelfEntry, error) {
	var saved dto.ShelfEntry
	req := dto.UpdateStatusRequest{Status: string(model.StatusRead)}
	if err := c.do(ctx, http.MethodPut, entryPath(userID, bookID)+"/status", nil, req, &saved); err != nil {
		return nil, err
	}
	return saved.Model(), nil
}

// UpdateRating は評価を更新する。
func (c *Client) UpdateRating(ctx context.Context, userID, bookID string, rating model.Rating) (*model.ShelfEntry, error) {
	var saved dto.ShelfEntry
	req := dto.RatingRequest{Rating: string(rating)}
	if err := c.do(ctx, http.MethodPut, entryPath(userID, bookID)+"/rating", nil, req, &saved); err != nil {
		return nil, err
	}
	return saved.Model(), nil
}

// Delete は書籍を本棚から外す。404は既に削除済みとして扱う。
func (c *Client) Delete(ctx context.Context, userID, bookID string) (bool, error) {
	var result dto.DeleteResult
	if err := c.do(ctx, http.MethodDelete, entryPath(userID, bookID), nil, nil, &result); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return result.Deleted, nil
}

// FindBook はカタログの書籍を返す。見つからない場合はnilを返す。
func (c *Client) FindBook(ctx context.Context, bookID string) (*model.Book, error) {
	book, err := c.Book(ctx, bookID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return book.Model(), nil
}
