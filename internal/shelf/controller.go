package shelf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/shelfmate/internal/model"
)

// SetStatusRequest はステータス変更リクエスト。
type SetStatusRequest struct {
	UserID string
	BookID string
	Status model.ShelfStatus
	// Rating は Status が read のとき必須。それ以外では無視される。
	Rating model.Rating
	// ReplaceCurrent は既存の「読書中」書籍の置き換えを確認済みであることを示す。
	ReplaceCurrent bool
}

// ProgressResult は進捗更新の結果。
type ProgressResult struct {
	Entry     *model.ShelfEntry
	Percent   int
	Completed bool
}

// EntryView は書籍に対する本棚の状態と進捗。
type EntryView struct {
	BookID      string
	Status      model.ShelfStatus
	Rating      model.Rating
	CurrentPage int
	PageCount   int
	Percent     int
}

// Controller は本棚の読み取りと変更の唯一の入口。
// 変更操作は(ユーザー, 書籍)単位で直列化され、「読書中」への遷移は
// さらにユーザー単位で直列化される。変更のたびにスナップショットを無効化する。
type Controller struct {
	store   Store
	books   BookFinder
	cache   SnapshotCache
	metrics Recorder
	logger  *slog.Logger

	userLocks *keyedMutex
	pairLocks *keyedMutex

	now func() time.Time
}

// NewController はControllerを生成する。
// cache、metrics、loggerはnilの場合に無効化された実装またはデフォルトロガーを使用する。
func NewController(store Store, books BookFinder, cache SnapshotCache, metrics Recorder, logger *slog.Logger) *Controller {
	if cache == nil {
		cache = nopCache{}
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:     store,
		books:     books,
		cache:     cache,
		metrics:   metrics,
		logger:    logger,
		userLocks: newKeyedMutex(),
		pairLocks: newKeyedMutex(),
		now:       time.Now,
	}
}

// GetStatus は書籍の本棚ステータスを返す。レコードがない場合は no-status。
func (c *Controller) GetStatus(ctx context.Context, userID, bookID string) (model.ShelfStatus, error) {
	if err := validateIDs(userID, bookID); err != nil {
		return "", err
	}
	entry, err := c.store.FindEntry(ctx, userID, bookID)
	if err != nil {
		return "", c.unavailable("find entry", err)
	}
	if entry == nil {
		return model.StatusNone, nil
	}
	return entry.Status, nil
}

// Describe は書籍の本棚ステータスと進捗率を返す。
func (c *Controller) Describe(ctx context.Context, userID, bookID string) (*EntryView, error) {
	if err := validateIDs(userID, bookID); err != nil {
		return nil, err
	}
	entry, err := c.store.FindEntry(ctx, userID, bookID)
	if err != nil {
		return nil, c.unavailable("find entry", err)
	}

	view := &EntryView{BookID: bookID, Status: model.StatusNone}
	if entry == nil {
		return view, nil
	}
	view.Status = entry.Status
	view.Rating = entry.Rating
	view.CurrentPage = entry.Page()

	book, err := c.books.FindBook(ctx, bookID)
	if err != nil {
		return nil, c.unavailable("find book", err)
	}
	if book != nil {
		view.PageCount = book.PageCount
	}
	switch entry.Status {
	case model.StatusRead:
		view.Percent = 100
	case model.StatusCurrentlyReading:
		view.Percent = PageToPercent(view.CurrentPage, view.PageCount)
	}
	return view, nil
}

// SetStatus は書籍を指定の本棚に置く。
// currently-reading への変更で別の書籍が「読書中」の場合、ReplaceCurrentが
// 指定されていなければ CURRENTLY_READING_CONFLICT を返し、何も書き込まない。
// 同じ書籍を再度「読書中」にする操作は何もせず成功する。
func (c *Controller) SetStatus(ctx context.Context, req SetStatusRequest) (*model.ShelfEntry, error) {
	if err := validateIDs(req.UserID, req.BookID); err != nil {
		return nil, err
	}
	if !req.Status.Shelvable() {
		return nil, model.NewInvalidStatusError(string(req.Status))
	}
	if err := requireRating(req.Status, req.Rating); err != nil {
		return nil, err
	}

	book, err := c.books.FindBook(ctx, req.BookID)
	if err != nil {
		return nil, c.unavailable("find book", err)
	}
	if book == nil {
		return nil, model.NewBookNotFoundError(req.BookID)
	}

	if req.Status == model.StatusCurrentlyReading {
		unlockUser := c.userLocks.Lock(req.UserID)
		defer unlockUser()
	}
	unlock := c.pairLocks.Lock(pairKey(req.UserID, req.BookID))
	defer unlock()

	existing, err := c.store.FindEntry(ctx, req.UserID, req.BookID)
	if err != nil {
		return nil, c.unavailable("find entry", err)
	}

	var displaced *model.ShelfEntry
	if req.Status == model.StatusCurrentlyReading {
		current, err := c.store.FindCurrentlyReading(ctx, req.UserID)
		if err != nil {
			return nil, c.unavailable("find currently reading", err)
		}
		if current != nil && current.BookID == req.BookID {
			return current, nil
		}
		if DetectConflict(current, req.BookID) {
			if !req.ReplaceCurrent {
				c.metrics.RecordConflict(ConflictOutcomeDetected)
				return nil, model.NewCurrentlyReadingConflictError(current.BookID, c.titleOf(ctx, current.BookID))
			}
			displaced = current
		}
	}

	entry := c.buildEntry(req, existing)

	var saved *model.ShelfEntry
	if displaced != nil {
		saved, err = c.store.ReplaceCurrentlyReading(ctx, req.UserID, displaced.BookID, entry)
		if err != nil {
			return nil, c.unavailable("replace currently reading", err)
		}
		c.metrics.RecordConflict(ConflictOutcomeConfirmed)
		c.logger.Info("currently reading replaced",
			slog.String("user_id", req.UserID),
			slog.String("book_id", req.BookID),
			slog.String("displaced_book_id", displaced.BookID),
		)
	} else {
		saved, err = c.store.Upsert(ctx, entry)
		if err != nil {
			return nil, c.unavailable("upsert entry", err)
		}
	}

	c.metrics.RecordTransition(req.Status)
	c.logger.Info("shelf status changed",
		slog.String("user_id", req.UserID),
		slog.String("book_id", req.BookID),
		slog.String("from", string(statusOf(existing))),
		slog.String("to", string(req.Status)),
	)
	c.invalidate(ctx, req.UserID)

	return saved, nil
}

// UpdateProgress は現在のページ数を更新する。
// ページ数が書籍の総ページ数に達した場合は読了遷移を行う（評価は設定しない）。
func (c *Controller) UpdateProgress(ctx context.Context, userID, bookID string, page int) (*ProgressResult, error) {
	if err := validateIDs(userID, bookID); err != nil {
		return nil, err
	}
	book, err := c.requireBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book.PageCount <= 0 {
		return nil, model.NewInvalidArgumentError("book has no page count")
	}
	if page < 0 || page > book.PageCount {
		return nil, model.NewInvalidArgumentError(fmt.Sprintf("page %d is outside 0..%d", page, book.PageCount))
	}
	return c.applyProgress(ctx, userID, book, page)
}

// UpdateProgressPercent は進捗率から現在のページ数を更新する。
func (c *Controller) UpdateProgressPercent(ctx context.Context, userID, bookID string, percent int) (*ProgressResult, error) {
	if err := validateIDs(userID, bookID); err != nil {
		return nil, err
	}
	if percent < 0 || percent > 100 {
		return nil, model.NewInvalidArgumentError(fmt.Sprintf("percent %d is outside 0..100", percent))
	}
	book, err := c.requireBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book.PageCount <= 0 {
		return nil, model.NewInvalidArgumentError("book has no page count")
	}
	return c.applyProgress(ctx, userID, book, PercentToPage(percent, book.PageCount))
}

// applyProgress は「読書中」の入れ替えと直列化するため、ユーザーロックも取得する。
func (c *Controller) applyProgress(ctx context.Context, userID string, book *model.Book, page int) (*ProgressResult, error) {
	unlockUser := c.userLocks.Lock(userID)
	defer unlockUser()
	unlock := c.pairLocks.Lock(pairKey(userID, book.ID))
	defer unlock()

	entry, err := c.store.FindEntry(ctx, userID, book.ID)
	if err != nil {
		return nil, c.unavailable("find entry", err)
	}
	if entry == nil || entry.Status != model.StatusCurrentlyReading {
		return nil, model.NewInvalidStateError("progress can only be updated while currently reading")
	}

	if IsComplete(page, book.PageCount) {
		done, err := c.complete(ctx, userID, book.ID)
		if err != nil {
			return nil, err
		}
		return &ProgressResult{Entry: done, Percent: 100, Completed: true}, nil
	}

	updated, err := c.store.UpdateCurrentPage(ctx, userID, book.ID, page)
	if err != nil {
		return nil, c.unavailable("update current page", err)
	}
	if updated == nil {
		// 別のプロセスで読書中ではなくなった
		return nil, model.NewInvalidStateError("progress can only be updated while currently reading")
	}
	c.invalidate(ctx, userID)

	return &ProgressResult{
		Entry:   updated,
		Percent: PageToPercent(page, book.PageCount),
	}, nil
}

// CompleteBook は書籍を読了にする。ステータス変更、current_pageのクリア、
// date_finishedの設定を1回のストア操作で行う。既に読了の場合は何もしない。
// finalPageは0（未指定）または総ページ数以下である必要がある。
func (c *Controller) CompleteBook(ctx context.Context, userID, bookID string, finalPage int) (*model.ShelfEntry, error) {
	if err := validateIDs(userID, bookID); err != nil {
		return nil, err
	}
	book, err := c.requireBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if finalPage < 0 || (book.PageCount > 0 && finalPage > book.PageCount) {
		return nil, model.NewInvalidArgumentError(fmt.Sprintf("final page %d is outside 0..%d", finalPage, book.PageCount))
	}

	unlock := c.pairLocks.Lock(pairKey(userID, bookID))
	defer unlock()

	return c.complete(ctx, userID, bookID)
}

// complete は読了遷移を実行する。呼び出し側でペアロックを保持していること。
func (c *Controller) complete(ctx context.Context, userID, bookID string) (*model.ShelfEntry, error) {
	entry, err := c.store.FindEntry(ctx, userID, bookID)
	if err != nil {
		return nil, c.unavailable("find entry", err)
	}
	if entry == nil {
		return nil, model.NewShelfEntryNotFoundError(bookID)
	}
	if entry.Status == model.StatusRead {
		return entry, nil
	}

	done, err := c.store.Complete(ctx, userID, bookID, c.now().UTC())
	if err != nil {
		return nil, c.unavailable("complete entry", err)
	}

	c.metrics.RecordCompletion()
	c.metrics.RecordTransition(model.StatusRead)
	c.logger.Info("book completed",
		slog.String("user_id", userID),
		slog.String("book_id", bookID),
		slog.String("from", string(entry.Status)),
	)
	c.invalidate(ctx, userID)

	return done, nil
}

// RateBook は読了書籍の評価を設定する。ステータスは変更しない。
func (c *Controller) RateBook(ctx context.Context, userID, bookID string, rating model.Rating) (*model.ShelfEntry, error) {
	if err := validateIDs(userID, bookID); err != nil {
		return nil, err
	}
	if !rating.Valid() {
		return nil, model.NewInvalidRatingError(string(rating))
	}

	unlock := c.pairLocks.Lock(pairKey(userID, bookID))
	defer unlock()

	entry, err := c.store.FindEntry(ctx, userID, bookID)
	if err != nil {
		return nil, c.unavailable("find entry", err)
	}
	if entry == nil {
		return nil, model.NewShelfEntryNotFoundError(bookID)
	}
	if !CanRate(entry) {
		return nil, model.NewInvalidStateError(fmt.Sprintf("only read books can be rated (status: %s)", entry.Status))
	}

	rated, err := c.store.UpdateRating(ctx, userID, bookID, rating)
	if err != nil {
		return nil, c.unavailable("update rating", err)
	}
	c.invalidate(ctx, userID)
	return rated, nil
}

// DeleteEntry は本棚エントリを削除する。レコードがなくてもエラーにしない。
func (c *Controller) DeleteEntry(ctx context.Context, userID, bookID string) (bool, error) {
	if err := validateIDs(userID, bookID); err != nil {
		return false, err
	}

	unlock := c.pairLocks.Lock(pairKey(userID, bookID))
	defer unlock()

	deleted, err := c.store.Delete(ctx, userID, bookID)
	if err != nil {
		return false, c.unavailable("delete entry", err)
	}
	if deleted {
		c.logger.Info("shelf entry deleted",
			slog.String("user_id", userID),
			slog.String("book_id", bookID),
		)
		c.invalidate(ctx, userID)
	}
	return deleted, nil
}

// Shelf は指定ステータスの書籍一覧を返す。
func (c *Controller) Shelf(ctx context.Context, userID string, status model.ShelfStatus) ([]model.ShelvedBook, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.NewInvalidArgumentError("user id is required")
	}
	if !status.Shelvable() {
		return nil, model.NewInvalidStatusError(string(status))
	}
	books, err := c.store.ListShelved(ctx, userID, status)
	if err != nil {
		return nil, c.unavailable("list shelf", err)
	}
	return books, nil
}

// LastRead は最も最近読了した書籍を返す。読了書籍がない場合は NO_BOOKS_FOUND。
func (c *Controller) LastRead(ctx context.Context, userID string) (*model.ShelvedBook, error) {
	read, err := c.Shelf(ctx, userID, model.StatusRead)
	if err != nil {
		return nil, err
	}

	finished := make([]model.ShelvedBook, 0, len(read))
	for _, sb := range read {
		if sb.Entry.DateFinished != nil {
			finished = append(finished, sb)
		}
	}
	if len(finished) == 0 {
		return nil, model.NewNoBooksFoundError("読了した書籍はまだありません。")
	}
	sort.SliceStable(finished, func(i, j int) bool {
		return finished[i].Entry.DateFinished.After(*finished[j].Entry.DateFinished)
	})
	return &finished[0], nil
}

// Snapshot はユーザーの本棚全体を返す。キャッシュがあればそれを返し、
// なければ3つの棚を並行して読み込んでキャッシュする。
func (c *Controller) Snapshot(ctx context.Context, userID string) (*model.ShelfSnapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.NewInvalidArgumentError("user id is required")
	}

	if snap, ok, err := c.cache.Get(ctx, userID); err != nil {
		c.logger.Warn("snapshot cache read failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	} else if ok {
		c.metrics.RecordSnapshot(true)
		return snap, nil
	}
	c.metrics.RecordSnapshot(false)

	version, verr := c.cache.Version(ctx, userID)
	if verr != nil {
		c.logger.Warn("snapshot cache version read failed",
			slog.String("user_id", userID),
			slog.String("error", verr.Error()),
		)
	}

	var current, toRead, read []model.ShelvedBook
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		current, err = c.store.ListShelved(gctx, userID, model.StatusCurrentlyReading)
		return err
	})
	g.Go(func() (err error) {
		toRead, err = c.store.ListShelved(gctx, userID, model.StatusToRead)
		return err
	})
	g.Go(func() (err error) {
		read, err = c.store.ListShelved(gctx, userID, model.StatusRead)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, c.unavailable("load snapshot", err)
	}

	snap := &model.ShelfSnapshot{
		UserID:  userID,
		ToRead:  toRead,
		Read:    read,
		TakenAt: c.now().UTC(),
	}
	if len(current) > 0 {
		snap.CurrentlyReading = &current[0]
	}

	if verr != nil {
		return snap, nil
	}
	stored, err := c.cache.Set(ctx, snap, version)
	if err != nil {
		c.logger.Warn("snapshot cache write failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	} else if !stored {
		c.logger.Debug("snapshot invalidated while loading, not cached",
			slog.String("user_id", userID),
		)
	}
	return snap, nil
}

// buildEntry は既存エントリを引き継いで書き込み用のエントリを組み立てる。
func (c *Controller) buildEntry(req SetStatusRequest, existing *model.ShelfEntry) *model.ShelfEntry {
	now := c.now().UTC()
	entry := &model.ShelfEntry{
		UserID: req.UserID,
		BookID: req.BookID,
		Status: req.Status,
	}
	if existing != nil {
		entry.ID = existing.ID
		entry.Rating = existing.Rating
		entry.DateStarted = existing.DateStarted
		entry.CreatedAt = existing.CreatedAt
	}

	switch req.Status {
	case model.StatusRead:
		entry.Rating = req.Rating
		if existing != nil && existing.Status == model.StatusRead && existing.DateFinished != nil {
			entry.DateFinished = existing.DateFinished
		} else {
			entry.DateFinished = &now
		}
	case model.StatusCurrentlyReading:
		page := 0
		if existing != nil && existing.Status == model.StatusCurrentlyReading {
			page = existing.Page()
		} else {
			entry.DateStarted = &now
		}
		entry.CurrentPage = &page
	}
	entry.UpdatedAt = now
	return entry
}

func (c *Controller) requireBook(ctx context.Context, bookID string) (*model.Book, error) {
	book, err := c.books.FindBook(ctx, bookID)
	if err != nil {
		return nil, c.unavailable("find book", err)
	}
	if book == nil {
		return nil, model.NewBookNotFoundError(bookID)
	}
	return book, nil
}

// titleOf は書籍のタイトルを返す。取得できない場合はIDを返す。
func (c *Controller) titleOf(ctx context.Context, bookID string) string {
	book, err := c.books.FindBook(ctx, bookID)
	if err != nil || book == nil || book.Title == "" {
		return bookID
	}
	return book.Title
}

func (c *Controller) invalidate(ctx context.Context, userID string) {
	if err := c.cache.Invalidate(ctx, userID); err != nil {
		c.logger.Warn("snapshot cache invalidation failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// unavailable はAPIError以外のストアエラーを STORAGE_UNAVAILABLE に変換する。
// 元のエラーはラップして保持する。
func (c *Controller) unavailable(op string, err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	c.logger.Error("shelf store failure",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%w: %s: %w", model.NewStorageUnavailableError(), op, err)
}

func validateIDs(userID, bookID string) error {
	if strings.TrimSpace(userID) == "" {
		return model.NewInvalidArgumentError("user id is required")
	}
	if strings.TrimSpace(bookID) == "" {
		return model.NewInvalidArgumentError("book id is required")
	}
	return nil
}

func statusOf(entry *model.ShelfEntry) model.ShelfStatus {
	if entry == nil {
		return model.StatusNone
	}
	return entry.Status
}
