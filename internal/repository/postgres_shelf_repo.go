package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shelfmate/internal/model"
	"github.com/hitoshi/shelfmate/internal/shelf"
)

// oneCurrentIndex は「読書中」を1ユーザー1件に制限する部分ユニークインデックス名。
const oneCurrentIndex = "idx_shelf_entries_one_current"

// PostgresShelfRepo はPostgreSQLを使用した本棚リポジトリ。shelf.Storeを実装する。
type PostgresShelfRepo struct {
	db *sql.DB
}

// NewPostgresShelfRepo はPostgresShelfRepoを生成する。
func NewPostgresShelfRepo(db *sql.DB) *PostgresShelfRepo {
	return &PostgresShelfRepo{db: db}
}

const entryColumns = `id, user_id, book_id, status, rating, current_page,
        date_started, date_finished, created_at, updated_at`

const entryColumnsWithPrefix = `e.id, e.user_id, e.book_id, e.status, e.rating, e.current_page,
        e.date_started, e.date_finished, e.created_at, e.updated_at`

// entryScanTargets はshelf_entriesの1行を読み取るためのスキャン先を返す。
func entryScanTargets(entry *model.ShelfEntry) (targets []any, finish func()) {
	var rating sql.NullString
	var page sql.NullInt64
	var started, finished sql.NullTime
	targets = []any{
		&entry.ID, &entry.UserID, &entry.BookID, &entry.Status, &rating, &page,
		&started, &finished, &entry.CreatedAt, &entry.UpdatedAt,
	}
	finish = func() {
		entry.Rating = model.Rating(nullStringValue(rating))
		if page.Valid {
			p := int(page.Int64)
			entry.CurrentPage = &p
		}
		entry.DateStarted = nullTimePtr(started)
		entry.DateFinished = nullTimePtr(finished)
	}
	return targets, finish
}

func scanEntry(row rowScanner) (*model.ShelfEntry, error) {
	entry := &model.ShelfEntry{}
	targets, finish := entryScanTargets(entry)
	if err := row.Scan(targets...); err != nil {
		return nil, err
	}
	finish()
	return entry, nil
}

// FindEntry は(userID, bookID)のエントリを返す。見つからない場合はnilを返す。
func (r *PostgresShelfRepo) FindEntry(ctx context.Context, userID, bookID string) (*model.ShelfEntry, error) {
	if !isUUID(userID) || !isUUID(bookID) {
		return nil, nil
	}
	entry, err := scanEntry(r.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM shelf_entries WHERE user_id = $1 AND book_id = $2`,
		userID, bookID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("本棚エントリの取得に失敗しました: %w", err)
	}
	return entry, nil
}

// FindCurrentlyReading はユーザーの「読書中」エントリを返す。
func (r *PostgresShelfRepo) FindCurrentlyReading(ctx context.Context, userID string) (*model.ShelfEntry, error) {
	if !isUUID(userID) {
		return nil, nil
	}
	return findCurrentlyReading(ctx, r.db, userID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findCurrentlyReading(ctx context.Context, q queryRower, userID string) (*model.ShelfEntry, error) {
	entry, err := scanEntry(q.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM shelf_entries
		 WHERE user_id = $1 AND status = 'currently-reading'`,
		userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("読書中エントリの取得に失敗しました: %w", err)
	}
	return entry, nil
}

// ListShelved は指定ステータスのエントリを書籍情報付きで返す。
// readは読了日の新しい順、それ以外は更新日時の新しい順。
func (r *PostgresShelfRepo) ListShelved(ctx context.Context, userID string, status model.ShelfStatus) ([]model.ShelvedBook, error) {
	if !isUUID(userID) {
		return nil, nil
	}
	order := `e.updated_at DESC`
	if status == model.StatusRead {
		order = `e.date_finished DESC NULLS LAST, e.updated_at DESC`
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entryColumnsWithPrefix+`, `+bookColumnsWithPrefix+`
		 FROM shelf_entries e
		 INNER JOIN books b ON b.id = e.book_id
		 WHERE e.user_id = $1 AND e.status = $2
		 ORDER BY `+order,
		userID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("本棚一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var result []model.ShelvedBook
	for rows.Next() {
		var sb model.ShelvedBook
		entryTargets, finishEntry := entryScanTargets(&sb.Entry)
		bookTargets, finishBook := bookScanTargets(&sb.Book)
		if err := rows.Scan(append(entryTargets, bookTargets...)...); err != nil {
			return nil, fmt.Errorf("本棚一覧の読み取りに失敗しました: %w", err)
		}
		finishEntry()
		finishBook()
		result = append(result, sb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("本棚一覧の走査に失敗しました: %w", err)
	}
	return result, nil
}

type execQuerier interface {
	queryRower
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// upsertEntry は(user_id, book_id)をキーにエントリを作成または更新する。
func upsertEntry(ctx context.Context, q execQuerier, entry *model.ShelfEntry) (*model.ShelfEntry, error) {
	id := entry.ID
	if id == "" {
		id = uuid.New().String()
	}
	var page sql.NullInt64
	if entry.CurrentPage != nil {
		page = sql.NullInt64{Int64: int64(*entry.CurrentPage), Valid: true}
	}
	return scanEntry(q.QueryRowContext(ctx,
		`INSERT INTO shelf_entries (id, user_id, book_id, status, rating, current_page,
		                            date_started, date_finished, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		 ON CONFLICT (user_id, book_id) DO UPDATE SET
		    status = EXCLUDED.status,
		    rating = EXCLUDED.rating,
		    current_page = EXCLUDED.current_page,
		    date_started = EXCLUDED.date_started,
		    date_finished = EXCLUDED.date_finished,
		    updated_at = now()
		 RETURNING `+entryColumns,
		id, entry.UserID, entry.BookID, string(entry.Status), nullString(string(entry.Rating)), page,
		nullTime(entry.DateStarted), nullTime(entry.DateFinished),
	))
}

// Upsert はエントリを作成または更新する。
// 別の書籍が既に「読書中」の場合は CURRENTLY_READING_CONFLICT を返す。
func (r *PostgresShelfRepo) Upsert(ctx context.Context, entry *model.ShelfEntry) (*model.ShelfEntry, error) {
	saved, err := upsertEntry(ctx, r.db, entry)
	if err != nil {
		if constraint, ok := pqUniqueViolation(err); ok && constraint == oneCurrentIndex {
			return nil, r.conflictError(ctx, entry.UserID)
		}
		return nil, fmt.Errorf("本棚エントリの保存に失敗しました: %w", err)
	}
	return saved, nil
}

// conflictError は現在の「読書中」書籍を含む競合エラーを組み立てる。
func (r *PostgresShelfRepo) conflictError(ctx context.Context, userID string) error {
	current, err := findCurrentlyReading(ctx, r.db, userID)
	if err != nil || current == nil {
		return model.NewCurrentlyReadingConflictError("", "")
	}
	var title string
	if err := r.db.QueryRowContext(ctx, `SELECT title FROM books WHERE id = $1`, current.BookID).Scan(&title); err != nil {
		title = current.BookID
	}
	return model.NewCurrentlyReadingConflictError(current.BookID, title)
}

// ReplaceCurrentlyReading は既存の「読書中」エントリをto-readに戻し、
// entryを「読書中」として書き込む。1トランザクションで実行する。
func (r *PostgresShelfRepo) ReplaceCurrentlyReading(ctx context.Context, userID, displacedBookID string, entry *model.ShelfEntry) (*model.ShelfEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE shelf_entries SET
		    status = 'to-read',
		    current_page = NULL,
		    updated_at = now()
		 WHERE user_id = $1 AND book_id = $2 AND status = 'currently-reading'`,
		userID, displacedBookID,
	)
	if err != nil {
		return nil, fmt.Errorf("読書中エントリの置き換えに失敗しました: %w", err)
	}

	saved, err := upsertEntry(ctx, tx, entry)
	if err != nil {
		if constraint, ok := pqUniqueViolation(err); ok && constraint == oneCurrentIndex {
			return nil, r.conflictError(ctx, userID)
		}
		return nil, fmt.Errorf("本棚エントリの保存に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return saved, nil
}

// UpdateCurrentPage は「読書中」のエントリの現在のページ数のみを更新する。
// 読書中でない場合は更新せずnilを返す。
func (r *PostgresShelfRepo) UpdateCurrentPage(ctx context.Context, userID, bookID string, page int) (*model.ShelfEntry, error) {
	return r.updateOne(ctx, "現在ページの更新",
		`UPDATE shelf_entries SET current_page = $3, updated_at = now()
		 WHERE user_id = $1 AND book_id = $2 AND status = 'currently-reading'
		 RETURNING `+entryColumns,
		userID, bookID, page,
	)
}

// Complete はステータスをreadにし、current_pageをクリアし、date_finishedを設定する。
func (r *PostgresShelfRepo) Complete(ctx context.Context, userID, bookID string, finishedAt time.Time) (*model.ShelfEntry, error) {
	return r.updateOne(ctx, "読了処理",
		`UPDATE shelf_entries SET
		    status = 'read',
		    current_page = NULL,
		    date_finished = $3,
		    updated_at = now()
		 WHERE user_id = $1 AND book_id = $2
		 RETURNING `+entryColumns,
		userID, bookID, finishedAt,
	)
}

// UpdateRating は評価のみを更新する。
func (r *PostgresShelfRepo) UpdateRating(ctx context.Context, userID, bookID string, rating model.Rating) (*model.ShelfEntry, error) {
	return r.updateOne(ctx, "評価の更新",
		`UPDATE shelf_entries SET rating = $3, updated_at = now()
		 WHERE user_id = $1 AND book_id = $2
		 RETURNING `+entryColumns,
		userID, bookID, nullString(string(rating)),
	)
}

func (r *PostgresShelfRepo) updateOne(ctx context.Context, op, query string, args ...any) (*model.ShelfEntry, error) {
	entry, err := scanEntry(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%sに失敗しました: %w", op, err)
	}
	return entry, nil
}

// Delete はエントリを削除する。削除した場合はtrueを返す。
func (r *PostgresShelfRepo) Delete(ctx context.Context, userID, bookID string) (bool, error) {
	if !isUUID(userID) || !isUUID(bookID) {
		return false, nil
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM shelf_entries WHERE user_id = $1 AND book_id = $2`,
		userID, bookID,
	)
	if err != nil {
		return false, fmt.Errorf("本棚エントリの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ shelf.Store = (*PostgresShelfRepo)(nil)
