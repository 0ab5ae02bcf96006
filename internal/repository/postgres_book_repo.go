package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/shelfmate/internal/model"
)

// PostgresBookRepo はPostgreSQLを使用した書籍リポジトリ。
type PostgresBookRepo struct {
	db *sql.DB
}

// NewPostgresBookRepo はPostgresBookRepoを生成する。
func NewPostgresBookRepo(db *sql.DB) *PostgresBookRepo {
	return &PostgresBookRepo{db: db}
}

const bookColumns = `id, title, authors, isbn, page_count, cover_image, summary, genre_tags,
        publisher, publication_date, language, source_guid, created_at, updated_at`

// bookColumnsWithPrefix は結合クエリ用に b. を付けたカラム一覧。
const bookColumnsWithPrefix = `b.id, b.title, b.authors, b.isbn, b.page_count, b.cover_image, b.summary, b.genre_tags,
        b.publisher, b.publication_date, b.language, b.source_guid, b.created_at, b.updated_at`

// bookScanTargets はbooksの1行を読み取るためのスキャン先を返す。
// 読み取り後にfinishを呼ぶとNULL許容カラムがbookに反映される。
func bookScanTargets(book *model.Book) (targets []any, finish func()) {
	var cover, summary, publisher, pubDate, language, sourceGUID sql.NullString
	targets = []any{
		&book.ID, &book.Title, pq.Array(&book.Authors), pq.Array(&book.ISBN), &book.PageCount,
		&cover, &summary, pq.Array(&book.GenreTags),
		&publisher, &pubDate, &language, &sourceGUID, &book.CreatedAt, &book.UpdatedAt,
	}
	finish = func() {
		book.CoverImage = nullStringValue(cover)
		book.Summary = nullStringValue(summary)
		book.Publisher = nullStringValue(publisher)
		book.PublicationDate = nullStringValue(pubDate)
		book.Language = nullStringValue(language)
		book.SourceGUID = nullStringValue(sourceGUID)
	}
	return targets, finish
}

// FindByID は指定IDの書籍を取得する。見つからない場合はnilを返す。
// IDがUUID形式でない場合も見つからない扱いとする。
func (r *PostgresBookRepo) FindByID(ctx context.Context, id string) (*model.Book, error) {
	if !isUUID(id) {
		return nil, nil
	}
	book := &model.Book{}
	targets, finish := bookScanTargets(book)
	err := r.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = $1`,
		id,
	).Scan(targets...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("書籍の取得に失敗しました: %w", err)
	}
	finish()
	return book, nil
}

// Search は検索種別に応じて大文字小文字を区別しない部分一致で書籍を検索する。
// ISBNはハイフンを除去した完全一致で、10桁・13桁のどちらでも一致する。
func (r *PostgresBookRepo) Search(ctx context.Context, query string, searchType model.SearchType, limit int) ([]*model.Book, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	isbn := NormalizeISBN(query)

	var where string
	switch searchType {
	case model.SearchTitle:
		where = `title ILIKE $1`
	case model.SearchAuthor:
		where = `EXISTS (SELECT 1 FROM unnest(authors) a WHERE a ILIKE $1)`
	case model.SearchISBN:
		where = `$2 <> '' AND EXISTS (SELECT 1 FROM unnest(isbn) i WHERE replace(i, '-', '') = $2)`
	default:
		where = `title ILIKE $1
		    OR EXISTS (SELECT 1 FROM unnest(authors) a WHERE a ILIKE $1)
		    OR ($2 <> '' AND EXISTS (SELECT 1 FROM unnest(isbn) i WHERE replace(i, '-', '') = $2))`
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookColumns+`
		 FROM books
		 WHERE `+where+`
		 ORDER BY title ASC, id ASC
		 LIMIT $3`,
		pattern, isbn, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("書籍の検索に失敗しました: %w", err)
	}
	defer rows.Close()

	var books []*model.Book
	for rows.Next() {
		book := &model.Book{}
		targets, finish := bookScanTargets(book)
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("書籍の読み取りに失敗しました: %w", err)
		}
		finish()
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("書籍の走査に失敗しました: %w", err)
	}
	return books, nil
}

// UpsertBySourceGUID はsource_guidをキーに書籍を作成または上書き更新する。
// 新規作成した場合はtrueを返す。book.IDには確定したIDが設定される。
func (r *PostgresBookRepo) UpsertBySourceGUID(ctx context.Context, book *model.Book) (bool, error) {
	if book.SourceGUID == "" {
		return false, fmt.Errorf("source_guid is required for upsert")
	}
	var inserted bool
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO books (id, title, authors, isbn, page_count, cover_image, summary, genre_tags,
		                    publisher, publication_date, language, source_guid, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		 ON CONFLICT (source_guid) WHERE source_guid IS NOT NULL DO UPDATE SET
		    title = EXCLUDED.title,
		    authors = EXCLUDED.authors,
		    isbn = EXCLUDED.isbn,
		    page_count = CASE WHEN EXCLUDED.page_count > 0 THEN EXCLUDED.page_count ELSE books.page_count END,
		    cover_image = COALESCE(EXCLUDED.cover_image, books.cover_image),
		    summary = EXCLUDED.summary,
		    genre_tags = EXCLUDED.genre_tags,
		    publisher = COALESCE(EXCLUDED.publisher, books.publisher),
		    publication_date = COALESCE(EXCLUDED.publication_date, books.publication_date),
		    language = COALESCE(EXCLUDED.language, books.language),
		    updated_at = now()
		 RETURNING id, (xmax = 0)`,
		book.ID, book.Title, pq.Array(nonNil(book.Authors)), pq.Array(nonNil(book.ISBN)), book.PageCount,
		nullString(book.CoverImage), nullString(book.Summary), pq.Array(nonNil(book.GenreTags)),
		nullString(book.Publisher), nullString(book.PublicationDate), nullString(book.Language),
		book.SourceGUID,
	).Scan(&book.ID, &inserted)
	if err != nil {
		return false, fmt.Errorf("書籍のUPSERTに失敗しました: %w", err)
	}
	return inserted, nil
}

// NormalizeISBN はISBNからハイフンと空白を除去し、数字とXのみを残す。
// ISBNとして有効な長さ（10桁/13桁）でない場合は空文字列を返す。
func NormalizeISBN(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		switch {
		case r >= '0' && r <= '9', r == 'X':
			b.WriteRune(r)
		case r == '-' || r == ' ':
		default:
			return ""
		}
	}
	n := b.String()
	if len(n) != 10 && len(n) != 13 {
		return ""
	}
	return n
}

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

// compile-time interface check
var _ BookRepository = (*PostgresBookRepo)(nil)
