package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/shelfmate/internal/model"
)

// PostgresCatalogSourceRepo はPostgreSQLを使用したカタログ取り込み元リポジトリ。
type PostgresCatalogSourceRepo struct {
	db *sql.DB
}

// NewPostgresCatalogSourceRepo はPostgresCatalogSourceRepoを生成する。
func NewPostgresCatalogSourceRepo(db *sql.DB) *PostgresCatalogSourceRepo {
	return &PostgresCatalogSourceRepo{db: db}
}

const sourceColumns = `id, feed_url, title, etag, last_modified, fetch_status,
        consecutive_errors, error_message, next_fetch_at, created_at, updated_at`

func scanSource(row rowScanner) (*model.CatalogSource, error) {
	src := &model.CatalogSource{}
	var etag, lastModified, errorMessage sql.NullString
	if err := row.Scan(
		&src.ID, &src.FeedURL, &src.Title, &etag, &lastModified, &src.FetchStatus,
		&src.ConsecutiveErrors, &errorMessage, &src.NextFetchAt, &src.CreatedAt, &src.UpdatedAt,
	); err != nil {
		return nil, err
	}
	src.ETag = nullStringValue(etag)
	src.LastModified = nullStringValue(lastModified)
	src.ErrorMessage = nullStringValue(errorMessage)
	return src, nil
}

// FindByFeedURL はフィードURLで取り込み元を検索する。見つからない場合はnilを返す。
func (r *PostgresCatalogSourceRepo) FindByFeedURL(ctx context.Context, feedURL string) (*model.CatalogSource, error) {
	src, err := scanSource(r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM catalog_sources WHERE feed_url = $1`,
		feedURL,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("取り込み元の検索に失敗しました: %w", err)
	}
	return src, nil
}

// Create は取り込み元を登録する。
func (r *PostgresCatalogSourceRepo) Create(ctx context.Context, src *model.CatalogSource) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO catalog_sources (id, feed_url, title, fetch_status, consecutive_errors,
		                              next_fetch_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		src.ID, src.FeedURL, src.Title, src.FetchStatus, src.ConsecutiveErrors,
		src.NextFetchAt, src.CreatedAt, src.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("取り込み元の作成に失敗しました: %w", err)
	}
	return nil
}

// ListDueForFetch はフェッチ対象の取り込み元を取得する。
func (r *PostgresCatalogSourceRepo) ListDueForFetch(ctx context.Context) ([]*model.CatalogSource, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sourceColumns+`
		 FROM catalog_sources
		 WHERE next_fetch_at <= now()
		   AND fetch_status = 'active'
		 ORDER BY next_fetch_at ASC
		 FOR UPDATE SKIP LOCKED`,
	)
	if err != nil {
		return nil, fmt.Errorf("フェッチ対象の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []*model.CatalogSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("フェッチ対象の読み取りに失敗しました: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フェッチ対象の走査に失敗しました: %w", err)
	}
	return sources, nil
}

// UpdateFetchState はフェッチ状態を更新する。
func (r *PostgresCatalogSourceRepo) UpdateFetchState(ctx context.Context, src *model.CatalogSource) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE catalog_sources SET
		    title = COALESCE(NULLIF($2, ''), title),
		    fetch_status = $3,
		    consecutive_errors = $4,
		    error_message = $5,
		    next_fetch_at = $6,
		    etag = $7,
		    last_modified = $8,
		    updated_at = now()
		 WHERE id = $1`,
		src.ID,
		src.Title,
		src.FetchStatus,
		src.ConsecutiveErrors,
		nullString(src.ErrorMessage),
		src.NextFetchAt,
		nullString(src.ETag),
		nullString(src.LastModified),
	)
	if err != nil {
		return fmt.Errorf("フェッチ状態の更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CatalogSourceRepository = (*PostgresCatalogSourceRepo)(nil)
