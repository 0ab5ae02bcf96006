package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/shelfmate/internal/model"
)

// anonymousUsername は投稿者名が取得できない場合の表示名。
const anonymousUsername = "Anonymous"

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

const postColumns = `id, book_id, user_id, title, post_text, tags, created_at`

func scanPost(row rowScanner) (*model.Post, error) {
	post := &model.Post{}
	if err := row.Scan(
		&post.ID, &post.BookID, &post.UserID, &post.Title, &post.PostText,
		pq.Array(&post.Tags), &post.CreatedAt,
	); err != nil {
		return nil, err
	}
	return post, nil
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	if !isUUID(id) {
		return nil, nil
	}
	post, err := scanPost(r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	return post, nil
}

// ListByBook は書籍の投稿を新しい順に返す。
func (r *PostgresPostRepo) ListByBook(ctx context.Context, bookID string) ([]*model.Post, error) {
	if !isUUID(bookID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE book_id = $1 ORDER BY created_at DESC, id DESC`,
		bookID,
	)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("投稿の読み取りに失敗しました: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投稿一覧の走査に失敗しました: %w", err)
	}
	return posts, nil
}

// Create は投稿を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, book_id, user_id, title, post_text, tags, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		post.ID, post.BookID, post.UserID, post.Title, post.PostText,
		pq.Array(nonNil(post.Tags)), post.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}
	return nil
}

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
type PostgresCommentRepo struct {
	db *sql.DB
}

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db *sql.DB) *PostgresCommentRepo {
	return &PostgresCommentRepo{db: db}
}

const commentColumns = `id, post_id, user_id, comment_text, parent_comment_id, created_at`

func scanComment(row rowScanner) (*model.Comment, error) {
	c := &model.Comment{}
	var parent sql.NullString
	if err := row.Scan(&c.ID, &c.PostID, &c.UserID, &c.CommentText, &parent, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.ParentCommentID = nullStringValue(parent)
	return c, nil
}

// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
func (r *PostgresCommentRepo) FindByID(ctx context.Context, id string) (*model.Comment, error) {
	if !isUUID(id) {
		return nil, nil
	}
	c, err := scanComment(r.db.QueryRowContext(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}
	return c, nil
}

// ListByPost は投稿のコメントを古い順に返す。
func (r *PostgresCommentRepo) ListByPost(ctx context.Context, postID string) ([]*model.Comment, error) {
	if !isUUID(postID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE post_id = $1 ORDER BY created_at ASC, id ASC`,
		postID,
	)
	if err != nil {
		return nil, fmt.Errorf("コメント一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var comments []*model.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("コメントの読み取りに失敗しました: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("コメント一覧の走査に失敗しました: %w", err)
	}
	return comments, nil
}

// Create はコメントを作成する。
func (r *PostgresCommentRepo) Create(ctx context.Context, c *model.Comment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO comments (id, post_id, user_id, comment_text, parent_comment_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.PostID, c.UserID, c.CommentText, nullString(c.ParentCommentID), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("コメントの作成に失敗しました: %w", err)
	}
	return nil
}

// PostgresChatRepo はPostgreSQLを使用したチャットリポジトリ。
type PostgresChatRepo struct {
	db *sql.DB
}

// NewPostgresChatRepo はPostgresChatRepoを生成する。
func NewPostgresChatRepo(db *sql.DB) *PostgresChatRepo {
	return &PostgresChatRepo{db: db}
}

// ListByBook は書籍のチャットメッセージを古い順に最大limit件返す。
// 直近limit件を取得してから時系列順に並べ替える。
func (r *PostgresChatRepo) ListByBook(ctx context.Context, bookID string, limit int) ([]*model.ChatMessage, error) {
	if !isUUID(bookID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, book_id, user_id, username, message_text, created_at FROM (
		     SELECT m.id, m.book_id, m.user_id, u.name AS username, m.message_text, m.created_at
		     FROM chat_messages m
		     LEFT JOIN users u ON u.id = m.user_id
		     WHERE m.book_id = $1
		     ORDER BY m.created_at DESC, m.id DESC
		     LIMIT $2
		 ) recent
		 ORDER BY created_at ASC, id ASC`,
		bookID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("チャットメッセージの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var messages []*model.ChatMessage
	for rows.Next() {
		m := &model.ChatMessage{}
		var username sql.NullString
		if err := rows.Scan(&m.ID, &m.BookID, &m.UserID, &username, &m.MessageText, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("チャットメッセージの読み取りに失敗しました: %w", err)
		}
		m.Username = nullStringValue(username)
		if m.Username == "" {
			m.Username = anonymousUsername
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("チャットメッセージの走査に失敗しました: %w", err)
	}
	return messages, nil
}

// Create はメッセージを作成する。
func (r *PostgresChatRepo) Create(ctx context.Context, m *model.ChatMessage) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, book_id, user_id, message_text, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.BookID, m.UserID, m.MessageText, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("チャットメッセージの作成に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ PostRepository    = (*PostgresPostRepo)(nil)
	_ CommentRepository = (*PostgresCommentRepo)(nil)
	_ ChatRepository    = (*PostgresChatRepo)(nil)
)
