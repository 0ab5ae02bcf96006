package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/shelfmate/internal/model"
)

// maxSessionIDLen は sessions.id の列長。
const maxSessionIDLen = 128

// ErrSessionIDCollision は同じIDのセッションが既に存在する場合に返る。
var ErrSessionIDCollision = errors.New("session id already exists")

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
// セッションIDはBearerトークンとCookie値を兼ねる。期限切れ行の削除は cleanup ワーカーが行う。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを保存する。既存IDを上書きせず ErrSessionIDCollision を返す。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if !session.ExpiresAt.After(session.CreatedAt) {
		return fmt.Errorf("session for user %s expires before it is created", session.UserID)
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		session.ID, session.UserID, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrSessionIDCollision
	}
	return nil
}

// FindByID はBearerトークンまたはCookie値からセッションを引く。
// 期限切れ、退会済みユーザー、列長を超えるトークンはnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if id == "" || len(id) > maxSessionIDLen {
		return nil, nil
	}

	session := &model.Session{}
	err := r.db.QueryRowContext(ctx,
		`SELECT s.id, s.user_id, s.expires_at, s.created_at
		 FROM sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.id = $1 AND s.expires_at > now()`,
		id,
	).Scan(&session.ID, &session.UserID, &session.ExpiresAt, &session.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

// DeleteByID はログアウトしたセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	return r.delete(ctx, "session", `DELETE FROM sessions WHERE id = $1`, id)
}

// DeleteByUserID は退会時にユーザーの全セッションを削除する。
func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	return r.delete(ctx, "user sessions", `DELETE FROM sessions WHERE user_id = $1`, userID)
}

func (r *PostgresSessionRepo) delete(ctx context.Context, what, query, arg string) error {
	if _, err := r.db.ExecContext(ctx, query, arg); err != nil {
		return fmt.Errorf("failed to delete %s: %w", what, err)
	}
	return nil
}

var _ SessionRepository = (*PostgresSessionRepo)(nil)
