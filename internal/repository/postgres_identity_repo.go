package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/shelfmate/internal/model"
)

// PostgresIdentityRepo はidentitiesテーブルを通してログインユーザーを引き当てる。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindUserByIdentity はIdPのアカウントに紐付いたユーザーを返す。
// providerは小文字に正規化して照合する。紐付けがない場合はnilを返す。
func (r *PostgresIdentityRepo) FindUserByIdentity(ctx context.Context, provider, providerUserID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT u.id, u.email, u.name, u.profile_picture, u.genres, u.created_at, u.updated_at
		 FROM identities i
		 JOIN users u ON u.id = i.user_id
		 WHERE i.provider = $1 AND i.provider_user_id = $2`,
		NormalizeProvider(provider), providerUserID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by %s identity: %w", provider, err)
	}
	return user, nil
}

// NormalizeProvider はidentitiesに保存するprovider名を返す。
func NormalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
