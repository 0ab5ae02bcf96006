// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/shelfmate/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile は表示名とプロフィール画像を更新する。空文字列のフィールドは変更しない。
	UpdateProfile(ctx context.Context, id, name, profilePicture string) (*model.User, error)

	// UpdateGenres はオンボーディングで選択したジャンルを保存する。
	UpdateGenres(ctx context.Context, id string, genres []string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、shelf_entries、posts、comments、chat_messagesはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdPのアカウントからユーザーを引き当てる。
type IdentityRepository interface {
	// FindUserByIdentity は紐付いたユーザーを返す。紐付けがない場合はnilを返す。
	FindUserByIdentity(ctx context.Context, provider, providerUserID string) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// BookRepository はカタログ書籍の永続化インターフェース。
type BookRepository interface {
	// FindByID は指定IDの書籍を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Book, error)

	// Search は検索種別に応じて大文字小文字を区別しない部分一致で書籍を検索する。
	Search(ctx context.Context, query string, searchType model.SearchType, limit int) ([]*model.Book, error)

	// UpsertBySourceGUID はsource_guidをキーに書籍を作成または上書き更新する。
	// 新規作成した場合はtrueを返す。
	UpsertBySourceGUID(ctx context.Context, book *model.Book) (bool, error)
}

// PostRepository はフォーラム投稿の永続化インターフェース。
type PostRepository interface {
	// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)
	// ListByBook は書籍の投稿を新しい順に返す。
	ListByBook(ctx context.Context, bookID string) ([]*model.Post, error)
	// Create は投稿を作成する。
	Create(ctx context.Context, post *model.Post) error
}

// CommentRepository はコメントの永続化インターフェース。
type CommentRepository interface {
	// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Comment, error)
	// ListByPost は投稿のコメントを古い順に返す。返信も含む。
	ListByPost(ctx context.Context, postID string) ([]*model.Comment, error)
	// Create はコメントを作成する。
	Create(ctx context.Context, comment *model.Comment) error
}

// ChatRepository は書籍チャットの永続化インターフェース。
type ChatRepository interface {
	// ListByBook は書籍のチャットメッセージを古い順に返す。Usernameを含む。
	ListByBook(ctx context.Context, bookID string, limit int) ([]*model.ChatMessage, error)
	// Create はメッセージを作成する。
	Create(ctx context.Context, message *model.ChatMessage) error
}

// CatalogSourceRepository はカタログ取り込み元の永続化インターフェース。
type CatalogSourceRepository interface {
	// FindByFeedURL はフィードURLで取り込み元を検索する。見つからない場合はnilを返す。
	FindByFeedURL(ctx context.Context, feedURL string) (*model.CatalogSource, error)

	// Create は取り込み元を登録する。
	Create(ctx context.Context, source *model.CatalogSource) error

	// ListDueForFetch はフェッチ対象の取り込み元を取得する。
	// next_fetch_at <= now() かつ fetch_status = 'active' の行を
	// FOR UPDATE SKIP LOCKEDで排他的に取得する。
	ListDueForFetch(ctx context.Context) ([]*model.CatalogSource, error)

	// UpdateFetchState はフェッチ状態を更新する。
	UpdateFetchState(ctx context.Context, source *model.CatalogSource) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
