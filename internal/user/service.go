// Package user はプロフィール参照・編集、オンボーディングのジャンル保存、退会処理を提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/shelfmate/internal/model"
	"github.com/hitoshi/shelfmate/internal/repository"
)

// maxGenres はオンボーディングで保存できるジャンル数の上限。
const maxGenres = 20

// SnapshotInvalidator は本棚スナップショットキャッシュの破棄インターフェース。
type SnapshotInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	snapshots   SnapshotInvalidator
}

// NewService はServiceの新しいインスタンスを生成する。
// snapshotsはnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	snapshots SnapshotInvalidator,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		snapshots:   snapshots,
	}
}

// Profile はユーザーのプロフィールを返す。
func (s *Service) Profile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdateProfile は表示名とプロフィール画像を更新する。
// 空のフィールドは変更しない。両方空の場合はINVALID_ARGUMENTを返す。
func (s *Service) UpdateProfile(ctx context.Context, userID, name, profilePicture string) (*model.User, error) {
	name = strings.TrimSpace(name)
	profilePicture = strings.TrimSpace(profilePicture)
	if name == "" && profilePicture == "" {
		return nil, model.NewInvalidArgumentError("更新する項目がありません。")
	}

	user, err := s.userRepo.UpdateProfile(ctx, userID, name, profilePicture)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	slog.Info("プロフィールを更新しました", slog.String("user_id", userID))
	return user, nil
}

// SaveGenres はオンボーディングで選択されたジャンルを保存し、正規化後のジャンルを返す。
// 前後の空白を除去し、空要素と重複（大文字小文字を区別しない）を取り除く。
func (s *Service) SaveGenres(ctx context.Context, userID string, genres []string) ([]string, error) {
	normalized := normalizeGenres(genres)
	if len(normalized) == 0 {
		return nil, model.NewInvalidArgumentError("ジャンルを1つ以上選択してください。")
	}
	if len(normalized) > maxGenres {
		return nil, model.NewInvalidArgumentError(fmt.Sprintf("ジャンルは%d個まで選択できます。", maxGenres))
	}

	if err := s.userRepo.UpdateGenres(ctx, userID, normalized); err != nil {
		return nil, fmt.Errorf("ジャンルの保存に失敗しました: %w", err)
	}
	return normalized, nil
}

func normalizeGenres(genres []string) []string {
	seen := make(map[string]struct{}, len(genres))
	out := make([]string, 0, len(genres))
	for _, g := range genres {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		key := strings.ToLower(g)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, g)
	}
	return out
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → user（+ CASCADE: identities, shelf_entries, posts, comments, chat_messages）
// booksは共有カタログとして残す。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	if s.snapshots != nil {
		if err := s.snapshots.Invalidate(ctx, userID); err != nil {
			slog.Warn("スナップショットの破棄に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)
	return nil
}
