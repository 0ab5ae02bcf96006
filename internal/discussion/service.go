// Package discussion は書籍ごとのフォーラム投稿、スレッド形式のコメント、チャットを提供する。
// 全ての本文はマークアップを除去してから検証・保存する。
package discussion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shelfmate/internal/dto"
	"github.com/hitoshi/shelfmate/internal/model"
	"github.com/hitoshi/shelfmate/internal/repository"
	"github.com/hitoshi/shelfmate/internal/shelf"
	"github.com/hitoshi/shelfmate/internal/validation"
)

// DefaultChatHistory はチャット履歴の既定取得件数。
const DefaultChatHistory = 100

// Sanitizer は本文からマークアップを除去するインターフェース。
type Sanitizer interface {
	StripMarkup(raw string) string
}

// Service はディスカッションのサービス層。
type Service struct {
	posts       repository.PostRepository
	comments    repository.CommentRepository
	chat        repository.ChatRepository
	books       shelf.BookFinder
	sanitizer   Sanitizer
	validator   *validation.Validator
	chatHistory int
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	posts repository.PostRepository,
	comments repository.CommentRepository,
	chat repository.ChatRepository,
	books shelf.BookFinder,
	sanitizer Sanitizer,
	validator *validation.Validator,
) *Service {
	return &Service{
		posts:       posts,
		comments:    comments,
		chat:        chat,
		books:       books,
		sanitizer:   sanitizer,
		validator:   validator,
		chatHistory: DefaultChatHistory,
		now:         time.Now,
	}
}

// ListPosts は書籍の投稿を新しい順に返す。
func (s *Service) ListPosts(ctx context.Context, bookID string) ([]*model.Post, error) {
	if err := s.requireBook(ctx, bookID); err != nil {
		return nil, err
	}
	posts, err := s.posts.ListByBook(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	return posts, nil
}

// GetPost は投稿を返す。見つからない場合はPOST_NOT_FOUNDを返す。
func (s *Service) GetPost(ctx context.Context, postID string) (*model.Post, error) {
	post, err := s.posts.FindByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if post == nil {
		return nil, model.NewPostNotFoundError(postID)
	}
	return post, nil
}

// CreatePost は書籍に投稿を作成する。
func (s *Service) CreatePost(ctx context.Context, userID, bookID string, in dto.PostRequest) (*model.Post, error) {
	in.Title = s.sanitizer.StripMarkup(in.Title)
	in.PostText = s.sanitizer.StripMarkup(in.PostText)
	tags := make([]string, 0, len(in.Tags))
	for _, tag := range in.Tags {
		tags = append(tags, s.sanitizer.StripMarkup(tag))
	}
	in.Tags = tags
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}
	if err := s.requireBook(ctx, bookID); err != nil {
		return nil, err
	}

	post := &model.Post{
		ID:        uuid.New().String(),
		BookID:    bookID,
		UserID:    userID,
		Title:     in.Title,
		PostText:  in.PostText,
		Tags:      in.Tags,
		CreatedAt: s.now(),
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}

	slog.Info("post created",
		slog.String("post_id", post.ID),
		slog.String("book_id", bookID),
		slog.String("user_id", userID),
	)
	return post, nil
}

// ListComments は投稿のコメントを古い順に返す。返信も含む。
func (s *Service) ListComments(ctx context.Context, postID string) ([]*model.Comment, error) {
	if _, err := s.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	comments, err := s.comments.ListByPost(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("コメント一覧の取得に失敗しました: %w", err)
	}
	return comments, nil
}

// CreateComment は投稿にコメントする。
// 返信先は同じ投稿のコメントでなければならない。
func (s *Service) CreateComment(ctx context.Context, userID, postID string, in dto.CommentRequest) (*model.Comment, error) {
	in.CommentText = s.sanitizer.StripMarkup(in.CommentText)
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}
	if _, err := s.GetPost(ctx, postID); err != nil {
		return nil, err
	}

	if in.ParentCommentID != "" {
		parent, err := s.getComment(ctx, in.ParentCommentID)
		if err != nil {
			return nil, err
		}
		if parent.PostID != postID {
			return nil, model.NewInvalidArgumentError("返信先のコメントは同じ投稿のものを指定してください。")
		}
	}

	comment := &model.Comment{
		ID:              uuid.New().String(),
		PostID:          postID,
		UserID:          userID,
		CommentText:     in.CommentText,
		ParentCommentID: in.ParentCommentID,
		CreatedAt:       s.now(),
	}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, fmt.Errorf("コメントの作成に失敗しました: %w", err)
	}
	return comment, nil
}

// Reply はコメントに返信する。返信は親コメントと同じ投稿に属する。
func (s *Service) Reply(ctx context.Context, userID, commentID, text string) (*model.Comment, error) {
	parent, err := s.getComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	return s.CreateComment(ctx, userID, parent.PostID, dto.CommentRequest{
		CommentText:     text,
		ParentCommentID: parent.ID,
	})
}

func (s *Service) getComment(ctx context.Context, commentID string) (*model.Comment, error) {
	comment, err := s.comments.FindByID(ctx, commentID)
	if err != nil {
		return nil, fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}
	if comment == nil {
		return nil, model.NewCommentNotFoundError(commentID)
	}
	return comment, nil
}

// ChatMessages は書籍チャットの直近のメッセージを古い順に返す。
func (s *Service) ChatMessages(ctx context.Context, bookID string) ([]*model.ChatMessage, error) {
	if err := s.requireBook(ctx, bookID); err != nil {
		return nil, err
	}
	messages, err := s.chat.ListByBook(ctx, bookID, s.chatHistory)
	if err != nil {
		return nil, fmt.Errorf("チャット履歴の取得に失敗しました: %w", err)
	}
	return messages, nil
}

// SendChat は書籍チャットにメッセージを送信する。
func (s *Service) SendChat(ctx context.Context, userID, bookID string, in dto.ChatRequest) (*model.ChatMessage, error) {
	in.MessageText = s.sanitizer.StripMarkup(in.MessageText)
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}
	if err := s.requireBook(ctx, bookID); err != nil {
		return nil, err
	}

	msg := &model.ChatMessage{
		ID:          uuid.New().String(),
		BookID:      bookID,
		UserID:      userID,
		MessageText: in.MessageText,
		CreatedAt:   s.now(),
	}
	if err := s.chat.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("メッセージの送信に失敗しました: %w", err)
	}
	return msg, nil
}

func (s *Service) requireBook(ctx context.Context, bookID string) error {
	book, err := s.books.FindBook(ctx, bookID)
	if err != nil {
		return fmt.Errorf("書籍の取得に失敗しました: %w", err)
	}
	if book == nil {
		return model.NewBookNotFoundError(bookID)
	}
	return nil
}
