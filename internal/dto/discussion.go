package dto

import (
	"time"

	"github.com/hitoshi/shelfmate/internal/model"
)

// Post はフォーラム投稿のクライアント向け表現。
type Post struct {
	ID        string    `json:"id" validate:"required"`
	BookID    string    `json:"book_id" validate:"required"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	PostText  string    `json:"post_text"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

// FromPost はドメインの投稿をDTOに変換する。
func FromPost(p *model.Post) *Post {
	return &Post{
		ID:        p.ID,
		BookID:    p.BookID,
		UserID:    p.UserID,
		Title:     p.Title,
		PostText:  p.PostText,
		Tags:      nonNil(p.Tags),
		CreatedAt: p.CreatedAt,
	}
}

// FromPosts は投稿のスライスを変換する。
func FromPosts(posts []*model.Post) []*Post {
	out := make([]*Post, 0, len(posts))
	for _, p := range posts {
		out = append(out, FromPost(p))
	}
	return out
}

// Comment はコメントのクライアント向け表現。
type Comment struct {
	ID              string    `json:"id" validate:"required"`
	PostID          string    `json:"post_id" validate:"required"`
	UserID          string    `json:"user_id"`
	CommentText     string    `json:"comment_text"`
	ParentCommentID string    `json:"parent_comment_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// FromComment はドメインのコメントをDTOに変換する。
func FromComment(c *model.Comment) *Comment {
	return &Comment{
		ID:              c.ID,
		PostID:          c.PostID,
		UserID:          c.UserID,
		CommentText:     c.CommentText,
		ParentCommentID: c.ParentCommentID,
		CreatedAt:       c.CreatedAt,
	}
}

// FromComments はコメントのスライスを変換する。
func FromComments(comments []*model.Comment) []*Comment {
	out := make([]*Comment, 0, len(comments))
	for _, c := range comments {
		out = append(out, FromComment(c))
	}
	return out
}

// ChatMessage はチャットメッセージのクライアント向け表現。
type ChatMessage struct {
	ID          string    `json:"id" validate:"required"`
	BookID      string    `json:"book_id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	MessageText string    `json:"message_text"`
	CreatedAt   time.Time `json:"created_at"`
}

// FromChatMessage はドメインのチャットメッセージをDTOに変換する。
func FromChatMessage(m *model.ChatMessage) *ChatMessage {
	return &ChatMessage{
		ID:          m.ID,
		BookID:      m.BookID,
		UserID:      m.UserID,
		Username:    m.Username,
		MessageText: m.MessageText,
		CreatedAt:   m.CreatedAt,
	}
}

// FromChatMessages はチャットメッセージのスライスを変換する。
func FromChatMessages(messages []*model.ChatMessage) []*ChatMessage {
	out := make([]*ChatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, FromChatMessage(m))
	}
	return out
}

// PostRequest は投稿作成のリクエストボディ。
type PostRequest struct {
	Title    string   `json:"title" validate:"notblank,max=200"`
	PostText string   `json:"post_text" validate:"notblank,max=10000"`
	Tags     []string `json:"tags,omitempty" validate:"max=10,dive,notblank,max=40"`
}

// CommentRequest はコメント作成のリクエストボディ。ParentCommentIDを指定すると返信になる。
type CommentRequest struct {
	CommentText     string `json:"comment_text" validate:"notblank,max=5000"`
	ParentCommentID string `json:"parent_comment_id,omitempty"`
}

// ChatRequest はチャット送信のリクエストボディ。
type ChatRequest struct {
	MessageText string `json:"message_text" validate:"notblank,max=2000"`
}
