package model

import "time"

// Post は書籍ごとのフォーラム投稿を表す。
type Post struct {
	ID        string
	BookID    string
	UserID    string
	Title     string
	PostText  string
	Tags      []string
	CreatedAt time.Time
}

// Comment は投稿へのコメントを表す。
// ParentCommentIDが空でない場合は返信。
type Comment struct {
	ID              string
	PostID          string
	UserID          string
	CommentText     string
	ParentCommentID string
	CreatedAt       time.Time
}

// ChatMessage は書籍ごとのチャットメッセージを表す。
type ChatMessage struct {
	ID          string
	BookID      string
	UserID      string
	Username    string // 表示用。投稿者が退会済みの場合は "Anonymous"
	MessageText string
	CreatedAt   time.Time
}
