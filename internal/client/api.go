package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/shelfmate/internal/dto"
)

// Profile はログイン中のユーザーのプロフィールを返す。
func (c *Client) Profile(ctx context.Context) (*dto.User, error) {
	var user dto.User
	if err := c.getJSON(ctx, "/user/profile", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Search はカタログを検索する。searchTypeが空の場合はサーバーの既定（any）になる。
func (c *Client) Search(ctx context.Context, query, searchType string) ([]dto.Book, error) {
	q := url.Values{}
	q.Set("query", query)
	if searchType != "" {
		q.Set("type", searchType)
	}
	var books []dto.Book
	if err := c.getJSON(ctx, "/api/books", q, &books); err != nil {
		return nil, err
	}
	return books, nil
}

// Book は書籍の詳細を返す。
func (c *Client) Book(ctx context.Context, bookID string) (*dto.Book, error) {
	var book dto.Book
	if err := c.getJSON(ctx, "/api/books/"+url.PathEscape(bookID), nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// Snapshot はユーザーの本棚全体を返す。
func (c *Client) Snapshot(ctx context.Context, userID string) (*dto.Snapshot, error) {
	var snap dto.Snapshot
	if err := c.getJSON(ctx, shelfPath(userID)+"/snapshot", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// LastRead は最後に読了した書籍を返す。
func (c *Client) LastRead(ctx context.Context, userID string) (*dto.LastRead, error) {
	var last dto.LastRead
	if err := c.getJSON(ctx, shelfPath(userID)+"/books/lastread", nil, &last); err != nil {
		return nil, err
	}
	return &last, nil
}

// Posts は書籍の投稿一覧を返す。
func (c *Client) Posts(ctx context.Context, bookID string) ([]dto.Post, error) {
	var posts []dto.Post
	if err := c.getJSON(ctx, "/api/books/"+url.PathEscape(bookID)+"/posts", nil, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// CreatePost は書籍に投稿する。
func (c *Client) CreatePost(ctx context.Context, bookID string, req dto.PostRequest) (*dto.Post, error) {
	var post dto.Post
	if err := c.do(ctx, http.MethodPost, "/api/books/"+url.PathEscape(bookID)+"/posts", nil, req, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// Comments は投稿のコメント一覧を返す。
func (c *Client) Comments(ctx context.Context, postID string) ([]dto.Comment, error) {
	var comments []dto.Comment
	if err := c.getJSON(ctx, "/api/posts/"+url.PathEscape(postID)+"/comments", nil, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// CreateComment は投稿にコメントする。ParentCommentIDを指定した場合は返信になる。
func (c *Client) CreateComment(ctx context.Context, postID string, req dto.CommentRequest) (*dto.Comment, error) {
	path := "/api/posts/" + url.PathEscape(postID) + "/comments"
	if req.ParentCommentID != "" {
		path = "/api/comments/" + url.PathEscape(req.ParentCommentID) + "/reply"
	}
	var comment dto.Comment
	if err := c.do(ctx, http.MethodPost, path, nil, req, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// ChatMessages は書籍チャットの履歴を返す。
func (c *Client) ChatMessages(ctx context.Context, bookID string) ([]dto.ChatMessage, error) {
	var messages []dto.ChatMessage
	if err := c.getJSON(ctx, "/chat/"+url.PathEscape(bookID)+"/messages", nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SendChat は書籍チャットにメッセージを送信する。
func (c *Client) SendChat(ctx context.Context, bookID, text string) (*dto.ChatMessage, error) {
	var msg dto.ChatMessage
	req := dto.ChatRequest{MessageText: text}
	if err := c.do(ctx, http.MethodPost, "/chat/"+url.PathEscape(bookID)+"/send", nil, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Recommendations はユーザーの推薦書籍を順位順に返す。
func (c *Client) Recommendations(ctx context.Context, userID string, refreshCount int) ([]dto.Recommendation, error) {
	q := url.Values{}
	if refreshCount > 0 {
		q.Set("refresh_count", strconv.Itoa(refreshCount))
	}
	var recs []dto.Recommendation
	path := "/recs/api/user/" + url.PathEscape(userID) + "/recommendations"
	if err := c.getJSON(ctx, path, q, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Onboard は選択したジャンルを保存し、そのジャンルに基づく推薦を返す。
func (c *Client) Onboard(ctx context.Context, genres []string) ([]dto.Recommendation, error) {
	var recs []dto.Recommendation
	req := dto.GenresRequest{Genres: genres}
	if err := c.do(ctx, http.MethodPost, "/recs/api/user/onboarding/recommendations", nil, req, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
