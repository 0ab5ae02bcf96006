package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/shelfmate/internal/dto"
	"github.com/hitoshi/shelfmate/internal/model"
)

// DiscussionServiceInterface はディスカッションハンドラーが必要とするサービスインターフェース。
// 入力の検証とマークアップ除去はサービス層で行う。
type DiscussionServiceInterface interface {
	ListPosts(ctx context.Context, bookID string) ([]*model.Post, error)
	GetPost(ctx context.Context, postID string) (*model.Post, error)
	CreatePost(ctx context.Context, userID, bookID string, in dto.PostRequest) (*model.Post, error)
	ListComments(ctx context.Context, postID string) ([]*model.Comment, error)
	CreateComment(ctx context.Context, userID, postID string, in dto.CommentRequest) (*model.Comment, error)
	Reply(ctx context.Context, userID, commentID, text string) (*model.Comment, error)
	ChatMessages(ctx context.Context, bookID string) ([]*model.ChatMessage, error)
	SendChat(ctx context.Context, userID, bookID string, in dto.ChatRequest) (*model.ChatMessage, error)
}

// DiscussionHandler はフォーラムとチャットのHTTPハンドラー。
type DiscussionHandler struct {
	service DiscussionServiceInterface
}

// NewDiscussionHandler はDiscussionHandlerを生成する。
func NewDiscussionHandler(service DiscussionServiceInterface) *DiscussionHandler {
	return &DiscussionHandler{service: service}
}

// ListPosts は書籍の投稿一覧を返す。
// GET /api/books/{bookId}/posts
func (h *DiscussionHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.service.ListPosts(r.Context(), chi.URLParam(r, "bookId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromPosts(posts))
}

// CreatePost は書籍に投稿する。
// POST /api/books/{bookId}/posts
func (h *DiscussionHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req dto.PostRequest
	if !decodeJSON(w, r, nil, &req) {
		return
	}

	post, err := h.service.CreatePost(r.Context(), userID, chi.URLParam(r, "bookId"), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromPost(post))
}

// GetPost は投稿を返す。
// GET /api/posts/{postId}
func (h *DiscussionHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.service.GetPost(r.Context(), chi.URLParam(r, "postId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromPost(post))
}

// ListComments は投稿のコメント一覧を返す。
// GET /api/posts/{postId}/comments
func (h *DiscussionHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.service.ListComments(r.Context(), chi.URLParam(r, "postId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromComments(comments))
}

// CreateComment は投稿にコメントする。
// POST /api/posts/{postId}/comments
func (h *DiscussionHandler) CreateComment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req dto.CommentRequest
	if !decodeJSON(w, r, nil, &req) {
		return
	}

	comment, err := h.service.CreateComment(r.Context(), userID, chi.URLParam(r, "postId"), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromComment(comment))
}

// Reply はコメントに返信する。
// POST /api/comments/{commentId}/reply
func (h *DiscussionHandler) Reply(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req dto.CommentRequest
	if !decodeJSON(w, r, nil, &req) {
		return
	}

	comment, err := h.service.Reply(r.Context(), userID, chi.URLParam(r, "commentId"), req.CommentText)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromComment(comment))
}

// ChatMessages は書籍チャットの履歴を返す。
// GET /chat/{bookId}/messages
func (h *DiscussionHandler) ChatMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.service.ChatMessages(r.Context(), chi.URLParam(r, "bookId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromChatMessages(messages))
}

// SendChat は書籍チャットにメッセージを送信する。
// POST /chat/{bookId}/send
func (h *DiscussionHandler) SendChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req dto.ChatRequest
	if !decodeJSON(w, r, nil, &req) {
		return
	}

	msg, err := h.service.SendChat(r.Context(), userID, chi.URLParam(r, "bookId"), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromChatMessage(msg))
}
