package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/shelfmate/internal/middleware"
)

// HealthChecker はヘルスチェックで疎通確認する依存先。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Validator         RequestValidator

	// 運用
	Logger         *slog.Logger
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 本棚
	ShelfService ShelfServiceInterface

	// カタログ
	CatalogService CatalogServiceInterface

	// フォーラムとチャット
	DiscussionService DiscussionServiceInterface

	// 推薦
	RecsService RecsServiceInterface

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → CORS → Session → RateLimit(General) → RateLimit(Posting, POSTのみ)
//
// 認証ルート（/auth/*）、/health、/metricsはセッションミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	shelfHandler := NewShelfHandler(deps.ShelfService, deps.Validator)
	catalogHandler := NewCatalogHandler(deps.CatalogService, deps.Validator)
	discussionHandler := NewDiscussionHandler(deps.DiscussionService)
	recsHandler := NewRecsHandler(deps.RecsService, deps.UserService, deps.Validator)
	userHandler := NewUserHandler(deps.UserService, deps.Validator)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	mountAuthRoutes(r, authHandler)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		posting := deps.RateLimiter.PostingMiddleware()

		// 本棚
		r.Route("/shelf/api/user/{userId}", func(r chi.Router) {
			r.Post("/bookshelf", shelfHandler.AddToShelf)
			r.Route("/bookshelf/{bookId}", func(r chi.Router) {
				r.Delete("/", shelfHandler.DeleteEntry)
				r.Get("/status", shelfHandler.GetStatus)
				r.Put("/status", shelfHandler.UpdateStatus)
				r.Put("/current-page", shelfHandler.UpdateProgress)
				r.Put("/rating", shelfHandler.UpdateRating)
			})
			r.Get("/books/lastread", shelfHandler.LastRead)
			r.Get("/books/{shelf}", shelfHandler.ListShelf)
			r.Get("/snapshot", shelfHandler.Snapshot)
		})

		// カタログ
		r.Route("/api/books", func(r chi.Router) {
			r.Get("/", catalogHandler.Search)
			r.Route("/{bookId}", func(r chi.Router) {
				r.Get("/", catalogHandler.GetBook)
				r.Get("/posts", discussionHandler.ListPosts)
				r.With(posting).Post("/posts", discussionHandler.CreatePost)
			})
		})
		r.With(posting).Post("/api/catalog/sources", catalogHandler.RegisterSource)

		// フォーラム
		r.Route("/api/posts/{postId}", func(r chi.Router) {
			r.Get("/", discussionHandler.GetPost)
			r.Get("/comments", discussionHandler.ListComments)
			r.With(posting).Post("/comments", discussionHandler.CreateComment)
		})
		r.With(posting).Post("/api/comments/{commentId}/reply", discussionHandler.Reply)

		// チャット
		r.Route("/chat", func(r chi.Router) {
			r.Get("/user/{userId}/lastread", shelfHandler.LastRead)
			r.Get("/{bookId}/messages", discussionHandler.ChatMessages)
			r.With(posting).Post("/{bookId}/send", discussionHandler.SendChat)
		})

		// 推薦
		r.Route("/recs/api/user", func(r chi.Router) {
			r.Get("/{userId}/recommendations", recsHandler.Recommendations)
			r.Post("/onboarding/recommendations", recsHandler.Onboarding)
		})

		// ユーザー管理
		r.Route("/user", func(r chi.Router) {
			r.Get("/profile", userHandler.Profile)
			r.Put("/profile", userHandler.UpdateProfile)
			r.Post("/save-genres", userHandler.SaveGenres)
		})
		r.Route("/api/users", func(r chi.Router) {
			r.Delete("/me", userHandler.Withdraw)
		})
	})

	return r
}

// healthHandler はDBの疎通を確認するヘルスチェックハンドラーを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
