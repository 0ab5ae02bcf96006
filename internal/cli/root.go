// Package cli はshelfmatectlのコマンドを提供する。
//
// 本棚の変更はサーバーと同じshelf.Controllerを通し、RESTクライアントを
// shelf.Storeとして使う。「読書中」の競合はプロンプトで確認してから置き換える。
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hitoshi/shelfmate/internal/client"
	"github.com/hitoshi/shelfmate/internal/dto"
	"github.com/hitoshi/shelfmate/internal/logger"
	"github.com/hitoshi/shelfmate/internal/model"
	"github.com/hitoshi/shelfmate/internal/shelf"
)

// Backend はCLIが使うAPIの操作。client.Clientが実装する。
type Backend interface {
	shelf.Store
	shelf.BookFinder

	UserID(ctx context.Context) (string, error)
	Profile(ctx context.Context) (*dto.User, error)
	Search(ctx context.Context, query, searchType string) ([]dto.Book, error)
	Book(ctx context.Context, bookID string) (*dto.Book, error)
	Posts(ctx context.Context, bookID string) ([]dto.Post, error)
	CreatePost(ctx context.Context, bookID string, req dto.PostRequest) (*dto.Post, error)
	Comments(ctx context.Context, postID string) ([]dto.Comment, error)
	CreateComment(ctx context.Context, postID string, req dto.CommentRequest) (*dto.Comment, error)
	ChatMessages(ctx context.Context, bookID string) ([]dto.ChatMessage, error)
	SendChat(ctx context.Context, bookID, text string) (*dto.ChatMessage, error)
	Recommendations(ctx context.Context, userID string, refreshCount int) ([]dto.Recommendation, error)
	Onboard(ctx context.Context, genres []string) ([]dto.Recommendation, error)
}

var _ Backend = (*client.Client)(nil)

// app は1回のコマンド実行の状態。
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	flagConfig  string
	flagAPIURL  string
	flagToken   string
	flagVerbose bool
	flagNoColor bool

	cfg     *Config
	logger  *slog.Logger
	backend Backend

	newBackend func(cfg *Config, logger *slog.Logger) Backend
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{
		in:     in,
		out:    out,
		errOut: errOut,
		newBackend: func(cfg *Config, logger *slog.Logger) Backend {
			return client.New(client.Session{
				BaseURL: cfg.APIURL,
				Token:   cfg.Token,
				UserID:  cfg.UserID,
			}, client.Options{
				Logger:  logger,
				Timeout: cfg.Timeout,
			})
		},
	}
}

// Execute はコマンドを実行して終了コードを返す。
// エラーは赤字の "error: <message>" として errOut に書き込み、1を返す。
func Execute(args []string, in io.Reader, out, errOut io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return newApp(in, out, errOut).run(ctx, args)
}

func (a *app) run(ctx context.Context, args []string) int {
	root := a.newRootCmd()
	root.SetArgs(args)
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(a.errOut, color.RedString("error:"), errorMessage(err))
		return 1
	}
	return 0
}

func (a *app) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "shelfmatectl",
		Short: "Manage your bookshelf, reading progress and book discussions",
		Long: `shelfmatectl talks to a shelfmate server.

Books live on one of three shelves: to-read, currently-reading and read.
Only one book can be currently-reading at a time; shelving another asks
before replacing it.

Run 'shelfmatectl login --token <token>' first.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVar(&a.flagConfig, "config", "", "Config file path (default: $XDG_CONFIG_HOME/shelfmate/config.yaml)")
	root.PersistentFlags().StringVar(&a.flagAPIURL, "api-url", "", "API base URL (overrides config)")
	root.PersistentFlags().StringVar(&a.flagToken, "token", "", "Session token (overrides config)")
	root.PersistentFlags().BoolVarP(&a.flagVerbose, "verbose", "v", false, "Log requests to stderr")
	root.PersistentFlags().BoolVar(&a.flagNoColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		a.newLoginCmd(),
		a.newProfileCmd(),
		a.newSearchCmd(),
		a.newBookCmd(),
		a.newStatusCmd(),
		a.newShelveCmd(),
		a.newProgressCmd(),
		a.newCompleteCmd(),
		a.newRateCmd(),
		a.newRemoveCmd(),
		a.newShelfCmd(),
		a.newRecsCmd(),
		a.newOnboardCmd(),
		a.newPostsCmd(),
		a.newPostCmd(),
		a.newCommentsCmd(),
		a.newCommentCmd(),
		a.newChatCmd(),
	)
	return root
}

// setup は設定とロガーを用意する。テストで注入された設定は上書きしない。
func (a *app) setup() error {
	if a.flagNoColor {
		color.NoColor = true
	}

	level := "warn"
	if a.flagVerbose {
		level = "debug"
	}
	if a.logger == nil {
		a.logger = logger.SetupWithLevel(a.errOut, logger.ParseLevel(level))
	}

	if a.cfg == nil {
		cfg, err := LoadConfig(a.flagConfig)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.flagAPIURL != "" {
		a.cfg.APIURL = a.flagAPIURL
	}
	if a.flagToken != "" {
		a.cfg.Token = a.flagToken
	}
	return nil
}

// api はバックエンドを返す。初回呼び出し時に現在の設定から生成する。
func (a *app) api() Backend {
	if a.backend == nil {
		a.backend = a.newBackend(a.cfg, a.logger)
	}
	return a.backend
}

// controller はバックエンドを本棚ストアとして使うControllerを返す。
func (a *app) controller() *shelf.Controller {
	b := a.api()
	return shelf.NewController(b, b, nil, nil, a.logger)
}

// userID はログイン中のユーザーIDを返す。
func (a *app) userID(ctx context.Context) (string, error) {
	return a.api().UserID(ctx)
}

// errorMessage はユーザーに表示するエラーメッセージを返す。
func errorMessage(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == model.ErrCodeUnauthorized {
			return apiErr.Message + " Run 'shelfmatectl login --token <token>'."
		}
		return apiErr.Message
	}
	return err.Error()
}
