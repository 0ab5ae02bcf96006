package handler

import (
	"github.com/hitoshi/shelfmate/internal/auth"
	"github.com/hitoshi/shelfmate/internal/catalog"
	"github.com/hitoshi/shelfmate/internal/discussion"
	"github.com/hitoshi/shelfmate/internal/recs"
	"github.com/hitoshi/shelfmate/internal/shelf"
	"github.com/hitoshi/shelfmate/internal/user"
	"github.com/hitoshi/shelfmate/internal/validation"
)

// ドメインサービスはハンドラーのインターフェースをそのまま満たすため、アダプタを挟まずに渡す。

// --- compile-time interface checks ---

var _ AuthServiceInterface = (*auth.Service)(nil)
var _ ShelfServiceInterface = (*shelf.Controller)(nil)
var _ CatalogServiceInterface = (*catalog.Service)(nil)
var _ DiscussionServiceInterface = (*discussion.Service)(nil)
var _ RecsServiceInterface = (*recs.Client)(nil)
var _ UserServiceInterface = (*user.Service)(nil)
var _ GenreSaver = (*user.Service)(nil)
var _ RequestValidator = (*validation.Validator)(nil)
