package shelf

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hitoshi/shelfmate/internal/model"
)

// InteractionState は「読書中」への変更操作の状態。
type InteractionState int

const (
	StateIdle InteractionState = iota
	StatePendingConflictCheck
	StateNoConflict
	StateConflictDetected
	StateConfirmed
	StateCancelled
)

func (s InteractionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePendingConflictCheck:
		return "pending-conflict-check"
	case StateNoConflict:
		return "no-conflict"
	case StateConflictDetected:
		return "conflict-detected"
	case StateConfirmed:
		return "confirmed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DetectConflict は対象書籍を「読書中」にすると既存の「読書中」書籍と競合するかを返す。
func DetectConflict(current *model.ShelfEntry, targetBookID string) bool {
	return current != nil && current.BookID != targetBookID
}

// Interaction は1冊の書籍を「読書中」にする操作。
// 競合がある場合はConfirmかCancelでユーザーの判断を反映する。
type Interaction struct {
	c      *Controller
	userID string
	bookID string

	mu             sync.Mutex
	state          InteractionState
	displacedID    string
	displacedTitle string
	outcome        string
	result         *model.ShelfEntry
}

// BeginCurrentlyReading は書籍を「読書中」にする操作を開始する。
// 競合がなければそのまま書き込み、Idleに戻ったInteractionを返す。
// 競合がある場合は何も書き込まず、ConflictDetected状態のInteractionを返す。
func (c *Controller) BeginCurrentlyReading(ctx context.Context, userID, bookID string) (*Interaction, error) {
	in := &Interaction{
		c:      c,
		userID: userID,
		bookID: bookID,
		state:  StatePendingConflictCheck,
	}

	entry, err := c.SetStatus(ctx, SetStatusRequest{
		UserID: userID,
		BookID: bookID,
		Status: model.StatusCurrentlyReading,
	})
	if err == nil {
		in.state = StateNoConflict
		in.result = entry
		in.outcome = ConflictOutcomeNone
		c.metrics.RecordConflict(ConflictOutcomeNone)
		in.state = StateIdle
		return in, nil
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeCurrentlyReadingConflict {
		in.state = StateConflictDetected
		in.outcome = ConflictOutcomeDetected
		in.displacedID = apiErr.Details["book_id"]
		in.displacedTitle = apiErr.Details["title"]
		return in, nil
	}
	return nil, err
}

// State は現在の状態を返す。
func (in *Interaction) State() InteractionState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Conflict は競合が検出され、判断待ちであるかを返す。
func (in *Interaction) Conflict() bool {
	return in.State() == StateConflictDetected
}

// DisplacedBookID は置き換え対象の書籍IDを返す。
func (in *Interaction) DisplacedBookID() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.displacedID
}

// DisplacedTitle は置き換え対象の書籍タイトルを返す。
func (in *Interaction) DisplacedTitle() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.displacedTitle
}

// Result は書き込まれたエントリを返す。キャンセルされた場合はnil。
func (in *Interaction) Result() *model.ShelfEntry {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.result
}

// Outcome は競合解決の結果ラベルを返す。
func (in *Interaction) Outcome() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.outcome
}

// Confirm は既存の「読書中」書籍の置き換えを確定する。
// 書き込みに失敗した場合はConflictDetectedに戻り、再試行できる。
func (in *Interaction) Confirm(ctx context.Context) (*model.ShelfEntry, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.state != StateConflictDetected {
		return nil, model.NewInvalidStateError(fmt.Sprintf("cannot confirm in state %s", in.state))
	}
	in.state = StateConfirmed

	entry, err := in.c.SetStatus(ctx, SetStatusRequest{
		UserID:         in.userID,
		BookID:         in.bookID,
		Status:         model.StatusCurrentlyReading,
		ReplaceCurrent: true,
	})
	if err != nil {
		in.state = StateConflictDetected
		return nil, err
	}

	in.result = entry
	in.outcome = ConflictOutcomeConfirmed
	in.state = StateIdle
	return entry, nil
}

// Cancel は置き換えを取り消す。何も書き込まない。
func (in *Interaction) Cancel() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.state != StateConflictDetected {
		return model.NewInvalidStateError(fmt.Sprintf("cannot cancel in state %s", in.state))
	}
	in.state = StateCancelled
	in.outcome = ConflictOutcomeCancelled
	in.c.metrics.RecordConflict(ConflictOutcomeCancelled)
	in.c.logger.Info("currently reading replacement cancelled")
	in.state = StateIdle
	return nil
}
