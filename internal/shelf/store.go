package shelf

import (
	"context"
	"time"

	"github.com/hitoshi/shelfmate/internal/model"
)

// Store は本棚エントリの永続化インターフェース。
// サーバーではPostgreSQL、クライアントではREST APIが実装する。
// 見つからない場合はエラーではなくnilを返す。
type Store interface {
	// FindEntry は(userID, bookID)のエントリを返す。
	FindEntry(ctx context.Context, userID, bookID string) (*model.ShelfEntry, error)

	// FindCurrentlyReading はユーザーの「読書中」エントリを返す。
	FindCurrentlyReading(ctx context.Context, userID string) (*model.ShelfEntry, error)

	// ListShelved は指定ステータスのエントリを書籍情報付きで返す。
	ListShelved(ctx context.Context, userID string, status model.ShelfStatus) ([]model.ShelvedBook, error)

	// Upsert はエントリを作成または更新する。
	Upsert(ctx context.Context, entry *model.ShelfEntry) (*model.ShelfEntry, error)

	// ReplaceCurrentlyReading は既存の「読書中」エントリを to-read に戻し、
	// entryを「読書中」として書き込む。両方の変更を1つの単位で適用する。
	ReplaceCurrentlyReading(ctx context.Context, userID, displacedBookID string, entry *model.ShelfEntry) (*model.ShelfEntry, error)

	// UpdateCurrentPage は「読書中」のエントリの現在のページ数のみを更新する。
	// 読書中のエントリがない場合はnilを返す。
	UpdateCurrentPage(ctx context.Context, userID, bookID string, page int) (*model.ShelfEntry, error)

	// Complete はステータスをreadにし、current_pageをクリアし、date_finishedを設定する。
	// 評価は変更しない。
	Complete(ctx context.Context, userID, bookID string, finishedAt time.Time) (*model.ShelfEntry, error)

	// UpdateRating は評価のみを更新する。
	UpdateRating(ctx context.Context, userID, bookID string, rating model.Rating) (*model.ShelfEntry, error)

	// Delete はエントリを削除する。削除した場合はtrueを返す。
	Delete(ctx context.Context, userID, bookID string) (bool, error)
}

// BookFinder はカタログから書籍を取得するインターフェース。
type BookFinder interface {
	// FindBook は書籍を返す。見つからない場合はnilを返す。
	FindBook(ctx context.Context, bookID string) (*model.Book, error)
}

// SnapshotCache はユーザーごとの本棚スナップショットのキャッシュ。
// 世代番号はInvalidateのたびに増え、読み込み開始後に無効化された
// スナップショットが書き戻されるのを防ぐ。
type SnapshotCache interface {
	Get(ctx context.Context, userID string) (*model.ShelfSnapshot, bool, error)

	// Version はユーザーの現在の世代番号を返す。
	Version(ctx context.Context, userID string) (int64, error)

	// Set は世代番号がversionのままの場合に限り保存し、保存したかを返す。
	Set(ctx context.Context, snapshot *model.ShelfSnapshot, version int64) (bool, error)

	// Invalidate はスナップショットを破棄して世代番号を進める。
	Invalidate(ctx context.Context, userID string) error
}

// Recorder は本棚操作のメトリクスを記録するインターフェース。
type Recorder interface {
	RecordTransition(to model.ShelfStatus)
	RecordConflict(outcome string)
	RecordCompletion()
	RecordSnapshot(hit bool)
}

// 競合解決の結果ラベル。
const (
	ConflictOutcomeNone      = "none"
	ConflictOutcomeDetected  = "detected"
	ConflictOutcomeConfirmed = "confirmed"
	ConflictOutcomeCancelled = "cancelled"
)

type nopCache struct{}

func (nopCache) Get(context.Context, string) (*model.ShelfSnapshot, bool, error) {
	return nil, false, nil
}
func (nopCache) Version(context.Context, string) (int64, error) { return 0, nil }
func (nopCache) Set(context.Context, *model.ShelfSnapshot, int64) (bool, error) {
	return false, nil
}
func (nopCache) Invalidate(context.Context, string) error { return nil }

type nopRecorder struct{}

func (nopRecorder) RecordTransition(model.ShelfStatus) {}
func (nopRecorder) RecordConflict(string)              {}
func (nopRecorder) RecordCompletion()                  {}
func (nopRecorder) RecordSnapshot(bool)                {}
