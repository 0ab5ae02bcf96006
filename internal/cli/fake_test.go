package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/shelfmate/internal/dto"
	"github.com/hitoshi/shelfmate/internal/model"
)

const testUser = "user-1"

// fakeBackend はメモリ上の本棚。Backendの未実装メソッドは埋め込みのnilインターフェースで満たす。
type fakeBackend struct {
	Backend

	mu      sync.Mutex
	books   map[string]*model.Book
	entries map[string]*model.ShelfEntry
	writes  int
	profile *dto.User
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		books: map[string]*model.Book{
			"book-a": {ID: "book-a", Title: "Dune", Authors: []string{"Frank Herbert"}, PageCount: 400},
			"book-b": {ID: "book-b", Title: "Emma", Authors: []string{"Jane Austen"}, PageCount: 300},
		},
		entries: map[string]*model.ShelfEntry{},
		profile: &dto.User{ID: testUser, Name: "Alice", Email: "alice@example.com"},
	}
}

func (f *fakeBackend) UserID(context.Context) (string, error) { return testUser, nil }

func (f *fakeBackend) Profile(context.Context) (*dto.User, error) { return f.profile, nil }

func (f *fakeBackend) FindBook(_ context.Context, bookID string) (*model.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[bookID]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBackend) FindEntry(_ context.Context, _, bookID string) (*model.ShelfEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.copyOf(bookID), nil
}

func (f *fakeBackend) FindCurrentlyReading(_ context.Context, _ string) (*model.ShelfEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, e := range f.entries {
		if e.Status == model.StatusCurrentlyReading {
			return f.copyOf(id), nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) ListShelved(_ context.Context, _ string, status model.ShelfStatus) ([]model.ShelvedBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ShelvedBook
	for id, e := range f.entries {
		if e.Status == status {
			out = append(out, model.ShelvedBook{Entry: *f.copyOf(id), Book: *f.books[id]})
		}
	}
	return out, nil
}

func (f *fakeBackend) Upsert(_ context.Context, entry *model.ShelfEntry) (*model.ShelfEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(entry)
	return f.copyOf(entry.BookID), nil
}

func (f *fakeBackend) ReplaceCurrentlyReading(_ context.Context, _, displacedBookID string, entry *model.ShelfEntry) (*model.ShelfEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.entries[displacedBookID]; ok {
		prev.Status = model.StatusToRead
		prev.CurrentPage = nil
	}
	f.put(entry)
	return f.copyOf(entry.BookID), nil
}

func (f *fakeBackend) UpdateCurrentPage(_ context.Context, _, bookID string, page int) (*model.ShelfEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.entries[bookID].CurrentPage = &page
	return f.copyOf(bookID), nil
}

func (f *fakeBackend) Complete(_ context.Context, _, bookID string, finishedAt time.Time) (*model.ShelfEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	e := f.entries[bookID]
	e.Status = model.StatusRead
	e.CurrentPage = nil
	e.DateFinished = &finishedAt
	return f.copyOf(bookID), nil
}

func (f *fakeBackend) UpdateRating(_ context.Context, _, bookID string, rating model.Rating) (*model.ShelfEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.entries[bookID].Rating = rating
	return f.copyOf(bookID), nil
}

func (f *fakeBackend) Delete(_ context.Context, _, bookID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[bookID]; !ok {
		return false, nil
	}
	f.writes++
	delete(f.entries, bookID)
	return true, nil
}

func (f *fakeBackend) put(entry *model.ShelfEntry) {
	f.writes++
	cp := *entry
	cp.UserID = testUser
	f.entries[entry.BookID] = &cp
}

func (f *fakeBackend) copyOf(bookID string) *model.ShelfEntry {
	e, ok := f.entries[bookID]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

func (f *fakeBackend) status(bookID string) model.ShelfStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[bookID]; ok {
		return e.Status
	}
	return model.StatusNone
}

func (f *fakeBackend) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

type testRun struct {
	code   int
	out    string
	errOut string
}

// runCLI はfakeBackendを使ってコマンドを実行する。
func runCLI(t *testing.T, b Backend, input string, args ...string) testRun {
	t.Helper()
	var out, errOut bytes.Buffer
	a := newApp(strings.NewReader(input), &out, &errOut)
	a.cfg = &Config{
		APIURL: "http://shelfmate.test",
		Token:  "tok",
		path:   filepath.Join(t.TempDir(), "config.yaml"),
	}
	a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	a.newBackend = func(*Config, *slog.Logger) Backend { return b }

	code := a.run(context.Background(), append([]string{"--no-color"}, args...))
	return testRun{code: code, out: out.String(), errOut: errOut.String()}
}
