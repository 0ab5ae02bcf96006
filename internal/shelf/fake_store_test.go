package shelf

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/shelfmate/internal/model"
)

// memStore はテスト用のインメモリStore。
type memStore struct {
	mu      sync.Mutex
	entries map[string]*model.ShelfEntry
	books   map[string]*model.Book
	seq     int
	writes  int

	failNext error
}

func newMemStore(books ...*model.Book) *memStore {
	s := &memStore{
		entries: make(map[string]*model.ShelfEntry),
		books:   make(map[string]*model.Book),
	}
	for _, b := range books {
		s.books[b.ID] = b
	}
	return s
}

func (s *memStore) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func clone(e *model.ShelfEntry) *model.ShelfEntry {
	if e == nil {
		return nil
	}
	cp := *e
	if e.CurrentPage != nil {
		p := *e.CurrentPage
		cp.CurrentPage = &p
	}
	return &cp
}

func (s *memStore) FindBook(_ context.Context, bookID string) (*model.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[bookID]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) FindEntry(_ context.Context, userID, bookID string) (*model.ShelfEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	return clone(s.entries[pairKey(userID, bookID)]), nil
}

func (s *memStore) FindCurrentlyReading(_ context.Context, userID string) (*model.ShelfEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.UserID == userID && e.Status == model.StatusCurrentlyReading {
			return clone(e), nil
		}
	}
	return nil, nil
}

func (s *memStore) ListShelved(_ context.Context, userID string, status model.ShelfStatus) ([]model.ShelvedBook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	var out []model.ShelvedBook
	for _, e := range s.entries {
		if e.UserID != userID || e.Status != status {
			continue
		}
		sb := model.ShelvedBook{Entry: *clone(e)}
		if b, ok := s.books[e.BookID]; ok {
			sb.Book = *b
		}
		out = append(out, sb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entry.BookID < out[j].Entry.BookID })
	return out, nil
}

func (s *memStore) Upsert(_ context.Context, entry *model.ShelfEntry) (*model.ShelfEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	if entry.Status == model.StatusCurrentlyReading {
		for _, e := range s.entries {
			if e.UserID == entry.UserID && e.BookID != entry.BookID && e.Status == model.StatusCurrentlyReading {
				return nil, errors.New("unique violation: currently reading")
			}
		}
	}
	s.writes++
	return s.put(entry), nil
}

func (s *memStore) put(entry *model.ShelfEntry) *model.ShelfEntry {
	cp := clone(entry)
	if cp.ID == "" {
		s.seq++
		cp.ID = fmt.Sprintf("entry-%d", s.seq)
	}
	s.entries[pairKey(cp.UserID, cp.BookID)] = cp
	return clone(cp)
}

func (s *memStore) ReplaceCurrentlyReading(_ context.Context, userID, displacedBookID string, entry *model.ShelfEntry) (*model.ShelfEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	if d, ok := s.entries[pairKey(userID, displacedBookID)]; ok && d.Status == model.StatusCurrentlyReading {
		d.Status = model.StatusToRead
		d.CurrentPage = nil
	}
	s.writes++
	return s.put(entry), nil
}

func (s *memStore) UpdateCurrentPage(_ context.Context, userID, bookID string, page int) (*model.ShelfEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[pairKey(userID, bookID)]
	if !ok || e.Status != model.StatusCurrentlyReading {
		return nil, nil
	}
	e.CurrentPage = &page
	s.writes++
	return clone(e), nil
}

func (s *memStore) Complete(_ context.Context, userID, bookID string, finishedAt time.Time) (*model.ShelfEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[pairKey(userID, bookID)]
	if !ok {
		return nil, nil
	}
	e.Status = model.StatusRead
	e.CurrentPage = nil
	e.DateFinished = &finishedAt
	s.writes++
	return clone(e), nil
}

func (s *memStore) UpdateRating(_ context.Context, userID, bookID string, rating model.Rating) (*model.ShelfEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[pairKey(userID, bookID)]
	if !ok {
		return nil, nil
	}
	e.Rating = rating
	s.writes++
	return clone(e), nil
}

func (s *memStore) Delete(_ context.Context, userID, bookID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(userID, bookID)
	if _, ok := s.entries[key]; !ok {
		return false, nil
	}
	delete(s.entries, key)
	s.writes++
	return true, nil
}

func (s *memStore) currentCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.UserID == userID && e.Status == model.StatusCurrentlyReading {
			n++
		}
	}
	return n
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// countingRecorder はテスト用のRecorder。
type countingRecorder struct {
	mu          sync.Mutex
	transitions map[model.ShelfStatus]int
	conflicts   map[string]int
	completions int
	hits        int
	misses      int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		transitions: make(map[model.ShelfStatus]int),
		conflicts:   make(map[string]int),
	}
}

func (r *countingRecorder) RecordTransition(to model.ShelfStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions[to]++
}

func (r *countingRecorder) RecordConflict(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts[outcome]++
}

func (r *countingRecorder) RecordCompletion() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions++
}

func (r *countingRecorder) RecordSnapshot(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

// mapCache はテスト用のSnapshotCache。
type mapCache struct {
	mu       sync.Mutex
	snaps    map[string]*model.ShelfSnapshot
	versions map[string]int64
	inval    int
}

func newMapCache() *mapCache {
	return &mapCache{
		snaps:    make(map[string]*model.ShelfSnapshot),
		versions: make(map[string]int64),
	}
}

func (c *mapCache) Get(_ context.Context, userID string) (*model.ShelfSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snaps[userID]
	return s, ok, nil
}

func (c *mapCache) Version(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[userID], nil
}

func (c *mapCache) Set(_ context.Context, snap *model.ShelfSnapshot, version int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[snap.UserID] != version {
		return false, nil
	}
	c.snaps[snap.UserID] = snap
	return true, nil
}

func (c *mapCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, userID)
	c.versions[userID]++
	c.inval++
	return nil
}
