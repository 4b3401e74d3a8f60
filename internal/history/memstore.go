package history

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// History kept here is lost when the process exits.
type MemStore struct {
	mu   sync.RWMutex
	docs map[string]Document

	// now is swappable in tests.
	now func() time.Time
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		docs: make(map[string]Document),
		now:  time.Now,
	}
}

// Put implements [Store.Put].
func (s *MemStore) Put(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[doc.ID]; exists {
		return Document{}, ErrDuplicateID
	}
	s.docs[doc.ID] = clone(doc)
	return doc, nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return clone(doc), nil
}

// List implements [Store.List].
func (s *MemStore) List(ctx context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Document, 0, len(s.docs))
	for _, doc := range s.docs {
		result = append(result, clone(doc))
	}
	slices.SortFunc(result, func(a, b Document) int {
		return b.UploadedAt.Compare(a.UploadedAt)
	})
	return result, nil
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[id]; !ok {
		return ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

// AddBookmark implements [Store.AddBookmark].
func (s *MemStore) AddBookmark(ctx context.Context, docID string, bm Bookmark) (Bookmark, error) {
	if bm.ID == "" {
		bm.ID = uuid.NewString()
	}
	if bm.CreatedAt.IsZero() {
		bm.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[docID]
	if !ok {
		return Bookmark{}, ErrNotFound
	}

	doc.Bookmarks = append(slices.Clone(doc.Bookmarks), bm)
	slices.SortFunc(doc.Bookmarks, func(a, b Bookmark) int {
		switch {
		case a.Seconds < b.Seconds:
			return -1
		case a.Seconds > b.Seconds:
			return 1
		}
		return 0
	})
	s.docs[docID] = doc
	return bm, nil
}

// RemoveBookmark implements [Store.RemoveBookmark].
func (s *MemStore) RemoveBookmark(ctx context.Context, docID, bookmarkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[docID]
	if !ok {
		return ErrNotFound
	}

	idx := slices.IndexFunc(doc.Bookmarks, func(b Bookmark) bool {
		return b.ID == bookmarkID
	})
	if idx < 0 {
		return ErrNotFound
	}
	doc.Bookmarks = slices.Delete(slices.Clone(doc.Bookmarks), idx, idx+1)
	s.docs[docID] = doc
	return nil
}

// SetPosition implements [Store.SetPosition].
func (s *MemStore) SetPosition(ctx context.Context, docID string, seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[docID]
	if !ok {
		return ErrNotFound
	}
	doc.Position = seconds
	s.docs[docID] = doc
	return nil
}

// clone returns a deep copy of doc so callers cannot mutate stored state
// through the shared bookmark slice.
func clone(doc Document) Document {
	doc.Bookmarks = slices.Clone(doc.Bookmarks)
	return doc
}
