// Package history persists the user's reading history: uploaded documents,
// their extracted text, per-document bookmarks and the last reading position.
//
// Two implementations exist: [MemStore] for single-session use and testing,
// and [PostgresStore] for durable storage.
package history

import (
	"context"
	"errors"
	"time"
)

// Store errors. Implementations return these sentinels so that callers can
// branch with [errors.Is] regardless of the backing store.
var (
	// ErrNotFound reports a lookup for a document or bookmark that does
	// not exist.
	ErrNotFound = errors.New("history: not found")

	// ErrDuplicateID reports an insert with an ID that is already taken.
	ErrDuplicateID = errors.New("history: duplicate id")
)

// Bookmark marks a position inside a document's audio rendition.
type Bookmark struct {
	// ID uniquely identifies the bookmark within its document.
	ID string `json:"id"`

	// Seconds is the offset into the audio rendition.
	Seconds float64 `json:"seconds"`

	// Label is an optional user-supplied note.
	Label string `json:"label,omitempty"`

	// CreatedAt is when the bookmark was placed.
	CreatedAt time.Time `json:"created_at"`
}

// Document is one entry in the reading history.
type Document struct {
	// ID uniquely identifies the document. Assigned on Put when empty.
	ID string `json:"id"`

	// Filename is the original upload name, for display.
	Filename string `json:"filename"`

	// Text is the extracted document text.
	Text string `json:"text"`

	// Language is the detected BCP-47 language tag, if known.
	Language string `json:"language,omitempty"`

	// Position is the last reading position in seconds.
	Position float64 `json:"position"`

	// Bookmarks are the user's saved positions, ordered by Seconds.
	Bookmarks []Bookmark `json:"bookmarks,omitempty"`

	// UploadedAt is when the document entered the history.
	UploadedAt time.Time `json:"uploaded_at"`
}

// Store is the persistence interface for the reading history.
// All implementations must be safe for concurrent use.
type Store interface {
	// Put inserts doc. An empty doc.ID is assigned a fresh one; the stored
	// document is returned. Inserting an ID that already exists returns
	// [ErrDuplicateID].
	Put(ctx context.Context, doc Document) (Document, error)

	// Get retrieves a document by ID, or [ErrNotFound].
	Get(ctx context.Context, id string) (Document, error)

	// List returns all documents, most recently uploaded first.
	List(ctx context.Context) ([]Document, error)

	// Delete removes a document and its bookmarks, or [ErrNotFound].
	Delete(ctx context.Context, id string) error

	// AddBookmark places a bookmark in the document's audio rendition.
	// An empty bm.ID is assigned a fresh one; the stored bookmark is
	// returned. Returns [ErrNotFound] when the document does not exist.
	AddBookmark(ctx context.Context, docID string, bm Bookmark) (Bookmark, error)

	// RemoveBookmark deletes a bookmark, or [ErrNotFound] when either the
	// document or the bookmark does not exist.
	RemoveBookmark(ctx context.Context, docID, bookmarkID string) error

	// SetPosition records the last reading position for a document, or
	// [ErrNotFound] when the document does not exist.
	SetPosition(ctx context.Context, docID string, seconds float64) error
}
