package books

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means no book has the requested ID.
	ErrNotFound = errors.New("book not found")

	// ErrInvalid means a create or update carried unusable fields.
	ErrInvalid = errors.New("invalid book")
)

// Repository is the system of record for books.
type Repository interface {
	Create(ctx context.Context, userID string, in NewBook) (*Book, error)
	Get(ctx context.Context, id string) (*Book, error)
	Update(ctx context.Context, id string, patch Patch) (*Book, error)
	Delete(ctx context.Context, id string) (*Book, error)
	SetCover(ctx context.Context, id string, cover Cover) (*Book, error)
	ListByOwner(ctx context.Context, userID string) ([]Summary, error)
	ListPublished(ctx context.Context) ([]Summary, error)
}

// MemoryRepository keeps books in process memory. Returned books are
// copies; callers may not mutate stored state through them.
type MemoryRepository struct {
	mu    sync.RWMutex
	books map[string]*Book
	now   func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{books: make(map[string]*Book), now: time.Now}
}

func (r *MemoryRepository) Create(_ context.Context, userID string, in NewBook) (*Book, error) {
	in.Normalize()
	if in.Title == "" || in.Author == "" {
		return nil, errors.Join(ErrInvalid, errors.New("title and author are required"))
	}
	if !validStatus(in.Status) {
		return nil, errors.Join(ErrInvalid, errors.New("status must be draft or published"))
	}

	now := r.now()
	b := &Book{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     in.Title,
		Subtitle:  in.Subtitle,
		Author:    in.Author,
		Chapters:  in.Chapters,
		Status:    in.Status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if b.Chapters == nil {
		b.Chapters = []Chapter{}
	}

	r.mu.Lock()
	r.books[b.ID] = b
	r.mu.Unlock()
	return clone(b), nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(b), nil
}

func (r *MemoryRepository) Update(_ context.Context, id string, patch Patch) (*Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[id]
	if !ok {
		return nil, ErrNotFound
	}

	next := clone(b)
	if patch.Title != nil {
		next.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Subtitle != nil {
		next.Subtitle = strings.TrimSpace(*patch.Subtitle)
	}
	if patch.Author != nil {
		next.Author = strings.TrimSpace(*patch.Author)
	}
	if patch.Chapters != nil {
		next.Chapters = *patch.Chapters
	}
	if patch.Status != nil {
		next.Status = *patch.Status
	}
	if next.Title == "" || next.Author == "" {
		return nil, errors.Join(ErrInvalid, errors.New("title and author cannot be empty"))
	}
	if !validStatus(next.Status) {
		return nil, errors.Join(ErrInvalid, errors.New("status must be draft or published"))
	}

	next.UpdatedAt = r.now()
	r.books[id] = next
	return clone(next), nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) (*Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.books, id)
	return b, nil
}

func (r *MemoryRepository) SetCover(_ context.Context, id string, cover Cover) (*Book, error) {
	if strings.TrimSpace(cover.URL) == "" {
		return nil, errors.Join(ErrInvalid, errors.New("cover url is required"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := clone(b)
	next.CoverImage = cover
	next.UpdatedAt = r.now()
	r.books[id] = next
	return clone(next), nil
}

// ListByOwner returns the owner's books, newest first.
func (r *MemoryRepository) ListByOwner(_ context.Context, userID string) ([]Summary, error) {
	return r.list(func(b *Book) bool { return b.UserID == userID }), nil
}

// ListPublished returns every published book, newest first.
func (r *MemoryRepository) ListPublished(_ context.Context) ([]Summary, error) {
	return r.list((*Book).Published), nil
}

func (r *MemoryRepository) list(match func(*Book) bool) []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0)
	for _, b := range r.books {
		if match(b) {
			out = append(out, b.Summarize())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func clone(b *Book) *Book {
	c := *b
	c.Chapters = append([]Chapter(nil), b.Chapters...)
	if c.Chapters == nil {
		c.Chapters = []Chapter{}
	}
	return &c
}
