package books

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo() *MemoryRepository {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewMemoryRepository()
	r.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	return r
}

func TestCreateValidation(t *testing.T) {
	r := newTestRepo()
	ctx := context.Background()

	_, err := r.Create(ctx, "u1", NewBook{Title: "  ", Author: "A"})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = r.Create(ctx, "u1", NewBook{Title: "T", Author: "A", Status: "archived"})
	assert.ErrorIs(t, err, ErrInvalid)

	b, err := r.Create(ctx, "u1", NewBook{Title: " Dune ", Author: "Herbert"})
	require.NoError(t, err)
	assert.Equal(t, "Dune", b.Title)
	assert.Equal(t, StatusDraft, b.Status)
	assert.NotEmpty(t, b.ID)
	assert.NotNil(t, b.Chapters)
}

func TestListByOwnerNewestFirst(t *testing.T) {
	r := newTestRepo()
	ctx := context.Background()

	first, _ := r.Create(ctx, "u1", NewBook{Title: "First", Author: "A"})
	_, _ = r.Create(ctx, "u2", NewBook{Title: "Other", Author: "B"})
	second, _ := r.Create(ctx, "u1", NewBook{Title: "Second", Author: "A", Chapters: []Chapter{{Title: "c1"}, {Title: "c2"}}})

	list, err := r.ListByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, 2, list[0].ChapterCount)
	assert.Equal(t, first.ID, list[1].ID)

	empty, err := r.ListByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestUpdatePatch(t *testing.T) {
	r := newTestRepo()
	ctx := context.Background()
	b, _ := r.Create(ctx, "u1", NewBook{Title: "Dune", Author: "Herbert"})

	published := StatusPublished
	sub := "Book One"
	updated, err := r.Update(ctx, b.ID, Patch{Subtitle: &sub, Status: &published})
	require.NoError(t, err)
	assert.Equal(t, "Dune", updated.Title)
	assert.Equal(t, "Book One", updated.Subtitle)
	assert.True(t, updated.Published())
	assert.True(t, updated.UpdatedAt.After(b.UpdatedAt))

	pub, _ := r.ListPublished(ctx)
	assert.Len(t, pub, 1)

	blank := ""
	_, err = r.Update(ctx, b.ID, Patch{Author: &blank})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = r.Update(ctx, "missing", Patch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReturnedBooksAreCopies(t *testing.T) {
	r := newTestRepo()
	ctx := context.Background()
	b, _ := r.Create(ctx, "u1", NewBook{Title: "Dune", Author: "Herbert", Chapters: []Chapter{{Title: "c1"}}})

	b.Title = "changed"
	b.Chapters[0].Title = "changed"

	got, err := r.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dune", got.Title)
	assert.Equal(t, "c1", got.Chapters[0].Title)
}

func TestCoverAndDelete(t *testing.T) {
	r := newTestRepo()
	ctx := context.Background()
	b, _ := r.Create(ctx, "u1", NewBook{Title: "Dune", Author: "Herbert"})

	_, err := r.SetCover(ctx, b.ID, Cover{})
	assert.ErrorIs(t, err, ErrInvalid)

	updated, err := r.SetCover(ctx, b.ID, Cover{URL: "https://cdn.example/d.png", PublicID: "d"})
	require.NoError(t, err)
	assert.Equal(t, "d", updated.CoverImage.PublicID)

	_, err = r.Delete(ctx, b.ID)
	require.NoError(t, err)
	_, err = r.Get(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Delete(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "books:u1", OwnerKey("u1"))
	assert.Equal(t, "books:public:published", PublishedKey)
}
