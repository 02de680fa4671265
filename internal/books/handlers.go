package books

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vnykmshr/kvguard/pkg/cache"
)

// UserKey is the echo context key holding the authenticated user ID.
const UserKey = "user"

const cacheNamespace = "books"

// PublishedKey caches the public listing. User IDs never contain ':', so
// it cannot collide with an owner key.
var PublishedKey = cache.Key(cacheNamespace+":public", "published")

// OwnerKey caches one owner's listing.
func OwnerKey(userID string) string {
	return cache.Key(cacheNamespace, userID)
}

// Message is the body of every non-entity response.
type Message struct {
	Message string `json:"message"`
}

// Handler serves the book API with cache-aside listings.
type Handler struct {
	repo    Repository
	cache   *cache.Service
	logger  *slog.Logger
	listTTL time.Duration
}

// NewHandler creates a Handler. A zero listTTL uses the cache default.
func NewHandler(repo Repository, c *cache.Service, logger *slog.Logger, listTTL time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:    repo,
		cache:   c,
		logger:  logger.With("component", "books"),
		listTTL: listTTL,
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get(UserKey).(string)
	return id
}

func (h *Handler) serverError(c echo.Context, op string, err error) error {
	h.logger.Error("book handler failed", "op", op, "err", err)
	return c.JSON(http.StatusInternalServerError, Message{"Server error"})
}

// ListMine serves GET /api/books: the caller's books, newest first.
func (h *Handler) ListMine(c echo.Context) error {
	owner := userID(c)
	var out []Summary
	err := h.cache.Fetch(c.Request().Context(), OwnerKey(owner), h.listTTL, &out, func(ctx context.Context) (interface{}, error) {
		h.logger.Debug("book list cache miss", "user", owner)
		return h.repo.ListByOwner(ctx, owner)
	})
	if err != nil {
		return h.serverError(c, "list", err)
	}
	if out == nil {
		out = []Summary{}
	}
	return c.JSON(http.StatusOK, out)
}

// ListPublished serves GET /api/books/published.
func (h *Handler) ListPublished(c echo.Context) error {
	var out []Summary
	err := h.cache.Fetch(c.Request().Context(), PublishedKey, h.listTTL, &out, func(ctx context.Context) (interface{}, error) {
		return h.repo.ListPublished(ctx)
	})
	if err != nil {
		return h.serverError(c, "list_published", err)
	}
	if out == nil {
		out = []Summary{}
	}
	return c.JSON(http.StatusOK, out)
}

// Create serves POST /api/books.
func (h *Handler) Create(c echo.Context) error {
	var in NewBook
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, Message{"Invalid request body"})
	}
	in.Normalize()
	if in.Title == "" || in.Author == "" {
		return c.JSON(http.StatusBadRequest, Message{"Title and Author are required"})
	}

	ctx := c.Request().Context()
	b, err := h.repo.Create(ctx, userID(c), in)
	if errors.Is(err, ErrInvalid) {
		return c.JSON(http.StatusBadRequest, Message{err.Error()})
	}
	if err != nil {
		return h.serverError(c, "create", err)
	}

	h.invalidate(ctx, b.UserID, b.Published())
	return c.JSON(http.StatusCreated, b)
}

// Get serves GET /api/books/:id.
func (h *Handler) Get(c echo.Context) error {
	b, err := h.owned(c, "access")
	if err != nil || b == nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

// Update serves PUT /api/books/:id.
func (h *Handler) Update(c echo.Context) error {
	var patch Patch
	if err := c.Bind(&patch); err != nil {
		return c.JSON(http.StatusBadRequest, Message{"Invalid request body"})
	}
	before, err := h.owned(c, "update")
	if err != nil || before == nil {
		return err
	}

	ctx := c.Request().Context()
	after, err := h.repo.Update(ctx, before.ID, patch)
	switch {
	case errors.Is(err, ErrInvalid):
		return c.JSON(http.StatusBadRequest, Message{err.Error()})
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, Message{"Book not found"})
	case err != nil:
		return h.serverError(c, "update", err)
	}

	h.invalidate(ctx, after.UserID, before.Published() || after.Published())
	return c.JSON(http.StatusOK, after)
}

// Delete serves DELETE /api/books/:id.
func (h *Handler) Delete(c echo.Context) error {
	b, err := h.owned(c, "delete")
	if err != nil || b == nil {
		return err
	}

	ctx := c.Request().Context()
	if _, err := h.repo.Delete(ctx, b.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return h.serverError(c, "delete", err)
	}

	h.invalidate(ctx, b.UserID, b.Published())
	return c.NoContent(http.StatusNoContent)
}

// UpdateCover serves PUT /api/books/cover/:id.
func (h *Handler) UpdateCover(c echo.Context) error {
	var cover Cover
	if err := c.Bind(&cover); err != nil {
		return c.JSON(http.StatusBadRequest, Message{"Invalid request body"})
	}
	if cover.URL == "" {
		return c.JSON(http.StatusBadRequest, Message{"No cover image provided"})
	}
	b, err := h.owned(c, "update cover image for")
	if err != nil || b == nil {
		return err
	}

	ctx := c.Request().Context()
	updated, err := h.repo.SetCover(ctx, b.ID, cover)
	switch {
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, Message{"Book not found"})
	case err != nil:
		return h.serverError(c, "cover", err)
	}

	h.invalidate(ctx, updated.UserID, updated.Published())
	return c.JSON(http.StatusOK, updated.CoverImage)
}

// owned loads the :id book and checks the caller owns it. When it returns
// a nil book the response has already been written.
func (h *Handler) owned(c echo.Context, action string) (*Book, error) {
	b, err := h.repo.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		return nil, c.JSON(http.StatusNotFound, Message{"Book not found"})
	}
	if err != nil {
		return nil, h.serverError(c, "get", err)
	}
	if b.UserID != userID(c) {
		return nil, c.JSON(http.StatusForbidden, Message{"Not authorized to " + action + " this book"})
	}
	return b, nil
}

// invalidate drops the owner's cached listing, and the public one when
// the change may be visible there.
func (h *Handler) invalidate(ctx context.Context, owner string, published bool) {
	keys := []string{OwnerKey(owner)}
	if published {
		keys = append(keys, PublishedKey)
	}
	h.cache.Invalidate(ctx, keys...)
}
