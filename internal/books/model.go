package books

import (
	"strings"
	"time"
)

// Publication states.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

// Chapter is one chapter of a book.
type Chapter struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

// Cover locates a book's cover image.
type Cover struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
}

// Book is the system-of-record entity.
type Book struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Title      string    `json:"title"`
	Subtitle   string    `json:"subtitle"`
	Author     string    `json:"author"`
	CoverImage Cover     `json:"coverImage"`
	Chapters   []Chapter `json:"chapters"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Summary is the list projection cached per owner.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	CoverImage   Cover     `json:"coverImage"`
	Status       string    `json:"status"`
	ChapterCount int       `json:"chapterCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Summarize projects b for list views.
func (b *Book) Summarize() Summary {
	return Summary{
		ID:           b.ID,
		Title:        b.Title,
		Author:       b.Author,
		CoverImage:   b.CoverImage,
		Status:       b.Status,
		ChapterCount: len(b.Chapters),
		CreatedAt:    b.CreatedAt,
	}
}

// Published reports whether b is visible in the public listing.
func (b *Book) Published() bool {
	return b.Status == StatusPublished
}

// NewBook is the create request body.
type NewBook struct {
	Title    string    `json:"title"`
	Subtitle string    `json:"subtitle"`
	Author   string    `json:"author"`
	Chapters []Chapter `json:"chapters"`
	Status   string    `json:"status"`
}

// Normalize trims text fields and defaults the status.
func (n *NewBook) Normalize() {
	n.Title = strings.TrimSpace(n.Title)
	n.Subtitle = strings.TrimSpace(n.Subtitle)
	n.Author = strings.TrimSpace(n.Author)
	if n.Status == "" {
		n.Status = StatusDraft
	}
}

// Patch is the update request body; nil fields are left unchanged.
type Patch struct {
	Title    *string    `json:"title"`
	Subtitle *string    `json:"subtitle"`
	Author   *string    `json:"author"`
	Chapters *[]Chapter `json:"chapters"`
	Status   *string    `json:"status"`
}

func validStatus(s string) bool {
	return s == StatusDraft || s == StatusPublished
}
