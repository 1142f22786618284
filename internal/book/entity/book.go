package entity

import (
	"strings"
	"time"
)

// Book is a catalog row. ContentRef points at the private PDF and must never
// leave the server; handlers serialise Public instead.
type Book struct {
	ID           string    `db:"id"`
	Title        string    `db:"title"`
	Description  string    `db:"description"`
	Price        int64     `db:"price"` // major currency units
	ThumbnailRef string    `db:"thumbnail_ref"`
	ContentRef   string    `db:"content_ref"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Public is the catalog projection. It has no content field at all.
type Public struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Price        int64     `json:"price"`
	ThumbnailURL string    `json:"thumbnailUrl"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (b *Book) Public() Public {
	return Public{
		ID:           b.ID,
		Title:        b.Title,
		Description:  b.Description,
		Price:        b.Price,
		ThumbnailURL: ThumbnailURL(b.ThumbnailRef),
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

// ThumbnailURL maps a stored thumbnail ref to the URL clients fetch it from.
// Local refs are served by the public files route; remote refs pass through.
func ThumbnailURL(ref string) string {
	const local = "/uploads/thumbnails/"
	if strings.HasPrefix(ref, local) {
		return "/files/thumbnails/" + strings.TrimPrefix(ref, local)
	}
	return ref
}
