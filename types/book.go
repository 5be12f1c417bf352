package types

import (
	"fmt"
	"time"
)

const coverURLFormat = "https://covers.openlibrary.org/b/id/%d-M.jpg"

// Book is a catalog entry with its live stock.
type Book struct {
	// ID is the unique identifier of the book.
	ID int `json:"id" db:"id"`

	// Title is unique and never empty.
	Title string `json:"titulo" db:"title"`

	// Author defaults to "unknown".
	Author string `json:"autor" db:"author"`

	// QuantityAvailable is the number of units in stock. Purchases never
	// take it below zero.
	QuantityAvailable int `json:"cantidad_disponible" db:"quantity_available"`

	// Price is the unit price in minor currency units.
	Price int `json:"precio" db:"price"`

	// CoverID references an Open Library cover, if any.
	CoverID *int `json:"cover_id,omitempty" db:"cover_id"`

	CreatedAt time.Time `json:"-" db:"created_at"`
	UpdatedAt time.Time `json:"-" db:"updated_at"`
}

// CoverURL returns the cover image URL, or "" when the book has no cover.
func (b Book) CoverURL() string {
	if b.CoverID == nil {
		return ""
	}
	return fmt.Sprintf(coverURLFormat, *b.CoverID)
}

// CatalogBook is the catalog representation returned to clients.
type CatalogBook struct {
	Book
	Thumbnail string `json:"thumbnail,omitempty"`
}

// NewCatalogBook attaches the cover thumbnail to b.
func NewCatalogBook(b Book) CatalogBook {
	return CatalogBook{Book: b, Thumbnail: b.CoverURL()}
}
