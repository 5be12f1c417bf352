package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// CartLine is one entry of a purchase request.
//
// Malformed is set while decoding when the id or quantity is missing or is
// not an integer, or when the title is missing, empty or not a string. The
// purchase is rejected as a flow error in that case.
type CartLine struct {
	BookID    int    `json:"id"`
	Title     string `json:"titulo"`
	Quantity  int    `json:"cantidad"`
	Malformed bool   `json:"-"`
}

// UnmarshalJSON decodes a cart line leniently and records malformed fields
// instead of failing the whole array.
func (c *CartLine) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       json.RawMessage `json:"id"`
		Title    json.RawMessage `json:"titulo"`
		Quantity json.RawMessage `json:"cantidad"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		*c = CartLine{Malformed: true}
		return nil
	}

	*c = CartLine{}
	title, okTitle := decodeTitle(raw.Title)
	id, okID := decodeInt(raw.ID)
	qty, okQty := decodeInt(raw.Quantity)
	c.Title = title
	c.BookID = id
	c.Quantity = qty
	c.Malformed = !okTitle || !okID || !okQty
	return nil
}

func decodeTitle(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, s != ""
}

func decodeInt(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

// StockUpdate reports the remaining stock of a purchased book.
type StockUpdate struct {
	BookID            int `json:"id"`
	QuantityAvailable int `json:"cantidad_disponible"`
}

// ReceiptLine is one purchased line priced at commit time.
type ReceiptLine struct {
	BookID    int    `json:"id"`
	Title     string `json:"titulo"`
	Quantity  int    `json:"cantidad"`
	UnitPrice int    `json:"precio_unitario"`
}

// Receipt describes a committed purchase. It is published as an event and
// archived to object storage.
type Receipt struct {
	ID          string        `json:"id"`
	UserID      int           `json:"usuario_id"`
	Lines       []ReceiptLine `json:"lineas"`
	Total       int           `json:"total"`
	PurchasedAt time.Time     `json:"fecha"`
}
