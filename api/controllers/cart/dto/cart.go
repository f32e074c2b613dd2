package cartdto

import (
	"time"

	"github.com/google/uuid"
)

// AddItemRequest is the body of POST /api/v1/cart/items.
type AddItemRequest struct {
	ItemID string `json:"item_id" validate:"required,max=64"`
}

// CartLine carries money as fixed two-place decimal strings.
type CartLine struct {
	LineID       uuid.UUID `json:"line_id"`
	ItemID       string    `json:"item_id"`
	Title        string    `json:"title"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	UnitPrice    string    `json:"unit_price"`
	Quantity     int       `json:"quantity"`
	Subtotal     string    `json:"subtotal"`
	CreatedAt    time.Time `json:"created_at"`
}

type CartView struct {
	Lines     []CartLine `json:"lines"`
	ItemCount int        `json:"item_count"`
	Total     string     `json:"total"`
}

// CartMutation is returned by add, increase and decrease.
type CartMutation struct {
	Line CartLine `json:"line"`
	Cart CartView `json:"cart"`
}
