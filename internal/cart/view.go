package cart

import (
	"sort"
	"time"

	"github.com/angelmondragon/bookshop-backend/pkg/db/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Line is one cart entry as seen by callers. Values are copies; mutating them
// has no effect on the cart.
type Line struct {
	LineID       uuid.UUID       `json:"line_id"`
	UserID       uuid.UUID       `json:"user_id"`
	ItemID       string          `json:"item_id"`
	Title        string          `json:"title"`
	ThumbnailURL string          `json:"thumbnail_url,omitempty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int             `json:"quantity"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Subtotal is unit price times quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LineFromModel converts a stored row.
func LineFromModel(m *models.CartLine) Line {
	if m == nil {
		return Line{}
	}
	return Line{
		LineID:       m.ID,
		UserID:       m.UserID,
		ItemID:       m.ItemID,
		Title:        m.Title,
		ThumbnailURL: m.ThumbnailURL,
		UnitPrice:    m.UnitPrice,
		Quantity:     m.Quantity,
		CreatedAt:    m.CreatedAt,
	}
}

// View is an ordered snapshot of a user's cart.
type View struct {
	Lines []Line `json:"lines"`
}

// Total recomputes the sum of unit price times quantity over the view.
func Total(v View) decimal.Decimal {
	total := decimal.Zero
	for _, line := range v.Lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

// Total is shorthand for Total(v).
func (v View) Total() decimal.Decimal {
	return Total(v)
}

// Find returns the line for itemID.
func (v View) Find(itemID string) (Line, bool) {
	for _, line := range v.Lines {
		if line.ItemID == itemID {
			return line, true
		}
	}
	return Line{}, false
}

// ItemCount is the sum of quantities.
func (v View) ItemCount() int {
	n := 0
	for _, line := range v.Lines {
		n += line.Quantity
	}
	return n
}

func (v View) clone() View {
	lines := make([]Line, len(v.Lines))
	copy(lines, v.Lines)
	return View{Lines: lines}
}

// upsert replaces the line with the same item id or inserts it, keeping
// creation order.
func (v *View) upsert(line Line) {
	for i := range v.Lines {
		if v.Lines[i].ItemID == line.ItemID {
			v.Lines[i] = line
			return
		}
	}
	v.Lines = append(v.Lines, line)
	sortLines(v.Lines)
}

func sortLines(lines []Line) {
	sort.SliceStable(lines, func(i, j int) bool {
		if !lines[i].CreatedAt.Equal(lines[j].CreatedAt) {
			return lines[i].CreatedAt.Before(lines[j].CreatedAt)
		}
		return lines[i].LineID.String() < lines[j].LineID.String()
	})
}
