package cart

import (
	"context"
	"errors"

	"github.com/angelmondragon/bookshop-backend/pkg/db/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateLine is returned by CreateLine when (user, item) already has a row.
	ErrDuplicateLine = errors.New("cart line already exists")
	// ErrLineNotFound is returned by SetQuantity when the row no longer exists.
	ErrLineNotFound = errors.New("cart line not found")
)

// CartLineInput carries the denormalized fields captured when a line is created.
type CartLineInput struct {
	UserID       uuid.UUID
	ItemID       string
	Title        string
	ThumbnailURL string
	UnitPrice    decimal.Decimal
	Quantity     int
}

// Store is the per-line document store behind the cart. Every call is a
// single-row operation.
type Store interface {
	FindLine(ctx context.Context, userID uuid.UUID, itemID string) (*models.CartLine, error)
	CreateLine(ctx context.Context, input CartLineInput) (*models.CartLine, error)
	SetQuantity(ctx context.Context, lineID uuid.UUID, quantity int) (*models.CartLine, error)
	ListLines(ctx context.Context, userID uuid.UUID) ([]models.CartLine, error)
}
