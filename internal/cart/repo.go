package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/bookshop-backend/pkg/db"
	"github.com/angelmondragon/bookshop-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const uniqueLineConstraint = "ux_cart_lines_user_item"

// Repository persists cart lines with GORM.
type Repository struct {
	db *gorm.DB
}

var _ Store = (*Repository)(nil)

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindLine returns the line for (userID, itemID), or nil when absent.
func (r *Repository) FindLine(ctx context.Context, userID uuid.UUID, itemID string) (*models.CartLine, error) {
	var line models.CartLine
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND item_id = ?", userID, itemID).
		Take(&line).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// CreateLine inserts a new line. The store assigns the id.
func (r *Repository) CreateLine(ctx context.Context, input CartLineInput) (*models.CartLine, error) {
	quantity := input.Quantity
	if quantity < 1 {
		quantity = 1
	}
	line := &models.CartLine{
		UserID:       input.UserID,
		ItemID:       input.ItemID,
		Title:        input.Title,
		ThumbnailURL: input.ThumbnailURL,
		UnitPrice:    input.UnitPrice,
		Quantity:     quantity,
	}
	if err := r.db.WithContext(ctx).Create(line).Error; err != nil {
		if db.IsUniqueViolation(err, uniqueLineConstraint) {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateLine, err)
		}
		return nil, err
	}
	return line, nil
}

// SetQuantity overwrites the stored quantity and returns the updated row.
func (r *Repository) SetQuantity(ctx context.Context, lineID uuid.UUID, quantity int) (*models.CartLine, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("quantity must be >= 1, got %d", quantity)
	}
	res := r.db.WithContext(ctx).
		Model(&models.CartLine{}).
		Where("id = ?", lineID).
		Update("quantity", quantity)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrLineNotFound
	}

	var line models.CartLine
	if err := r.db.WithContext(ctx).Where("id = ?", lineID).Take(&line).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLineNotFound
		}
		return nil, err
	}
	return &line, nil
}

// ListLines returns every line for userID in creation order.
func (r *Repository) ListLines(ctx context.Context, userID uuid.UUID) ([]models.CartLine, error) {
	var lines []models.CartLine
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}
