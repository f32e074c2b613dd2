package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CartLine is one per-user, per-item row of the cart. (user_id, item_id) is unique.
type CartLine struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	UserID       uuid.UUID       `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_cart_lines_user_item,priority:1"`
	ItemID       string          `gorm:"column:item_id;type:text;not null;uniqueIndex:ux_cart_lines_user_item,priority:2"`
	Title        string          `gorm:"column:title;type:text;not null"`
	ThumbnailURL string          `gorm:"column:thumbnail_url;type:text;not null;default:''"`
	UnitPrice    decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	Quantity     int             `gorm:"column:quantity;not null;default:1;check:ck_cart_lines_quantity,quantity >= 1"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (CartLine) TableName() string {
	return "cart_lines"
}

// BeforeCreate assigns the line id so the schema does not depend on gen_random_uuid.
func (l *CartLine) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
