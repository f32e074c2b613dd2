package cart

import (
	cartdto "github.com/angelmondragon/bookshop-backend/api/controllers/cart/dto"
	cartsvc "github.com/angelmondragon/bookshop-backend/internal/cart"
)

const moneyPlaces = 2

func newCartLine(line cartsvc.Line) cartdto.CartLine {
	return cartdto.CartLine{
		LineID:       line.LineID,
		ItemID:       line.ItemID,
		Title:        line.Title,
		ThumbnailURL: line.ThumbnailURL,
		UnitPrice:    line.UnitPrice.StringFixed(moneyPlaces),
		Quantity:     line.Quantity,
		Subtotal:     line.Subtotal().StringFixed(moneyPlaces),
		CreatedAt:    line.CreatedAt,
	}
}

func newCartView(view cartsvc.View) cartdto.CartView {
	lines := make([]cartdto.CartLine, 0, len(view.Lines))
	for _, line := range view.Lines {
		lines = append(lines, newCartLine(line))
	}
	return cartdto.CartView{
		Lines:     lines,
		ItemCount: view.ItemCount(),
		Total:     view.Total().StringFixed(moneyPlaces),
	}
}
