package cart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	cartdto "github.com/angelmondragon/bookshop-backend/api/controllers/cart/dto"
	"github.com/angelmondragon/bookshop-backend/api/middleware"
	cartsvc "github.com/angelmondragon/bookshop-backend/internal/cart"
	"github.com/angelmondragon/bookshop-backend/internal/catalog"
	"github.com/angelmondragon/bookshop-backend/internal/session"
	pkgerrors "github.com/angelmondragon/bookshop-backend/pkg/errors"
)

type stubCart struct {
	view      cartsvc.View
	line      cartsvc.Line
	err       error
	loaded    bool
	lastItem  catalog.ItemSummary
	lastID    string
	lastOp    string
	lastOwner uuid.UUID
}

func (s *stubCart) View(ctx context.Context) (cartsvc.View, error) {
	return s.view, nil
}

func (s *stubCart) LoadCart(ctx context.Context, userID uuid.UUID) (cartsvc.View, error) {
	s.loaded = true
	s.lastOwner = userID
	return s.view, s.err
}

func (s *stubCart) AddItem(ctx context.Context, userID uuid.UUID, item catalog.ItemSummary) (cartsvc.Line, error) {
	s.lastOp, s.lastItem, s.lastOwner = "add", item, userID
	return s.line, s.err
}

func (s *stubCart) IncreaseQuantity(ctx context.Context, userID uuid.UUID, itemID string) (cartsvc.Line, error) {
	s.lastOp, s.lastID, s.lastOwner = "increase", itemID, userID
	return s.line, s.err
}

func (s *stubCart) DecreaseQuantity(ctx context.Context, userID uuid.UUID, itemID string) (cartsvc.Line, error) {
	s.lastOp, s.lastID, s.lastOwner = "decrease", itemID, userID
	return s.line, s.err
}

type stubCatalog struct {
	item catalog.ItemSummary
	err  error
}

func (s stubCatalog) Search(ctx context.Context, query string, offset, pageSize int) ([]catalog.ItemSummary, error) {
	return nil, s.err
}

func (s stubCatalog) GetItem(ctx context.Context, itemID string) (catalog.ItemSummary, error) {
	if s.err != nil {
		return catalog.ItemSummary{}, s.err
	}
	return s.item, nil
}

func (s stubCatalog) Bestsellers(ctx context.Context) ([]catalog.ItemSummary, error) {
	return nil, s.err
}

func opener(c *stubCart, seen *session.Identity) Opener {
	return func(ctx context.Context, identity session.Identity) Cart {
		if seen != nil {
			*seen = identity
		}
		return c
	}
}

func sampleLine(itemID string, qty int) cartsvc.Line {
	return cartsvc.Line{
		LineID:    uuid.New(),
		ItemID:    itemID,
		Title:     "Book " + itemID,
		UnitPrice: decimal.NewFromInt(200),
		Quantity:  qty,
	}
}

func authed(req *http.Request, userID uuid.UUID) *http.Request {
	ctx := middleware.WithUserID(req.Context(), userID.String())
	ctx = middleware.WithDisplayName(ctx, "Reader")
	return req.WithContext(ctx)
}

func withItemParam(req *http.Request, itemID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("itemId", itemID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeData[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return envelope.Data
}

func decodeErrorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return envelope.Error.Code
}

func TestCartFetchReturnsView(t *testing.T) {
	userID := uuid.New()
	c := &stubCart{view: cartsvc.View{Lines: []cartsvc.Line{sampleLine("B1", 2)}}}
	var seen session.Identity

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil), userID)
	resp := httptest.NewRecorder()
	CartFetch(opener(c, &seen), nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	view := decodeData[cartdto.CartView](t, resp)
	if view.Total != "400.00" || view.ItemCount != 2 || len(view.Lines) != 1 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Lines[0].Subtotal != "400.00" {
		t.Fatalf("unexpected subtotal %s", view.Lines[0].Subtotal)
	}
	if seen.UserID != userID || seen.DisplayName != "Reader" {
		t.Fatalf("unexpected identity %+v", seen)
	}
	if c.loaded {
		t.Fatalf("plain fetch should not reload")
	}
}

func TestCartFetchReload(t *testing.T) {
	userID := uuid.New()
	c := &stubCart{view: cartsvc.View{Lines: []cartsvc.Line{}}}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/cart?reload=true", nil), userID)
	resp := httptest.NewRecorder()
	CartFetch(opener(c, nil), nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !c.loaded || c.lastOwner != userID {
		t.Fatalf("expected reload for %s", userID)
	}
	if view := decodeData[cartdto.CartView](t, resp); view.Total != "0.00" || len(view.Lines) != 0 {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestCartFetchReloadStoreDown(t *testing.T) {
	c := &stubCart{err: pkgerrors.New(pkgerrors.CodeStoreUnavailable, "load cart")}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/cart?reload=1", nil), uuid.New())
	resp := httptest.NewRecorder()
	CartFetch(opener(c, nil), nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp); code != string(pkgerrors.CodeStoreUnavailable) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestCartRequiresUser(t *testing.T) {
	c := &stubCart{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	resp := httptest.NewRecorder()
	CartFetch(opener(c, nil), nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestCartNilOpener(t *testing.T) {
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil), uuid.New())
	resp := httptest.NewRecorder()
	CartFetch(nil, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
}

func TestCartAddItem(t *testing.T) {
	userID := uuid.New()
	line := sampleLine("B1", 1)
	c := &stubCart{line: line, view: cartsvc.View{Lines: []cartsvc.Line{line}}}
	books := stubCatalog{item: catalog.ItemSummary{
		ItemID:  "B1",
		Title:   "Book B1",
		ForSale: true,
		Price:   decimal.NewFromInt(200),
	}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"item_id":"B1"}`)), userID)
	resp := httptest.NewRecorder()
	CartAddItem(opener(c, nil), books, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if c.lastOp != "add" || c.lastItem.ItemID != "B1" || c.lastOwner != userID {
		t.Fatalf("unexpected call %s %+v", c.lastOp, c.lastItem)
	}
	mutation := decodeData[cartdto.CartMutation](t, resp)
	if mutation.Line.ItemID != "B1" || mutation.Line.Quantity != 1 {
		t.Fatalf("unexpected line %+v", mutation.Line)
	}
	if mutation.Cart.Total != "200.00" {
		t.Fatalf("unexpected total %s", mutation.Cart.Total)
	}
}

func TestCartAddItemNotForSale(t *testing.T) {
	c := &stubCart{}
	books := stubCatalog{item: catalog.ItemSummary{ItemID: "B1", Title: "Free", ForSale: false}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"item_id":"B1"}`)), uuid.New())
	resp := httptest.NewRecorder()
	CartAddItem(opener(c, nil), books, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if c.lastOp != "" {
		t.Fatalf("cart should not be touched, got %s", c.lastOp)
	}
}

func TestCartAddItemUnknown(t *testing.T) {
	c := &stubCart{}
	books := stubCatalog{err: pkgerrors.New(pkgerrors.CodeNotFound, "item not found")}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"item_id":"nope"}`)), uuid.New())
	resp := httptest.NewRecorder()
	CartAddItem(opener(c, nil), books, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestCartAddItemMissingBody(t *testing.T) {
	c := &stubCart{}
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{}`)), uuid.New())
	resp := httptest.NewRecorder()
	CartAddItem(opener(c, nil), stubCatalog{}, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCartIncrease(t *testing.T) {
	line := sampleLine("B1", 3)
	c := &stubCart{line: line, view: cartsvc.View{Lines: []cartsvc.Line{line}}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/cart/items/B1/increase", nil), uuid.New())
	req = withItemParam(req, "B1")
	resp := httptest.NewRecorder()
	CartIncrease(opener(c, nil), nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if c.lastOp != "increase" || c.lastID != "B1" {
		t.Fatalf("unexpected call %s %s", c.lastOp, c.lastID)
	}
	if mutation := decodeData[cartdto.CartMutation](t, resp); mutation.Cart.ItemCount != 3 {
		t.Fatalf("unexpected count %d", mutation.Cart.ItemCount)
	}
}

func TestCartDecreaseAtMinimum(t *testing.T) {
	c := &stubCart{
		line: sampleLine("B1", 1),
		err: pkgerrors.New(pkgerrors.CodeMinimumQuantity, "Minimum quantity is 1").
			WithDetails(map[string]any{"item_id": "B1", "quantity": 1}),
	}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/cart/items/B1/decrease", nil), uuid.New())
	req = withItemParam(req, "B1")
	resp := httptest.NewRecorder()
	CartDecrease(opener(c, nil), nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp); code != string(pkgerrors.CodeMinimumQuantity) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestFromSessionsNil(t *testing.T) {
	if FromSessions(nil) != nil {
		t.Fatalf("expected nil opener")
	}
}
