package cart

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	cartdto "github.com/angelmondragon/bookshop-backend/api/controllers/cart/dto"
	"github.com/angelmondragon/bookshop-backend/api/middleware"
	"github.com/angelmondragon/bookshop-backend/api/responses"
	"github.com/angelmondragon/bookshop-backend/api/validators"
	cartsvc "github.com/angelmondragon/bookshop-backend/internal/cart"
	"github.com/angelmondragon/bookshop-backend/internal/catalog"
	"github.com/angelmondragon/bookshop-backend/internal/session"
	pkgerrors "github.com/angelmondragon/bookshop-backend/pkg/errors"
	"github.com/angelmondragon/bookshop-backend/pkg/logger"
)

// Cart is the per-user surface the handlers drive.
type Cart interface {
	View(ctx context.Context) (cartsvc.View, error)
	LoadCart(ctx context.Context, userID uuid.UUID) (cartsvc.View, error)
	AddItem(ctx context.Context, userID uuid.UUID, item catalog.ItemSummary) (cartsvc.Line, error)
	IncreaseQuantity(ctx context.Context, userID uuid.UUID, itemID string) (cartsvc.Line, error)
	DecreaseQuantity(ctx context.Context, userID uuid.UUID, itemID string) (cartsvc.Line, error)
}

// Opener resolves the cart of the signed-in user.
type Opener func(ctx context.Context, identity session.Identity) Cart

// FromSessions opens carts through the shared session registry.
func FromSessions(sessions *cartsvc.Sessions) Opener {
	if sessions == nil {
		return nil
	}
	return func(ctx context.Context, identity session.Identity) Cart {
		return sessions.Open(ctx, identity)
	}
}

// CartFetch returns the caller's cart. ?reload=true rebuilds it from the store.
func CartFetch(open Opener, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, identity, err := resolve(r, open)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reload, err := validators.ParseQueryBool(r, "reload")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var view cartsvc.View
		if reload {
			view, err = c.LoadCart(r.Context(), identity.UserID)
		} else {
			view, err = c.View(r.Context())
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartView(view))
	}
}

// CartAddItem looks the item up in the catalog and adds one unit of it.
func CartAddItem(open Opener, books catalog.Catalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if books == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog unavailable"))
			return
		}
		c, identity, err := resolve(r, open)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cartdto.AddItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		item, err := books.GetItem(r.Context(), strings.TrimSpace(payload.ItemID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !item.ForSale {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "item is not for sale").
				WithDetails(map[string]any{"item_id": item.ItemID}))
			return
		}

		line, err := c.AddItem(r.Context(), identity.UserID, item)
		writeMutation(w, r, logg, c, line, err)
	}
}

func CartIncrease(open Opener, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, identity, err := resolve(r, open)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		line, err := c.IncreaseQuantity(r.Context(), identity.UserID, chi.URLParam(r, "itemId"))
		writeMutation(w, r, logg, c, line, err)
	}
}

// CartDecrease removes one unit; a line at quantity 1 yields 422 MINIMUM_QUANTITY.
func CartDecrease(open Opener, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, identity, err := resolve(r, open)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		line, err := c.DecreaseQuantity(r.Context(), identity.UserID, chi.URLParam(r, "itemId"))
		writeMutation(w, r, logg, c, line, err)
	}
}

func writeMutation(w http.ResponseWriter, r *http.Request, logg *logger.Logger, c Cart, line cartsvc.Line, err error) {
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	view, err := c.View(r.Context())
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, cartdto.CartMutation{
		Line: newCartLine(line),
		Cart: newCartView(view),
	})
}

func resolve(r *http.Request, open Opener) (Cart, session.Identity, error) {
	if open == nil {
		return nil, session.Identity{}, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable")
	}
	userID, ok := middleware.UserUUIDFromContext(r.Context())
	if !ok {
		return nil, session.Identity{}, pkgerrors.New(pkgerrors.CodeUnauthenticated, "sign in to use the cart")
	}
	identity := session.Identity{
		UserID:      userID,
		DisplayName: middleware.DisplayNameFromContext(r.Context()),
	}
	c := open(r.Context(), identity)
	if c == nil {
		return nil, session.Identity{}, pkgerrors.New(pkgerrors.CodeInternal, "cart session unavailable")
	}
	return c, identity, nil
}
