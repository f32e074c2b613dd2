package controllers

import (
	"net/http"

	"github.com/angelmondragon/bookshop-backend/api/responses"
	"github.com/angelmondragon/bookshop-backend/api/validators"
	"github.com/angelmondragon/bookshop-backend/internal/catalog"
	pkgerrors "github.com/angelmondragon/bookshop-backend/pkg/errors"
	"github.com/angelmondragon/bookshop-backend/pkg/logger"
	"github.com/angelmondragon/bookshop-backend/pkg/pagination"
	"github.com/go-chi/chi/v5"
)

const (
	maxSearchQueryLen = 200
	maxStartIndex     = 1000
)

type searchResponse struct {
	Items     []catalog.ItemSummary `json:"items"`
	NextIndex *int                  `json:"next_index,omitempty"`
}

type itemsResponse struct {
	Items []catalog.ItemSummary `json:"items"`
}

func catalogUnavailable() error {
	return pkgerrors.New(pkgerrors.CodeInternal, "catalog unavailable")
}

// CatalogSearch serves GET /api/v1/catalog/search?q=&startIndex=&maxResults=.
func CatalogSearch(svc catalog.Catalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, catalogUnavailable())
			return
		}

		query, err := validators.RequireQuery(r, "q", maxSearchQueryLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "startIndex", 0, 0, maxStartIndex)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "maxResults", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page := pagination.Params{Offset: offset, Limit: limit}

		items, err := svc.Search(r.Context(), query, page.Offset, page.Limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if items == nil {
			items = []catalog.ItemSummary{}
		}

		responses.WriteSuccess(w, searchResponse{
			Items:     items,
			NextIndex: pagination.NextOffset(page, len(items)),
		})
	}
}

// CatalogBestsellers serves the landing page selection.
func CatalogBestsellers(svc catalog.Catalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, catalogUnavailable())
			return
		}

		items, err := svc.Bestsellers(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if items == nil {
			items = []catalog.ItemSummary{}
		}

		responses.WriteSuccess(w, itemsResponse{Items: items})
	}
}

func CatalogItem(svc catalog.Catalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, catalogUnavailable())
			return
		}

		item, err := svc.GetItem(r.Context(), chi.URLParam(r, "itemId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, item)
	}
}
