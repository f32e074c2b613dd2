package catalog

import (
	"strings"

	"github.com/shopspring/decimal"
)

const saleabilityForSale = "FOR_SALE"

// ItemSummary is the catalog projection handed to the cart and the API.
type ItemSummary struct {
	ItemID        string          `json:"item_id"`
	Title         string          `json:"title"`
	Authors       []string        `json:"authors"`
	Publisher     string          `json:"publisher,omitempty"`
	PublishedDate string          `json:"published_date,omitempty"`
	Description   string          `json:"description,omitempty"`
	Categories    []string        `json:"categories"`
	ThumbnailURL  string          `json:"thumbnail_url,omitempty"`
	Saleability   string          `json:"saleability,omitempty"`
	ForSale       bool            `json:"for_sale"`
	Price         decimal.Decimal `json:"price"`
	CurrencyCode  string          `json:"currency_code,omitempty"`
}

type volumeList struct {
	TotalItems int      `json:"totalItems"`
	Items      []volume `json:"items"`
}

type volume struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title         string   `json:"title"`
		Authors       []string `json:"authors"`
		Publisher     string   `json:"publisher"`
		PublishedDate string   `json:"publishedDate"`
		Description   string   `json:"description"`
		Categories    []string `json:"categories"`
		ImageLinks    *struct {
			SmallThumbnail string `json:"smallThumbnail"`
			Thumbnail      string `json:"thumbnail"`
		} `json:"imageLinks"`
	} `json:"volumeInfo"`
	SaleInfo *struct {
		Saleability string `json:"saleability"`
		ListPrice   *price `json:"listPrice"`
		RetailPrice *price `json:"retailPrice"`
	} `json:"saleInfo"`
}

type price struct {
	Amount       decimal.Decimal `json:"amount"`
	CurrencyCode string          `json:"currencyCode"`
}

func (v volume) summary() ItemSummary {
	info := v.VolumeInfo
	item := ItemSummary{
		ItemID:        v.ID,
		Title:         strings.TrimSpace(info.Title),
		Authors:       nonNil(info.Authors),
		Publisher:     info.Publisher,
		PublishedDate: info.PublishedDate,
		Description:   info.Description,
		Categories:    nonNil(info.Categories),
		Price:         decimal.Zero,
	}
	if info.ImageLinks != nil {
		item.ThumbnailURL = info.ImageLinks.Thumbnail
		if item.ThumbnailURL == "" {
			item.ThumbnailURL = info.ImageLinks.SmallThumbnail
		}
	}
	if sale := v.SaleInfo; sale != nil {
		item.Saleability = sale.Saleability
		p := sale.RetailPrice
		if p == nil {
			p = sale.ListPrice
		}
		if p != nil {
			item.Price = p.Amount.Round(2)
			item.CurrencyCode = p.CurrencyCode
		}
		item.ForSale = sale.Saleability == saleabilityForSale && p != nil
	}
	return item
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
