package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/bookshop-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/bookshop-backend/pkg/errors"
	"github.com/angelmondragon/bookshop-backend/pkg/logger"
	"github.com/angelmondragon/bookshop-backend/pkg/metrics"
	"github.com/angelmondragon/bookshop-backend/pkg/pagination"
	"github.com/sony/gobreaker"
)

const (
	defaultBaseURL         = "https://www.googleapis.com/books/v1"
	bestsellersQuery       = "bestsellers"
	bestsellersPageSize    = 12
	errorBodyReadLimit     = 1024
	breakerName            = "catalog"
	opSearch               = "search"
	opGetItem              = "get_item"
	opBestsellers          = "bestsellers"
	outcomeNotFound        = "not_found"
	outcomeUnavailable     = "unavailable"
	outcomeInvalidArgument = "invalid"
)

// Catalog is the read-only surface consumed by controllers.
type Catalog interface {
	Search(ctx context.Context, query string, offset, pageSize int) ([]ItemSummary, error)
	GetItem(ctx context.Context, itemID string) (ItemSummary, error)
	Bestsellers(ctx context.Context) ([]ItemSummary, error)
}

// Client talks to the Google Books volumes API. It never retries or caches.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	breaker    *gobreaker.CircuitBreaker
	metrics    *metrics.CatalogMetrics
	logg       *logger.Logger
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured volumes base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithMetrics attaches request counters.
func WithMetrics(m *metrics.CatalogMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger attaches a logger used for breaker state changes.
func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) {
		if logg != nil {
			c.logg = logg
		}
	}
}

// NewClient builds the catalog client from configuration.
func NewClient(cfg config.CatalogConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    defaultBaseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		logg:       logger.Nop(),
	}
	if cfg.BaseURL != "" {
		client.baseURL = cfg.BaseURL
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	client.breaker = newBreaker(cfg, client.logg)
	return client
}

func newBreaker(cfg config.CatalogConfig, logg *logger.Logger) *gobreaker.CircuitBreaker {
	minRequests := cfg.BreakerMinRequests
	threshold := cfg.BreakerFailureThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ctx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(ctx, "catalog circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				pkgerrors.IsCode(err, pkgerrors.CodeNotFound) ||
				errors.Is(err, context.Canceled)
		},
	})
}

// Search returns one page of items matching query.
func (c *Client) Search(ctx context.Context, query string, offset, pageSize int) ([]ItemSummary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		c.metrics.Inc(opSearch, outcomeInvalidArgument)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "search query is required")
	}
	page, err := pagination.Params{Offset: offset, Limit: pageSize}.Normalize()
	if err != nil {
		c.metrics.Inc(opSearch, outcomeInvalidArgument)
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid page")
	}
	return c.list(ctx, opSearch, query, page)
}

// Bestsellers returns the landing page selection.
func (c *Client) Bestsellers(ctx context.Context) ([]ItemSummary, error) {
	return c.list(ctx, opBestsellers, bestsellersQuery, pagination.Params{Limit: bestsellersPageSize})
}

// GetItem fetches a single volume. An unknown id yields NOT_FOUND.
func (c *Client) GetItem(ctx context.Context, itemID string) (ItemSummary, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		c.metrics.Inc(opGetItem, outcomeInvalidArgument)
		return ItemSummary{}, pkgerrors.New(pkgerrors.CodeValidation, "item id is required")
	}

	var v volume
	endpoint := c.buildURL("volumes/"+url.PathEscape(itemID), nil)
	if err := c.do(ctx, opGetItem, endpoint, &v); err != nil {
		return ItemSummary{}, err
	}
	if v.ID == "" {
		c.metrics.Inc(opGetItem, outcomeNotFound)
		return ItemSummary{}, pkgerrors.New(pkgerrors.CodeNotFound, "item not found")
	}
	return v.summary(), nil
}

func (c *Client) list(ctx context.Context, op, query string, page pagination.Params) ([]ItemSummary, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("startIndex", strconv.Itoa(page.Offset))
	params.Set("maxResults", strconv.Itoa(page.Limit))

	var resp volumeList
	if err := c.do(ctx, op, c.buildURL("volumes", params), &resp); err != nil {
		return nil, err
	}
	items := make([]ItemSummary, 0, len(resp.Items))
	for _, v := range resp.Items {
		items = append(items, v.summary())
	}
	return items, nil
}

func (c *Client) do(ctx context.Context, op, endpoint string, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.fetch(ctx, endpoint, out)
	})
	switch {
	case err == nil:
		c.metrics.Inc(op, metrics.OutcomeSuccess)
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.metrics.Inc(op, outcomeUnavailable)
		return pkgerrors.Wrap(pkgerrors.CodeCatalogUnavailable, err, "catalog circuit open")
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		c.metrics.Inc(op, outcomeNotFound)
		return err
	default:
		c.metrics.Inc(op, outcomeUnavailable)
		return err
	}
}

func (c *Client) fetch(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeCatalogUnavailable, err, "build catalog request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeCatalogUnavailable, err, "execute catalog request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return pkgerrors.New(pkgerrors.CodeNotFound, "item not found")
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return pkgerrors.Wrap(
			pkgerrors.CodeCatalogUnavailable,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			"catalog request failed",
		)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeCatalogUnavailable, err, "decode catalog response")
	}
	return nil
}

func (c *Client) buildURL(path string, params url.Values) string {
	if c.apiKey != "" {
		if params == nil {
			params = url.Values{}
		}
		params.Set("key", c.apiKey)
	}
	endpoint := fmt.Sprintf("%s/%s", strings.TrimRight(c.baseURL, "/"), strings.TrimLeft(path, "/"))
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return endpoint
}
