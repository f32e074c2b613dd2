package pagination

import "fmt"

const (
	// DefaultLimit is the standard page size when a limit is not provided.
	DefaultLimit = 10
	// MaxLimit caps how many rows a single page can request.
	MaxLimit = 40
)

// Params holds offset pagination inputs from controllers or services.
type Params struct {
	Offset int
	Limit  int
}

// NormalizeLimit enforces the default and maximum limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Normalize validates the offset and clamps the limit.
func (p Params) Normalize() (Params, error) {
	if p.Offset < 0 {
		return Params{}, fmt.Errorf("offset must be >= 0, got %d", p.Offset)
	}
	return Params{Offset: p.Offset, Limit: NormalizeLimit(p.Limit)}, nil
}

// NextOffset returns the offset of the following page, or nil when the
// current page came back short.
func NextOffset(p Params, returned int) *int {
	if returned < p.Limit || returned == 0 {
		return nil
	}
	next := p.Offset + returned
	return &next
}
