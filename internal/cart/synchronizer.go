package cart

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/bookshop-backend/internal/catalog"
	"github.com/angelmondragon/bookshop-backend/internal/session"
	"github.com/angelmondragon/bookshop-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bookshop-backend/pkg/errors"
	"github.com/angelmondragon/bookshop-backend/pkg/logger"
	"github.com/angelmondragon/bookshop-backend/pkg/metrics"
	"github.com/google/uuid"
)

const (
	opLoad     = "load"
	opAdd      = "add_item"
	opIncrease = "increase"
	opDecrease = "decrease"

	minimumQuantity = 1
)

// IdentitySource reports the signed-in identity and its generation.
type IdentitySource interface {
	Snapshot() (*session.Identity, uint64)
	Subscribe(fn session.Listener) func()
}

// Synchronizer keeps the session-scoped cart view consistent with the store.
// The view changes only after a store write succeeds, and only while the
// identity that started the operation is still signed in.
type Synchronizer struct {
	store    Store
	identity IdentitySource
	locker   Locker
	metrics  *metrics.CartMetrics
	logg     *logger.Logger

	mu          sync.Mutex
	view        View
	generation  uint64
	baseCtx     context.Context
	unsubscribe func()

	// writes counts line commits; written holds the count at each item's
	// latest commit so a load can tell which rows it read are already stale.
	writes  uint64
	written map[string]uint64
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLocker overrides the default in-process locker.
func WithLocker(l Locker) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithMetrics attaches operation metrics.
func WithMetrics(m *metrics.CartMetrics) Option {
	return func(s *Synchronizer) {
		s.metrics = m
	}
}

// WithLogger attaches a logger.
func WithLogger(logg *logger.Logger) Option {
	return func(s *Synchronizer) {
		if logg != nil {
			s.logg = logg
		}
	}
}

// NewSynchronizer wires the core to a store and an identity source.
func NewSynchronizer(store Store, identity IdentitySource, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:    store,
		identity: identity,
		locker:   NewLocalLocker(),
		logg:     logger.Nop(),
		view:     View{Lines: []Line{}},
		written:  make(map[string]uint64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start subscribes to identity changes. ctx is used for the cart loads that
// follow a sign-in. Calling Start twice is a no-op.
func (s *Synchronizer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.unsubscribe != nil {
		s.mu.Unlock()
		return
	}
	s.baseCtx = ctx
	s.unsubscribe = s.identity.Subscribe(s.onIdentityChange)
	s.mu.Unlock()

	current, _ := s.identity.Snapshot()
	s.onIdentityChange(current)
}

// Stop unsubscribes from identity changes and drops the view.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.view = View{Lines: []Line{}}
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (s *Synchronizer) onIdentityChange(identity *session.Identity) {
	_, gen := s.identity.Snapshot()

	s.mu.Lock()
	s.view = View{Lines: []Line{}}
	s.generation = gen
	s.written = make(map[string]uint64)
	ctx := s.baseCtx
	s.mu.Unlock()

	if identity == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.LoadCart(ctx, identity.UserID); err != nil {
		s.logg.Error(s.logg.WithUserID(ctx, identity.UserID.String()), "cart load after sign-in failed", err)
	}
}

// LoadCart rebuilds the view from the store. Lines committed by a mutation
// after the rows were read keep their newer value. On a read failure it
// returns an empty view together with STORE_UNAVAILABLE.
func (s *Synchronizer) LoadCart(ctx context.Context, userID uuid.UUID) (view View, err error) {
	start := time.Now()
	defer func() { s.observe(opLoad, start, err) }()

	gen, err := s.authorize(userID)
	if err != nil {
		return View{Lines: []Line{}}, err
	}

	s.mu.Lock()
	since := s.writes
	s.mu.Unlock()

	rows, err := s.store.ListLines(ctx, userID)
	if err != nil {
		return View{Lines: []Line{}}, storeError(err, "load cart")
	}

	loaded := View{Lines: make([]Line, 0, len(rows))}
	for i := range rows {
		loaded.Lines = append(loaded.Lines, LineFromModel(&rows[i]))
	}

	committed := s.commit(gen, func(v *View) {
		for itemID, seq := range s.written {
			if seq <= since {
				continue
			}
			if newer, ok := v.Find(itemID); ok {
				loaded.upsert(newer)
			}
		}
		sortLines(loaded.Lines)
		*v = loaded.clone()
	})
	if !committed {
		sortLines(loaded.Lines)
		s.logDiscarded(ctx, opLoad, userID, "")
	}
	return loaded, nil
}

// View returns a copy of the current view.
func (s *Synchronizer) View(ctx context.Context) (View, error) {
	identity, gen := s.identity.Snapshot()
	if identity == nil {
		return View{}, pkgerrors.New(pkgerrors.CodeUnauthenticated, "sign in to view your cart")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return View{Lines: []Line{}}, nil
	}
	return s.view.clone(), nil
}

// AddItem adds one unit of item, creating the line when absent.
func (s *Synchronizer) AddItem(ctx context.Context, userID uuid.UUID, item catalog.ItemSummary) (Line, error) {
	return s.mutate(ctx, opAdd, userID, item.ItemID, func(ctx context.Context, itemID string) (*models.CartLine, error) {
		if err := validateItem(item); err != nil {
			return nil, err
		}
		existing, err := s.store.FindLine(ctx, userID, itemID)
		if err != nil {
			return nil, storeError(err, "find cart line")
		}
		if existing != nil {
			return s.setQuantity(ctx, existing, existing.Quantity+1)
		}

		created, err := s.store.CreateLine(ctx, CartLineInput{
			UserID:       userID,
			ItemID:       itemID,
			Title:        strings.TrimSpace(item.Title),
			ThumbnailURL: item.ThumbnailURL,
			UnitPrice:    item.Price,
			Quantity:     minimumQuantity,
		})
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, ErrDuplicateLine) {
			return nil, storeError(err, "create cart line")
		}

		// another writer created the line first
		existing, err = s.store.FindLine(ctx, userID, itemID)
		if err != nil {
			return nil, storeError(err, "find cart line")
		}
		if existing == nil {
			return nil, pkgerrors.New(pkgerrors.CodeStoreUnavailable, "cart line vanished after conflict")
		}
		return s.setQuantity(ctx, existing, existing.Quantity+1)
	})
}

// IncreaseQuantity adds one unit to an existing line.
func (s *Synchronizer) IncreaseQuantity(ctx context.Context, userID uuid.UUID, itemID string) (Line, error) {
	return s.mutate(ctx, opIncrease, userID, itemID, func(ctx context.Context, itemID string) (*models.CartLine, error) {
		existing, err := s.findExisting(ctx, userID, itemID)
		if err != nil {
			return nil, err
		}
		return s.setQuantity(ctx, existing, existing.Quantity+1)
	})
}

// DecreaseQuantity removes one unit. At quantity 1 it returns the unchanged
// line with a MINIMUM_QUANTITY error.
func (s *Synchronizer) DecreaseQuantity(ctx context.Context, userID uuid.UUID, itemID string) (Line, error) {
	return s.mutate(ctx, opDecrease, userID, itemID, func(ctx context.Context, itemID string) (*models.CartLine, error) {
		existing, err := s.findExisting(ctx, userID, itemID)
		if err != nil {
			return nil, err
		}
		if existing.Quantity <= minimumQuantity {
			return existing, pkgerrors.New(pkgerrors.CodeMinimumQuantity, "Minimum quantity is 1").
				WithDetails(map[string]any{"item_id": itemID, "quantity": existing.Quantity})
		}
		return s.setQuantity(ctx, existing, existing.Quantity-1)
	})
}

func (s *Synchronizer) findExisting(ctx context.Context, userID uuid.UUID, itemID string) (*models.CartLine, error) {
	existing, err := s.store.FindLine(ctx, userID, itemID)
	if err != nil {
		return nil, storeError(err, "find cart line")
	}
	if existing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "item is not in the cart").
			WithDetails(map[string]any{"item_id": itemID})
	}
	return existing, nil
}

func (s *Synchronizer) setQuantity(ctx context.Context, line *models.CartLine, quantity int) (*models.CartLine, error) {
	updated, err := s.store.SetQuantity(ctx, line.ID, quantity)
	if err != nil {
		return nil, storeError(err, "update cart line quantity")
	}
	return updated, nil
}

// mutate runs fn under the (user, item) lock and mirrors the stored row into
// the view when the identity generation has not moved.
func (s *Synchronizer) mutate(ctx context.Context, op string, userID uuid.UUID, itemID string, fn func(ctx context.Context, itemID string) (*models.CartLine, error)) (line Line, err error) {
	start := time.Now()
	defer func() { s.observe(op, start, err) }()

	itemID = strings.TrimSpace(itemID)
	gen, err := s.authorize(userID)
	if err != nil {
		return Line{}, err
	}
	if itemID == "" {
		return Line{}, pkgerrors.New(pkgerrors.CodeValidation, "item id is required")
	}

	unlock, err := s.locker.Lock(ctx, lineKey(userID, itemID))
	if err != nil {
		return Line{}, pkgerrors.Wrap(pkgerrors.CodeStoreUnavailable, err, "acquire cart line lock")
	}
	defer unlock()

	row, err := fn(ctx, itemID)
	if err != nil {
		if row != nil {
			return LineFromModel(row), err
		}
		return Line{}, err
	}

	line = LineFromModel(row)
	committed := s.commit(gen, func(v *View) {
		v.upsert(line)
		s.writes++
		s.written[line.ItemID] = s.writes
	})
	if !committed {
		s.logDiscarded(ctx, op, userID, itemID)
	}
	return line, nil
}

// authorize checks that userID is the signed-in identity and returns the
// generation to commit against.
func (s *Synchronizer) authorize(userID uuid.UUID) (uint64, error) {
	identity, gen := s.identity.Snapshot()
	if identity == nil {
		return 0, pkgerrors.New(pkgerrors.CodeUnauthenticated, "sign in to use the cart")
	}
	if identity.UserID != userID {
		return 0, pkgerrors.New(pkgerrors.CodeUnauthenticated, "cart belongs to another user")
	}
	return gen, nil
}

// commit applies fn to the view under s.mu when gen is still current.
func (s *Synchronizer) commit(gen uint64, fn func(*View)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, current := s.identity.Snapshot()
	if s.generation != gen || current != gen {
		return false
	}
	fn(&s.view)
	return true
}

func (s *Synchronizer) observe(op string, start time.Time, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = string(codeOf(err))
	}
	s.metrics.Observe(op, outcome, time.Since(start))
}

func (s *Synchronizer) logDiscarded(ctx context.Context, op string, userID uuid.UUID, itemID string) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"op":      op,
		"user_id": userID.String(),
		"item_id": itemID,
	})
	s.logg.Info(ctx, "identity changed during cart operation; view left untouched")
}

func validateItem(item catalog.ItemSummary) error {
	switch {
	case strings.TrimSpace(item.Title) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "item title is required")
	case item.Price.IsNegative():
		return pkgerrors.New(pkgerrors.CodeValidation, "item price must not be negative")
	}
	return nil
}

func storeError(err error, msg string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	if errors.Is(err, ErrLineNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "item is not in the cart")
	}
	return pkgerrors.Wrap(pkgerrors.CodeStoreUnavailable, err, msg)
}

func codeOf(err error) pkgerrors.Code {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Code()
	}
	return pkgerrors.CodeInternal
}
