package cart

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/angelmondragon/bookshop-backend/internal/catalog"
	"github.com/angelmondragon/bookshop-backend/internal/session"
	pkgerrors "github.com/angelmondragon/bookshop-backend/pkg/errors"
	"github.com/angelmondragon/bookshop-backend/pkg/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func decimalFromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func book(id string, price int64) catalog.ItemSummary {
	return catalog.ItemSummary{
		ItemID:       id,
		Title:        "Book " + id,
		ThumbnailURL: "http://img/" + id,
		ForSale:      true,
		Price:        decimal.NewFromInt(price),
	}
}

func sameLine(a, b Line) bool {
	return a.LineID == b.LineID &&
		a.ItemID == b.ItemID &&
		a.Quantity == b.Quantity &&
		a.UnitPrice.Equal(b.UnitPrice) &&
		a.CreatedAt.Equal(b.CreatedAt)
}

type harness struct {
	store   *memStore
	tracker *session.Tracker
	sync    *Synchronizer
	userID  uuid.UUID
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	store := newMemStore()
	tracker := session.NewTracker()
	s := NewSynchronizer(store, tracker, opts...)
	s.Start(context.Background())
	t.Cleanup(s.Stop)

	userID := uuid.New()
	tracker.SignIn(session.Identity{UserID: userID, DisplayName: "Reader"})
	return &harness{store: store, tracker: tracker, sync: s, userID: userID}
}

func (h *harness) view(t *testing.T) View {
	t.Helper()
	v, err := h.sync.View(context.Background())
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	return v
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	if !pkgerrors.IsCode(err, code) {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

func TestAddSameItemTwiceIncrementsSingleLine(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.sync.AddItem(ctx, h.userID, book("B1", 200)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	line, err := h.sync.AddItem(ctx, h.userID, book("B1", 200))
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if line.Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", line.Quantity)
	}

	view := h.view(t)
	if len(view.Lines) != 1 {
		t.Fatalf("expected one line, got %d", len(view.Lines))
	}
	if !view.Total().Equal(decimal.NewFromInt(400)) {
		t.Fatalf("expected total 400, got %s", view.Total())
	}
	if h.store.count() != 1 {
		t.Fatalf("expected one stored line, got %d", h.store.count())
	}
}

func TestSequentialAddsAccumulate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const n = 7
	for i := 0; i < n; i++ {
		if _, err := h.sync.AddItem(ctx, h.userID, book("B1", 15)); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if got := h.store.quantity(h.userID, "B1"); got != n {
		t.Fatalf("expected stored quantity %d, got %d", n, got)
	}
	line, ok := h.view(t).Find("B1")
	if !ok || line.Quantity != n {
		t.Fatalf("expected view quantity %d, got %+v", n, line)
	}
}

func TestAddCapturesDenormalizedFields(t *testing.T) {
	h := newHarness(t)
	line, err := h.sync.AddItem(context.Background(), h.userID, book("B9", 120))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if line.LineID == uuid.Nil || line.Title != "Book B9" || line.ThumbnailURL != "http://img/B9" {
		t.Fatalf("unexpected line %+v", line)
	}
	if !line.UnitPrice.Equal(decimal.NewFromInt(120)) || line.Quantity != 1 {
		t.Fatalf("unexpected price or quantity %+v", line)
	}
}

func TestAddRejectsInvalidItem(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.sync.AddItem(ctx, h.userID, catalog.ItemSummary{Title: "No id"})
	requireCode(t, err, pkgerrors.CodeValidation)

	item := book("B1", 10)
	item.Price = decimal.NewFromInt(-1)
	_, err = h.sync.AddItem(ctx, h.userID, item)
	requireCode(t, err, pkgerrors.CodeValidation)

	if h.store.count() != 0 {
		t.Fatal("invalid items must not reach the store")
	}
}

func TestDecreaseAtMinimumIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.sync.AddItem(ctx, h.userID, book("B1", 200)); err != nil {
		t.Fatalf("add: %v", err)
	}

	line, err := h.sync.DecreaseQuantity(ctx, h.userID, "B1")
	requireCode(t, err, pkgerrors.CodeMinimumQuantity)
	if line.Quantity != 1 {
		t.Fatalf("expected current line with quantity 1, got %+v", line)
	}
	if got := h.store.quantity(h.userID, "B1"); got != 1 {
		t.Fatalf("store must stay at 1, got %d", got)
	}
	if v, _ := h.view(t).Find("B1"); v.Quantity != 1 {
		t.Fatalf("view must stay at 1, got %d", v.Quantity)
	}
}

func TestIncreaseThenDecrease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.sync.AddItem(ctx, h.userID, book("B1", 50)); err != nil {
		t.Fatalf("add: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := h.sync.IncreaseQuantity(ctx, h.userID, "B1"); err != nil {
			t.Fatalf("increase: %v", err)
		}
	}
	line, err := h.sync.DecreaseQuantity(ctx, h.userID, "B1")
	if err != nil {
		t.Fatalf("decrease: %v", err)
	}
	if line.Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", line.Quantity)
	}
	if !h.view(t).Total().Equal(decimal.NewFromInt(150)) {
		t.Fatalf("expected total 150, got %s", h.view(t).Total())
	}
}

func TestIncreaseUnknownItemIsNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.sync.AddItem(ctx, h.userID, book("B1", 10)); err != nil {
		t.Fatalf("add: %v", err)
	}
	before := h.view(t)

	_, err := h.sync.IncreaseQuantity(ctx, h.userID, "B2")
	requireCode(t, err, pkgerrors.CodeNotFound)
	_, err = h.sync.DecreaseQuantity(ctx, h.userID, "B2")
	requireCode(t, err, pkgerrors.CodeNotFound)

	after := h.view(t)
	if len(after.Lines) != len(before.Lines) || !sameLine(after.Lines[0], before.Lines[0]) {
		t.Fatalf("view changed: before=%+v after=%+v", before, after)
	}
}

func TestIncreaseUsesStoreNotView(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	// another device added the line; this view has never seen it
	h.store.seed(h.userID, "B5", 30, 4)

	line, err := h.sync.IncreaseQuantity(ctx, h.userID, "B5")
	if err != nil {
		t.Fatalf("increase: %v", err)
	}
	if line.Quantity != 5 {
		t.Fatalf("expected stored quantity + 1 = 5, got %d", line.Quantity)
	}
	if v, ok := h.view(t).Find("B5"); !ok || v.Quantity != 5 {
		t.Fatalf("expected view to pick up line, got %+v", v)
	}
}

func TestOperationsRequireIdentity(t *testing.T) {
	store := newMemStore()
	tracker := session.NewTracker()
	s := NewSynchronizer(store, tracker)
	s.Start(context.Background())
	defer s.Stop()
	ctx := context.Background()
	userID := uuid.New()

	_, err := s.AddItem(ctx, userID, book("B1", 10))
	requireCode(t, err, pkgerrors.CodeUnauthenticated)
	_, err = s.IncreaseQuantity(ctx, userID, "B1")
	requireCode(t, err, pkgerrors.CodeUnauthenticated)
	_, err = s.DecreaseQuantity(ctx, userID, "B1")
	requireCode(t, err, pkgerrors.CodeUnauthenticated)
	_, err = s.LoadCart(ctx, userID)
	requireCode(t, err, pkgerrors.CodeUnauthenticated)
	_, err = s.View(ctx)
	requireCode(t, err, pkgerrors.CodeUnauthenticated)

	if store.calls() != 0 {
		t.Fatalf("store must not be touched without identity, calls=%d", store.calls())
	}
}

func TestOperationsRejectOtherUser(t *testing.T) {
	h := newHarness(t)
	_, err := h.sync.AddItem(context.Background(), uuid.New(), book("B1", 10))
	requireCode(t, err, pkgerrors.CodeUnauthenticated)
	if h.store.calls() != 0 {
		t.Fatal("store must not be touched for a mismatched user")
	}
}

func TestSignOutDuringInFlightIncreaseDiscardsResult(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.sync.AddItem(ctx, h.userID, book("B1", 10)); err != nil {
		t.Fatalf("add: %v", err)
	}

	h.store.beforeSet = h.tracker.SignOut

	line, err := h.sync.IncreaseQuantity(ctx, h.userID, "B1")
	if err != nil {
		t.Fatalf("increase: %v", err)
	}
	if line.Quantity != 2 {
		t.Fatalf("caller should still see the stored result, got %d", line.Quantity)
	}

	_, err = h.sync.View(ctx)
	requireCode(t, err, pkgerrors.CodeUnauthenticated)

	other := uuid.New()
	h.tracker.SignIn(session.Identity{UserID: other})
	v, err := h.sync.View(ctx)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(v.Lines) != 0 {
		t.Fatalf("new identity must start with an empty view, got %+v", v.Lines)
	}

	h.tracker.SignIn(session.Identity{UserID: h.userID})
	v, err = h.sync.View(ctx)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if got, _ := v.Find("B1"); got.Quantity != 2 {
		t.Fatalf("reload after sign-in should reflect the store, got %+v", got)
	}
}

func TestStoreFailureLeavesViewUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.sync.AddItem(ctx, h.userID, book("B1", 10)); err != nil {
		t.Fatalf("add: %v", err)
	}

	h.store.setErr = errors.New("connection reset by peer")
	_, err := h.sync.IncreaseQuantity(ctx, h.userID, "B1")
	requireCode(t, err, pkgerrors.CodeStoreUnavailable)
	if !pkgerrors.IsRetryable(err) {
		t.Fatal("store failures should be retryable")
	}
	_, err = h.sync.AddItem(ctx, h.userID, book("B1", 10))
	requireCode(t, err, pkgerrors.CodeStoreUnavailable)

	if v, _ := h.view(t).Find("B1"); v.Quantity != 1 {
		t.Fatalf("view must be unchanged after failure, got %d", v.Quantity)
	}

	h.store.setErr = nil
	line, err := h.sync.IncreaseQuantity(ctx, h.userID, "B1")
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if line.Quantity != 2 {
		t.Fatalf("expected quantity 2 after retry, got %d", line.Quantity)
	}
}

func TestCreateFailureDoesNotAppendToView(t *testing.T) {
	h := newHarness(t)
	h.store.createErr = errors.New("timeout")
	_, err := h.sync.AddItem(context.Background(), h.userID, book("B1", 10))
	requireCode(t, err, pkgerrors.CodeStoreUnavailable)
	if len(h.view(t).Lines) != 0 {
		t.Fatal("failed create must not append to view")
	}
}

func TestLostCreateRaceFallsBackToIncrement(t *testing.T) {
	h := newHarness(t)
	h.store.seed(h.userID, "B1", 200, 1)
	h.store.findMisses = 1

	line, err := h.sync.AddItem(context.Background(), h.userID, book("B1", 200))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if line.Quantity != 2 {
		t.Fatalf("expected fallback increment to quantity 2, got %d", line.Quantity)
	}
	if h.store.count() != 1 {
		t.Fatalf("expected no duplicate line, got %d", h.store.count())
	}
}

func TestLoadCartFailsSoft(t *testing.T) {
	h := newHarness(t)
	h.store.listErr = errors.New("unavailable")

	view, err := h.sync.LoadCart(context.Background(), h.userID)
	requireCode(t, err, pkgerrors.CodeStoreUnavailable)
	if view.Lines == nil || len(view.Lines) != 0 {
		t.Fatalf("expected empty view, got %+v", view)
	}
}

func TestLoadCartReproducesStoreState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"B1", "B2", "B3"} {
		if _, err := h.sync.AddItem(ctx, h.userID, book(id, 10)); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	if _, err := h.sync.IncreaseQuantity(ctx, h.userID, "B2"); err != nil {
		t.Fatalf("increase: %v", err)
	}
	if _, err := h.sync.IncreaseQuantity(ctx, h.userID, "B3"); err != nil {
		t.Fatalf("increase: %v", err)
	}
	if _, err := h.sync.DecreaseQuantity(ctx, h.userID, "B3"); err != nil {
		t.Fatalf("decrease: %v", err)
	}
	local := h.view(t)

	fresh := NewSynchronizer(h.store, h.tracker)
	fresh.Start(ctx)
	defer fresh.Stop()
	loaded, err := fresh.LoadCart(ctx, h.userID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(loaded.Lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(loaded.Lines))
	}
	for i, line := range loaded.Lines {
		if !sameLine(line, local.Lines[i]) {
			t.Fatalf("line %d differs: loaded=%+v local=%+v", i, line, local.Lines[i])
		}
	}
	if !loaded.Total().Equal(local.Total()) || !loaded.Total().Equal(decimal.NewFromInt(40)) {
		t.Fatalf("unexpected totals loaded=%s local=%s", loaded.Total(), local.Total())
	}
}

func TestReloadKeepsWritesConfirmedWhileReading(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.sync.AddItem(ctx, h.userID, book("B1", 200)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := h.sync.AddItem(ctx, h.userID, book("B2", 50)); err != nil {
		t.Fatalf("add: %v", err)
	}

	var increased Line
	h.store.afterList = func() {
		h.store.afterList = nil
		line, err := h.sync.IncreaseQuantity(ctx, h.userID, "B1")
		if err != nil {
			t.Errorf("increase: %v", err)
		}
		increased = line
	}

	loaded, err := h.sync.LoadCart(ctx, h.userID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if increased.Quantity != 2 || h.store.quantity(h.userID, "B1") != 2 {
		t.Fatalf("expected stored quantity 2, got line=%d store=%d", increased.Quantity, h.store.quantity(h.userID, "B1"))
	}

	v := h.view(t)
	if got, _ := v.Find("B1"); got.Quantity != 2 {
		t.Fatalf("view lost the confirmed increase: %+v", got)
	}
	if got, _ := loaded.Find("B1"); got.Quantity != 2 {
		t.Fatalf("load result lost the confirmed increase: %+v", got)
	}
	if len(v.Lines) != 2 || v.Lines[0].ItemID != "B1" {
		t.Fatalf("unexpected lines after reload: %+v", v.Lines)
	}
	if !v.Total().Equal(decimal.NewFromInt(450)) {
		t.Fatalf("expected total 450, got %s", v.Total())
	}
}

func TestViewIsACopy(t *testing.T) {
	h := newHarness(t)
	if _, err := h.sync.AddItem(context.Background(), h.userID, book("B1", 10)); err != nil {
		t.Fatalf("add: %v", err)
	}
	v := h.view(t)
	v.Lines[0].Quantity = 99
	if again := h.view(t); again.Lines[0].Quantity != 1 {
		t.Fatalf("view mutated through copy: %d", again.Lines[0].Quantity)
	}
}

func TestConcurrentOperationsOnOneKeyAllLand(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const adds, increases = 20, 15

	if _, err := h.sync.AddItem(ctx, h.userID, book("B1", 10)); err != nil {
		t.Fatalf("seed add: %v", err)
	}

	var g errgroup.Group
	for i := 0; i < adds; i++ {
		g.Go(func() error {
			_, err := h.sync.AddItem(ctx, h.userID, book("B1", 10))
			return err
		})
	}
	for i := 0; i < increases; i++ {
		g.Go(func() error {
			_, err := h.sync.IncreaseQuantity(ctx, h.userID, "B1")
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent operations: %v", err)
	}

	want := 1 + adds + increases
	if got := h.store.quantity(h.userID, "B1"); got != want {
		t.Fatalf("lost update: expected %d, got %d", want, got)
	}
	if line, _ := h.view(t).Find("B1"); line.Quantity != want {
		t.Fatalf("view out of sync: expected %d, got %d", want, line.Quantity)
	}
}

func TestConcurrentFirstAddsCreateOneLine(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const n = 10

	var g errgroup.Group
	for i := 0; i < n; i++ {
		for _, id := range []string{"A", "B", "C"} {
			g.Go(func() error {
				_, err := h.sync.AddItem(ctx, h.userID, book(id, 5))
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent adds: %v", err)
	}

	if h.store.count() != 3 {
		t.Fatalf("expected 3 lines, got %d", h.store.count())
	}
	view := h.view(t)
	if view.ItemCount() != 3*n {
		t.Fatalf("expected %d units, got %d", 3*n, view.ItemCount())
	}
	if !view.Total().Equal(decimal.NewFromInt(int64(3 * n * 5))) {
		t.Fatalf("unexpected total %s", view.Total())
	}
}

func TestTotalMatchesSumOfLines(t *testing.T) {
	view := View{Lines: []Line{
		{ItemID: "A", UnitPrice: decimal.RequireFromString("12.50"), Quantity: 3},
		{ItemID: "B", UnitPrice: decimal.RequireFromString("0.99"), Quantity: 10},
		{ItemID: "C", UnitPrice: decimal.Zero, Quantity: 4},
	}}
	want := decimal.RequireFromString("47.40")
	if !Total(view).Equal(want) || !view.Total().Equal(want) {
		t.Fatalf("expected %s, got %s", want, Total(view))
	}
	if !Total(View{}).IsZero() {
		t.Fatal("empty view should total zero")
	}
}

func TestOperationMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, WithMetrics(metrics.NewCartMetrics(reg)))
	ctx := context.Background()

	if _, err := h.sync.AddItem(ctx, h.userID, book("B1", 10)); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, _ = h.sync.DecreaseQuantity(ctx, h.userID, "B1")
	_, _ = h.sync.IncreaseQuantity(ctx, h.userID, "missing")

	// load (sign-in), add success, decrease minimum, increase not found
	n, err := testutil.GatherAndCount(reg, "cart_operations_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 series, got %d", n)
	}
}

func ExampleTotal() {
	view := View{Lines: []Line{
		{ItemID: "B1", UnitPrice: decimal.NewFromInt(200), Quantity: 2},
	}}
	fmt.Println(Total(view))
	// Output: 400
}
