package cart

import (
	"context"
	"sync"
	"time"

	"github.com/angelmondragon/bookshop-backend/pkg/db/models"
	"github.com/google/uuid"
)

// memStore is an in-memory Store with failure injection. Each call is atomic
// on its own, like a single-row database statement.
type memStore struct {
	mu    sync.Mutex
	lines map[string]*models.CartLine
	clock time.Time

	findErr   error
	createErr error
	setErr    error
	listErr   error

	// findMisses makes the next N FindLine calls report absent.
	findMisses int
	// beforeSet runs before SetQuantity applies, outside the store lock.
	beforeSet func()
	// afterList runs once the rows have been read, outside the store lock.
	afterList func()

	finds   int
	creates int
	sets    int
}

func newMemStore() *memStore {
	return &memStore{
		lines: make(map[string]*models.CartLine),
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finds + m.creates + m.sets
}

func (m *memStore) seed(userID uuid.UUID, itemID string, price int64, qty int) *models.CartLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	line := m.newLineLocked(CartLineInput{UserID: userID, ItemID: itemID, Title: "Seeded " + itemID, UnitPrice: decimalFromInt(price), Quantity: qty})
	return copyLine(line)
}

func (m *memStore) newLineLocked(input CartLineInput) *models.CartLine {
	m.clock = m.clock.Add(time.Second)
	line := &models.CartLine{
		ID:           uuid.New(),
		UserID:       input.UserID,
		ItemID:       input.ItemID,
		Title:        input.Title,
		ThumbnailURL: input.ThumbnailURL,
		UnitPrice:    input.UnitPrice,
		Quantity:     input.Quantity,
		CreatedAt:    m.clock,
		UpdatedAt:    m.clock,
	}
	m.lines[lineKey(input.UserID, input.ItemID)] = line
	return line
}

func (m *memStore) FindLine(ctx context.Context, userID uuid.UUID, itemID string) (*models.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.findMisses > 0 {
		m.findMisses--
		return nil, nil
	}
	line, ok := m.lines[lineKey(userID, itemID)]
	if !ok {
		return nil, nil
	}
	return copyLine(line), nil
}

func (m *memStore) CreateLine(ctx context.Context, input CartLineInput) (*models.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createErr != nil {
		return nil, m.createErr
	}
	if _, exists := m.lines[lineKey(input.UserID, input.ItemID)]; exists {
		return nil, ErrDuplicateLine
	}
	return copyLine(m.newLineLocked(input)), nil
}

func (m *memStore) SetQuantity(ctx context.Context, lineID uuid.UUID, quantity int) (*models.CartLine, error) {
	m.mu.Lock()
	hook := m.beforeSet
	m.beforeSet = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.setErr != nil {
		return nil, m.setErr
	}
	for _, line := range m.lines {
		if line.ID == lineID {
			line.Quantity = quantity
			line.UpdatedAt = m.clock
			return copyLine(line), nil
		}
	}
	return nil, ErrLineNotFound
}

func (m *memStore) ListLines(ctx context.Context, userID uuid.UUID) ([]models.CartLine, error) {
	m.mu.Lock()
	if m.listErr != nil {
		m.mu.Unlock()
		return nil, m.listErr
	}
	var out []models.CartLine
	for _, line := range m.lines {
		if line.UserID == userID {
			out = append(out, *copyLine(line))
		}
	}
	hook := m.afterList
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (m *memStore) quantity(userID uuid.UUID, itemID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if line, ok := m.lines[lineKey(userID, itemID)]; ok {
		return line.Quantity
	}
	return 0
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines)
}

func copyLine(line *models.CartLine) *models.CartLine {
	c := *line
	return &c
}
