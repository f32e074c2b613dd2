package cart

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/bookshop-backend/pkg/db/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newSQLiteRepo(t *testing.T) *Repository {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&models.CartLine{}))
	return NewRepository(conn)
}

func lineInput(userID uuid.UUID, itemID string) CartLineInput {
	return CartLineInput{
		UserID:       userID,
		ItemID:       itemID,
		Title:        "Title " + itemID,
		ThumbnailURL: "http://img/" + itemID,
		UnitPrice:    decimal.RequireFromString("19.99"),
		Quantity:     1,
	}
}

func TestRepositoryCreateAndFind(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	userID := uuid.New()

	missing, err := repo.FindLine(ctx, userID, "B1")
	require.NoError(t, err)
	require.Nil(t, missing)

	created, err := repo.CreateLine(ctx, lineInput(userID, "B1"))
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)

	found, err := repo.FindLine(ctx, userID, "B1")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, created.ID, found.ID)
	require.Equal(t, "Title B1", found.Title)
	require.True(t, found.UnitPrice.Equal(decimal.RequireFromString("19.99")))
	require.Equal(t, 1, found.Quantity)

	other, err := repo.FindLine(ctx, uuid.New(), "B1")
	require.NoError(t, err)
	require.Nil(t, other)
}

func TestRepositoryCreateDuplicate(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := repo.CreateLine(ctx, lineInput(userID, "B1"))
	require.NoError(t, err)

	_, err = repo.CreateLine(ctx, lineInput(userID, "B1"))
	require.True(t, errors.Is(err, ErrDuplicateLine), "got %v", err)

	_, err = repo.CreateLine(ctx, lineInput(uuid.New(), "B1"))
	require.NoError(t, err)
}

func TestRepositorySetQuantity(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	created, err := repo.CreateLine(ctx, lineInput(uuid.New(), "B1"))
	require.NoError(t, err)

	updated, err := repo.SetQuantity(ctx, created.ID, 4)
	require.NoError(t, err)
	require.Equal(t, 4, updated.Quantity)
	require.Equal(t, created.ID, updated.ID)

	_, err = repo.SetQuantity(ctx, created.ID, 0)
	require.Error(t, err)

	_, err = repo.SetQuantity(ctx, uuid.New(), 2)
	require.ErrorIs(t, err, ErrLineNotFound)
}

func TestRepositoryListLines(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	userID := uuid.New()

	for _, id := range []string{"B1", "B2", "B3"} {
		_, err := repo.CreateLine(ctx, lineInput(userID, id))
		require.NoError(t, err)
	}
	_, err := repo.CreateLine(ctx, lineInput(uuid.New(), "B4"))
	require.NoError(t, err)

	lines, err := repo.ListLines(ctx, userID)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	var ids []string
	for _, line := range lines {
		ids = append(ids, line.ItemID)
	}
	require.ElementsMatch(t, []string{"B1", "B2", "B3"}, ids)

	empty, err := repo.ListLines(ctx, uuid.New())
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestSynchronizerOverRepository(t *testing.T) {
	repo := newSQLiteRepo(t)
	h := newHarness(t)
	s := NewSynchronizer(repo, h.tracker)
	s.Start(context.Background())
	defer s.Stop()
	ctx := context.Background()

	_, err := s.AddItem(ctx, h.userID, book("B1", 200))
	require.NoError(t, err)
	line, err := s.AddItem(ctx, h.userID, book("B1", 200))
	require.NoError(t, err)
	require.Equal(t, 2, line.Quantity)

	view, err := s.View(ctx)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	require.True(t, view.Total().Equal(decimal.NewFromInt(400)))

	_, err = s.DecreaseQuantity(ctx, h.userID, "B1")
	require.NoError(t, err)
	_, err = s.DecreaseQuantity(ctx, h.userID, "B1")
	require.Error(t, err)

	loaded, err := s.LoadCart(ctx, h.userID)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Lines[0].Quantity)
}
