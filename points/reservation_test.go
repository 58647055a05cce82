package points_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/classpoints/events"
	"github.com/warp/classpoints/points"
)

func newTestEngine(t *testing.T, store points.Store) (*points.Reservations, *points.Ledger) {
	t.Helper()
	ledger := newTestLedger(t, store)
	return points.NewReservations(store, ledger, events.NopPublisher{}, nil), ledger
}

// =============================================================================
// RESERVE
// =============================================================================

func TestReserve_FreezesBalanceWithoutLedgerEntry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 200))
	seedProducts(t, store, product("p1", "Pencil", 50, 10))
	engine, _ := newTestEngine(t, store)

	order, err := engine.Reserve(ctx, "s1", "p1")
	require.NoError(t, err)
	assert.Equal(t, points.OrderPending, order.Status)
	assert.Equal(t, 50, order.Price)
	assert.False(t, order.ReservedAt.IsZero())

	students, err := store.Students(ctx)
	require.NoError(t, err)
	assert.Equal(t, 150, students.FindStudent("s1").Balance)

	// The freeze is not a ledger event.
	records, err := store.Records(ctx)
	require.NoError(t, err)
	assert.Empty(t, records.Records)

	// Stock does not move until confirm.
	products, err := store.Products(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, products.FindProduct("p1").Stock)
}

func TestReserve_InsufficientPoints(t *testing.T) {
	// GIVEN: balance 20, price 50
	// THEN: typed failure, balance untouched, no order created
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 20))
	seedProducts(t, store, product("p1", "Pencil", 50, 10))
	engine, _ := newTestEngine(t, store)

	_, err := engine.Reserve(ctx, "s1", "p1")
	assert.ErrorIs(t, err, points.ErrInsufficientPoints)

	students, _ := store.Students(ctx)
	assert.Equal(t, 20, students.FindStudent("s1").Balance)
	orders, _ := store.Orders(ctx)
	assert.Empty(t, orders.Orders)
}

func TestReserve_DuplicatePair(t *testing.T) {
	// GIVEN: balance 200, price 50, stock 10
	// WHEN: the same pair reserves twice
	// THEN: second fails, balance frozen once, one pending order
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 200))
	seedProducts(t, store, product("p1", "Pencil", 50, 10))
	engine, _ := newTestEngine(t, store)

	_, err := engine.Reserve(ctx, "s1", "p1")
	require.NoError(t, err)
	_, err = engine.Reserve(ctx, "s1", "p1")
	assert.ErrorIs(t, err, points.ErrDuplicateReservation)

	students, _ := store.Students(ctx)
	assert.Equal(t, 150, students.FindStudent("s1").Balance)
	orders, _ := store.Orders(ctx)
	assert.Len(t, orders.Orders, 1)
}

func TestReserve_GuardFailures(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 200))
	seedProducts(t, store,
		product("sold-out", "Eraser", 10, 0),
		points.Product{ID: "inactive", Name: "Old", Price: 10, Stock: 5, IsActive: false},
	)
	engine, _ := newTestEngine(t, store)

	_, err := engine.Reserve(ctx, "ghost", "sold-out")
	assert.ErrorIs(t, err, points.ErrStudentNotFound)

	_, err = engine.Reserve(ctx, "s1", "ghost")
	assert.ErrorIs(t, err, points.ErrProductNotFound)

	_, err = engine.Reserve(ctx, "s1", "inactive")
	assert.ErrorIs(t, err, points.ErrProductInactive)

	_, err = engine.Reserve(ctx, "s1", "sold-out")
	assert.ErrorIs(t, err, points.ErrOutOfStock)
}

// =============================================================================
// CONFIRM
// =============================================================================

func TestConfirm_SettlesOrder(t *testing.T) {
	// Continuing the reserve: stock drops by one, one purchase row appears,
	// the balance stays at its frozen level.
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 200))
	seedProducts(t, store, product("p1", "Pencil", 50, 10))
	engine, ledger := newTestEngine(t, store)

	order, err := engine.Reserve(ctx, "s1", "p1")
	require.NoError(t, err)

	confirmed, err := engine.Confirm(ctx, order.ID, "t-1")
	require.NoError(t, err)
	assert.Equal(t, points.OrderConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)

	products, _ := store.Products(ctx)
	assert.Equal(t, 9, products.FindProduct("p1").Stock)

	students, _ := store.Students(ctx)
	assert.Equal(t, 150, students.FindStudent("s1").Balance,
		"net balance equals pre-reserve minus price, no double deduction")

	records, _ := store.Records(ctx)
	require.Len(t, records.Records, 1)
	assert.Equal(t, points.KindPurchase, records.Records[0].Kind)
	assert.Equal(t, -50, records.Records[0].Points)
	assert.Equal(t, "purchase Pencil", records.Records[0].Reason)

	sum, err := ledger.BalanceOf(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, -50, sum)
}

func TestConfirm_TerminalAndMissing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 200))
	seedProducts(t, store, product("p1", "Pencil", 50, 10))
	engine, _ := newTestEngine(t, store)

	order, err := engine.Reserve(ctx, "s1", "p1")
	require.NoError(t, err)
	_, err = engine.Confirm(ctx, order.ID, "t-1")
	require.NoError(t, err)

	// Terminal states are permanent.
	_, err = engine.Confirm(ctx, order.ID, "t-1")
	assert.ErrorIs(t, err, points.ErrOrderNotPending)
	_, err = engine.Cancel(ctx, order.ID)
	assert.ErrorIs(t, err, points.ErrOrderNotPending)

	_, err = engine.Confirm(ctx, "ghost", "t-1")
	assert.ErrorIs(t, err, points.ErrOrderNotFound)
}

func TestConfirm_DeletedProductFails(t *testing.T) {
	// Soft-deleting a product leaves its pending orders queryable but not
	// settleable.
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 200))
	seedProducts(t, store, product("p1", "Pencil", 50, 10))
	engine, _ := newTestEngine(t, store)

	order, err := engine.Reserve(ctx, "s1", "p1")
	require.NoError(t, err)

	tx, err := store.Begin(ctx, points.ColProducts)
	require.NoError(t, err)
	doc, err := tx.Products()
	require.NoError(t, err)
	doc.FindProduct("p1").IsActive = false
	require.NoError(t, tx.SetProducts(doc))
	tx.End()

	_, err = engine.Confirm(ctx, order.ID, "t-1")
	assert.ErrorIs(t, err, points.ErrProductNotFound)

	// The order is still there, still pending, still cancellable.
	orders, _ := store.Orders(ctx)
	require.Equal(t, points.OrderPending, orders.FindOrder(order.ID).Status)
	_, err = engine.Cancel(ctx, order.ID)
	assert.NoError(t, err)
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancel_RestoresFreeze(t *testing.T) {
	// reserve + cancel returns the balance to its pre-reserve value; the
	// ledger and stock are untouched.
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 200))
	seedProducts(t, store, product("p1", "Pencil", 50, 10))
	engine, _ := newTestEngine(t, store)

	order, err := engine.Reserve(ctx, "s1", "p1")
	require.NoError(t, err)

	cancelled, err := engine.Cancel(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, points.OrderCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	students, _ := store.Students(ctx)
	assert.Equal(t, 200, students.FindStudent("s1").Balance)
	records, _ := store.Records(ctx)
	assert.Empty(t, records.Records)
	products, _ := store.Products(ctx)
	assert.Equal(t, 10, products.FindProduct("p1").Stock)

	// The pair is free again.
	_, err = engine.Reserve(ctx, "s1", "p1")
	assert.NoError(t, err)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestReserve_ConcurrentStockRace(t *testing.T) {
	// GIVEN: stock 2 and three students with sufficient points
	// WHEN: all three reserve simultaneously
	// THEN: exactly two succeed; after confirming both, stock is 0
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 100), student("s2", 100), student("s3", 100))
	seedProducts(t, store, product("p1", "Pencil", 50, 2))
	engine, _ := newTestEngine(t, store)

	// Stock gates reservations: pending orders may not exceed stock, so the
	// race is decided at reserve time even though stock moves at confirm.
	var wg sync.WaitGroup
	results := make([]error, 3)
	for i, id := range []string{"s1", "s2", "s3"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, results[i] = engine.Reserve(ctx, id, "p1")
		}(i, id)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, points.ErrOutOfStock)
		}
	}
	assert.Equal(t, 2, succeeded)

	orders, _ := store.Orders(ctx)
	for _, o := range orders.Orders {
		_, err := engine.Confirm(ctx, o.ID, "t-1")
		require.NoError(t, err)
	}
	products, _ := store.Products(ctx)
	assert.Equal(t, 0, products.FindProduct("p1").Stock)
}

func TestInvariant_BalanceConservation(t *testing.T) {
	// live balances + frozen amounts + purchase debits == ledger credits,
	// checked after a mixed history of transitions.
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 0), student("s2", 0))
	seedProducts(t, store, product("p1", "Pencil", 30, 5), product("p2", "Notebook", 60, 5))
	engine, ledger := newTestEngine(t, store)

	for _, id := range []string{"s1", "s2"} {
		_, err := ledger.Append(ctx, points.AppendInput{
			StudentID: id, Points: 100, Reason: "seed", Kind: points.KindAdd, OperatorID: "t-1",
		})
		require.NoError(t, err)
	}

	o1, err := engine.Reserve(ctx, "s1", "p1")
	require.NoError(t, err)
	o2, err := engine.Reserve(ctx, "s1", "p2")
	require.NoError(t, err)
	_, err = engine.Reserve(ctx, "s2", "p1") // stays pending
	require.NoError(t, err)

	_, err = engine.Confirm(ctx, o1.ID, "t-1")
	require.NoError(t, err)
	_, err = engine.Cancel(ctx, o2.ID)
	require.NoError(t, err)

	students, _ := store.Students(ctx)
	orders, _ := store.Orders(ctx)
	records, _ := store.Records(ctx)

	liveBalances, frozen, purchaseDebits, credits := 0, 0, 0, 0
	for _, s := range students.Students {
		liveBalances += s.Balance
	}
	for _, o := range orders.Orders {
		if o.Status == points.OrderPending {
			frozen += o.Price
		}
	}
	for _, r := range records.Records {
		if r.Kind == points.KindPurchase {
			purchaseDebits += -r.Points
		}
		if r.Points > 0 {
			credits += r.Points
		}
	}
	assert.Equal(t, credits, liveBalances+frozen+purchaseDebits)
}
