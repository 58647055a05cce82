package points_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/classpoints/events"
	"github.com/warp/classpoints/points"
	"github.com/warp/classpoints/store/jsonfile"
)

// =============================================================================
// TEST HELPERS (shared across the points package tests)
// =============================================================================

func newTestStore(t *testing.T) *jsonfile.Store {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	store, err := jsonfile.New(t.TempDir(), logrus.NewEntry(log))
	require.NoError(t, err)
	return store
}

func seedStudents(t *testing.T, store points.Store, students ...points.Student) {
	t.Helper()
	tx, err := store.Begin(context.Background(), points.ColStudents)
	require.NoError(t, err)
	defer tx.End()
	doc, err := tx.Students()
	require.NoError(t, err)
	doc.Students = append(doc.Students, students...)
	require.NoError(t, tx.SetStudents(doc))
}

func seedProducts(t *testing.T, store points.Store, products ...points.Product) {
	t.Helper()
	tx, err := store.Begin(context.Background(), points.ColProducts)
	require.NoError(t, err)
	defer tx.End()
	doc, err := tx.Products()
	require.NoError(t, err)
	doc.Products = append(doc.Products, products...)
	require.NoError(t, tx.SetProducts(doc))
}

func student(id string, balance int) points.Student {
	return points.Student{ID: id, Name: "Student " + id, Class: "3A", Balance: balance, CreatedAt: time.Now()}
}

func product(id, name string, price, stock int) points.Product {
	return points.Product{ID: id, Name: name, Price: price, Stock: stock, IsActive: true, CreatedAt: time.Now()}
}

func newTestLedger(t *testing.T, store points.Store) *points.Ledger {
	t.Helper()
	return points.NewLedger(store, events.NopPublisher{}, nil)
}

// =============================================================================
// APPEND
// =============================================================================

func TestAppend_UpdatesBalanceProjection(t *testing.T) {
	// GIVEN: a student with balance 0
	// WHEN: 10 points are awarded
	// THEN: the record is committed and the projected balance is 10
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("2024001", 0))
	ledger := newTestLedger(t, store)

	rec, err := ledger.Append(ctx, points.AppendInput{
		StudentID: "2024001", Points: 10, Reason: "excellent", Kind: points.KindAdd, OperatorID: "t-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 10, rec.Points)

	students, err := store.Students(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, students.FindStudent("2024001").Balance)

	sum, err := ledger.BalanceOf(ctx, "2024001")
	require.NoError(t, err)
	assert.Equal(t, 10, sum)
}

func TestAppend_SubtractLowersBalance(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 30))
	ledger := newTestLedger(t, store)

	_, err := ledger.Append(ctx, points.AppendInput{
		StudentID: "s1", Points: -5, Reason: "late", Kind: points.KindSubtract, OperatorID: "t-1",
	})
	require.NoError(t, err)

	students, err := store.Students(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, students.FindStudent("s1").Balance)
}

func TestAppend_PurchaseDoesNotMoveBalance(t *testing.T) {
	// The reservation engine moves the balance at freeze time; the purchase
	// row is documentary and must not deduct a second time.
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 50))
	ledger := newTestLedger(t, store)

	_, err := ledger.Append(ctx, points.AppendInput{
		StudentID: "s1", Points: -20, Reason: "purchase pencil", Kind: points.KindPurchase, OperatorID: "t-1",
	})
	require.NoError(t, err)

	students, err := store.Students(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, students.FindStudent("s1").Balance, "projection must skip purchase kind")

	sum, err := ledger.BalanceOf(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, -20, sum, "ledger sum still includes the purchase row")
}

func TestAppend_Validation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 0))
	ledger := newTestLedger(t, store)

	cases := []struct {
		name string
		in   points.AppendInput
		want error
	}{
		{"zero points", points.AppendInput{StudentID: "s1", Points: 0, Reason: "x", Kind: points.KindAdd}, points.ErrValidation},
		{"empty reason", points.AppendInput{StudentID: "s1", Points: 5, Reason: "", Kind: points.KindAdd}, points.ErrValidation},
		{"unknown kind", points.AppendInput{StudentID: "s1", Points: 5, Reason: "x", Kind: "bonus"}, points.ErrValidation},
		{"sign mismatch add", points.AppendInput{StudentID: "s1", Points: -5, Reason: "x", Kind: points.KindAdd}, points.ErrValidation},
		{"sign mismatch subtract", points.AppendInput{StudentID: "s1", Points: 5, Reason: "x", Kind: points.KindSubtract}, points.ErrValidation},
		{"missing student", points.AppendInput{StudentID: "ghost", Points: 5, Reason: "x", Kind: points.KindAdd}, points.ErrStudentNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ledger.Append(ctx, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	// Nothing was committed.
	records, err := store.Records(ctx)
	require.NoError(t, err)
	assert.Empty(t, records.Records)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestHistoryOf_NewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 0), student("s2", 0))
	ledger := newTestLedger(t, store)

	base := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.Local)
	for i := 0; i < 5; i++ {
		i := i
		ledger.Now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		_, err := ledger.Append(ctx, points.AppendInput{
			StudentID: "s1", Points: i + 1, Reason: "r", Kind: points.KindAdd, OperatorID: "t-1",
		})
		require.NoError(t, err)
	}
	// Noise from another student.
	_, err := ledger.Append(ctx, points.AppendInput{
		StudentID: "s2", Points: 99, Reason: "r", Kind: points.KindAdd, OperatorID: "t-1",
	})
	require.NoError(t, err)

	history, err := ledger.HistoryOf(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 5, history[0].Points)
	assert.Equal(t, 4, history[1].Points)
	assert.Equal(t, 3, history[2].Points)
}

func TestRecordsBetween_FiltersWindowAndStudent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 0), student("s2", 0))
	ledger := newTestLedger(t, store)

	day := func(d int) time.Time {
		return time.Date(2026, time.March, d, 12, 0, 0, 0, time.Local)
	}
	for d := 1; d <= 5; d++ {
		d := d
		ledger.Now = func() time.Time { return day(d) }
		for _, id := range []string{"s1", "s2"} {
			_, err := ledger.Append(ctx, points.AppendInput{
				StudentID: id, Points: d, Reason: "r", Kind: points.KindAdd, OperatorID: "t-1",
			})
			require.NoError(t, err)
		}
	}

	got, err := ledger.RecordsBetween(ctx, day(2), day(4), "s1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 2, got[0].Points)
	assert.Equal(t, 4, got[2].Points)

	_, err = ledger.RecordsBetween(ctx, day(4), day(2), "")
	assert.ErrorIs(t, err, points.ErrValidation)
}

// =============================================================================
// BATCH
// =============================================================================

func TestAppendBatch_PartialSuccess(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 0), student("s2", 0))
	ledger := newTestLedger(t, store)

	result, err := ledger.AppendBatch(ctx, []points.AppendInput{
		{StudentID: "s1", Points: 5, Reason: "r", Kind: points.KindAdd, OperatorID: "t-1"},
		{StudentID: "ghost", Points: 5, Reason: "r", Kind: points.KindAdd, OperatorID: "t-1"},
		{StudentID: "s2", Points: 0, Reason: "r", Kind: points.KindAdd, OperatorID: "t-1"},
		{StudentID: "s2", Points: 7, Reason: "r", Kind: points.KindAdd, OperatorID: "t-1"},
	})
	require.NoError(t, err)
	assert.Len(t, result.Succeeded, 2)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, "STUDENT_NOT_FOUND", result.Failed[0].Code)
	assert.Equal(t, "VALIDATION_ERROR", result.Failed[1].Code)

	students, err := store.Students(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, students.FindStudent("s1").Balance)
	assert.Equal(t, 7, students.FindStudent("s2").Balance)
}

// =============================================================================
// RESET AND RECONCILE
// =============================================================================

func TestResetAll_DrivesBalancesToZero(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 0), student("s2", 0), student("s3", 0))
	ledger := newTestLedger(t, store)

	for _, in := range []points.AppendInput{
		{StudentID: "s1", Points: 40, Reason: "r", Kind: points.KindAdd, OperatorID: "t-1"},
		{StudentID: "s2", Points: 15, Reason: "r", Kind: points.KindAdd, OperatorID: "t-1"},
		{StudentID: "s2", Points: -20, Reason: "r", Kind: points.KindSubtract, OperatorID: "t-1"},
	} {
		_, err := ledger.Append(ctx, in)
		require.NoError(t, err)
	}

	created, err := ledger.ResetAll(ctx, "t-1", "semester end")
	require.NoError(t, err)
	// s3 had balance 0 and needs no compensation; s2 is negative and is
	// compensated upward.
	assert.Len(t, created, 2)

	students, err := store.Students(ctx)
	require.NoError(t, err)
	for _, s := range students.Students {
		assert.Zero(t, s.Balance, "student %s", s.ID)
	}
	for _, id := range []string{"s1", "s2", "s3"} {
		sum, err := ledger.BalanceOf(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, sum, "ledger sum for %s", id)
	}

	// History stayed intact: 3 originals + 2 compensations.
	records, err := store.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records.Records, 5)
}

func TestReconcile_CorrectsDrift(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 0))
	ledger := newTestLedger(t, store)

	_, err := ledger.Append(ctx, points.AppendInput{
		StudentID: "s1", Points: 25, Reason: "r", Kind: points.KindAdd, OperatorID: "t-1",
	})
	require.NoError(t, err)

	// Corrupt the projection directly.
	tx, err := store.Begin(ctx, points.ColStudents)
	require.NoError(t, err)
	doc, err := tx.Students()
	require.NoError(t, err)
	doc.FindStudent("s1").Balance = 999
	require.NoError(t, tx.SetStudents(doc))
	tx.End()

	drifts, err := ledger.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, 999, drifts[0].OldBalance)
	assert.Equal(t, 25, drifts[0].NewBalance)

	// Idempotent: a second run finds nothing.
	drifts, err = ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

// =============================================================================
// EVENT FAN-OUT
// =============================================================================

// reacquiringPublisher re-opens every collection on each publish. It fails
// the test if fan-out still holds the transaction locks, since a blocked
// subscriber would then stall every other writer.
type reacquiringPublisher struct {
	t     *testing.T
	store points.Store
}

func (p *reacquiringPublisher) Publish(events.Event) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		tx, err := p.store.Begin(context.Background(),
			points.ColStudents, points.ColProducts, points.ColOrders, points.ColPoints)
		if err == nil {
			tx.End()
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		p.t.Error("collection locks still held during event fan-out")
	}
}

func TestPublish_RunsAfterLocksReleased(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 0))
	seedProducts(t, store, product("p1", "Pencil", 10, 5))
	pub := &reacquiringPublisher{t: t, store: store}
	ledger := points.NewLedger(store, pub, nil)
	engine := points.NewReservations(store, ledger, pub, nil)

	_, err := ledger.Append(ctx, points.AppendInput{
		StudentID: "s1", Points: 100, Reason: "r", Kind: points.KindAdd, OperatorID: "t-1",
	})
	require.NoError(t, err)

	order, err := engine.Reserve(ctx, "s1", "p1")
	require.NoError(t, err)
	_, err = engine.Confirm(ctx, order.ID, "t-1")
	require.NoError(t, err)

	order, err = engine.Reserve(ctx, "s1", "p1")
	require.NoError(t, err)
	_, err = engine.Cancel(ctx, order.ID)
	require.NoError(t, err)

	_, err = ledger.ResetAll(ctx, "t-1", "term end")
	require.NoError(t, err)
}

func TestReconcile_AccountsForFrozenAmounts(t *testing.T) {
	// GIVEN: a student with a pending order (frozen amount 30)
	// WHEN: reconciling
	// THEN: the projection target is ledger sum minus the freeze
	ctx := context.Background()
	store := newTestStore(t)
	seedStudents(t, store, student("s1", 0))
	seedProducts(t, store, product("p1", "Pencil", 30, 5))
	ledger := newTestLedger(t, store)

	_, err := ledger.Append(ctx, points.AppendInput{
		StudentID: "s1", Points: 100, Reason: "r", Kind: points.KindAdd, OperatorID: "t-1",
	})
	require.NoError(t, err)

	engine := points.NewReservations(store, ledger, events.NopPublisher{}, nil)
	_, err = engine.Reserve(ctx, "s1", "p1")
	require.NoError(t, err)

	drifts, err := ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts, "freeze-adjusted projection is already correct")

	students, err := store.Students(ctx)
	require.NoError(t, err)
	assert.Equal(t, 70, students.FindStudent("s1").Balance)
}
