/*
reservation.go - Order state machine trading points for stock

PURPOSE:
  Mediates the student-points / product-stock transaction:

        reserve
    ------------->  pending
                    |  confirm        |  cancel
                    v                 v
                confirmed         cancelled   (both terminal)

FREEZE ACCOUNTING:
  reserve deducts the price from the live balance without a ledger entry
  (the freeze). confirm re-accounts the frozen amount as a permanent ledger
  debit of kind purchase; the projection skips that kind, so the balance is
  not deducted twice. cancel restores the freeze and writes nothing to the
  ledger.

INVARIANTS HELD ACROSS ANY INTERLEAVING:
  - stock >= 0, decremented at most once per confirmed order
  - live balances + frozen amounts + purchase debits == ledger credits
  - at most one pending order per (student, product) pair

CONCURRENCY:
  Every transition runs inside one store transaction holding the collection
  locks in canonical order, so two racing reserves for the last unit of stock
  serialize and the loser sees the post-state.
*/
package points

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/classpoints/events"
)

// Reservations drives the order state machine.
type Reservations struct {
	Store  Store
	Ledger *Ledger
	Bus    events.Publisher
	Log    *logrus.Entry

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewReservations wires the engine over the given collaborators.
func NewReservations(store Store, ledger *Ledger, bus events.Publisher, log *logrus.Entry) *Reservations {
	if bus == nil {
		bus = events.NopPublisher{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reservations{Store: store, Ledger: ledger, Bus: bus, Log: log, Now: time.Now}
}

// =============================================================================
// RESERVE
// =============================================================================

// Reserve freezes the product price against the student's balance and creates
// a pending order. No stock moves yet.
func (r *Reservations) Reserve(ctx context.Context, studentID, productID string) (*Order, error) {
	if studentID == "" {
		return nil, &ValidationError{Field: "studentId", Message: "required"}
	}
	if productID == "" {
		return nil, &ValidationError{Field: "productId", Message: "required"}
	}

	tx, err := r.Store.Begin(ctx, ColStudents, ColProducts, ColOrders)
	if err != nil {
		return nil, err
	}
	defer tx.End()

	students, err := tx.Students()
	if err != nil {
		return nil, err
	}
	student := students.FindStudent(studentID)
	if student == nil {
		return nil, ErrStudentNotFound
	}

	products, err := tx.Products()
	if err != nil {
		return nil, err
	}
	product := products.FindProduct(productID)
	if product == nil {
		return nil, ErrProductNotFound
	}
	if !product.IsActive {
		return nil, ErrProductInactive
	}

	orders, err := tx.Orders()
	if err != nil {
		return nil, err
	}

	// The duplicate check comes first: the pair's own frozen points would
	// otherwise fail the balance check and mask the real cause.
	if existing := orders.PendingFor(studentID, productID); existing != nil {
		return nil, &DuplicateReservationError{StudentID: studentID, ProductID: productID, OrderID: existing.ID}
	}

	// Pending reservations hold stock: a unit promised to a pending order
	// cannot be promised again, even though it only leaves Stock at confirm.
	pendingHeld := 0
	for i := range orders.Orders {
		o := &orders.Orders[i]
		if o.Status == OrderPending && o.ProductID == productID {
			pendingHeld++
		}
	}
	if product.Stock-pendingHeld <= 0 {
		return nil, ErrOutOfStock
	}
	if student.Balance < product.Price {
		return nil, &InsufficientPointsError{StudentID: studentID, Balance: student.Balance, Price: product.Price}
	}

	// Freeze: the deduction lands before the order is persisted, so a crash
	// between the two writes cannot hand out unpaid stock.
	student.Balance -= product.Price
	if err := tx.SetStudents(students); err != nil {
		return nil, err
	}

	order := Order{
		ID:         NewOrderID(),
		StudentID:  studentID,
		ProductID:  productID,
		Status:     OrderPending,
		Price:      product.Price,
		ReservedAt: r.Now(),
	}
	orders.Orders = append(orders.Orders, order)
	if err := tx.SetOrders(orders); err != nil {
		return nil, err
	}

	// Locks released before fan-out; a slow subscriber must never stall
	// other writers.
	tx.End()

	r.publishOrder(events.ActionCreated, &order)
	r.Bus.Publish(events.New(events.TypeRankingsUpdated, nil))

	return &order, nil
}

// =============================================================================
// CONFIRM
// =============================================================================

// Confirm settles a pending order: decrements stock by one and writes the
// purchase ledger row re-accounting the frozen amount. The net balance after
// confirm equals (pre-reserve balance - price).
func (r *Reservations) Confirm(ctx context.Context, orderID, operatorID string) (*Order, error) {
	tx, err := r.Store.Begin(ctx, ColStudents, ColProducts, ColOrders, ColPoints)
	if err != nil {
		return nil, err
	}
	defer tx.End()

	orders, err := tx.Orders()
	if err != nil {
		return nil, err
	}
	order := orders.FindOrder(orderID)
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.Status != OrderPending {
		return nil, ErrOrderNotPending
	}

	products, err := tx.Products()
	if err != nil {
		return nil, err
	}
	product := products.FindProduct(order.ProductID)
	if product == nil || !product.IsActive {
		// Soft-deleted products cannot settle; the order stays pending and
		// can still be cancelled.
		return nil, ErrProductNotFound
	}
	if product.Stock <= 0 {
		return nil, ErrOutOfStock
	}

	product.Stock--
	if err := tx.SetProducts(products); err != nil {
		return nil, err
	}

	if _, err := r.Ledger.AppendInTx(tx, AppendInput{
		StudentID:  order.StudentID,
		Points:     -order.Price,
		Reason:     "purchase " + product.Name,
		Kind:       KindPurchase,
		OperatorID: operatorID,
	}); err != nil {
		return nil, err
	}

	now := r.Now()
	order.Status = OrderConfirmed
	order.ConfirmedAt = &now
	if err := tx.SetOrders(orders); err != nil {
		return nil, err
	}
	tx.End()

	r.publishOrder(events.ActionConfirmed, order)
	r.Bus.Publish(events.New(events.TypeProductUpdated, events.EntityPayload{
		Action: events.ActionUpdated,
		ID:     product.ID,
		Entity: *product,
	}))
	r.Bus.Publish(events.New(events.TypeRankingsUpdated, nil))

	return order, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel releases a pending order, restoring the frozen amount to the live
// balance. Nothing is written to the ledger.
func (r *Reservations) Cancel(ctx context.Context, orderID string) (*Order, error) {
	tx, err := r.Store.Begin(ctx, ColStudents, ColOrders)
	if err != nil {
		return nil, err
	}
	defer tx.End()

	orders, err := tx.Orders()
	if err != nil {
		return nil, err
	}
	order := orders.FindOrder(orderID)
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.Status != OrderPending {
		return nil, ErrOrderNotPending
	}

	students, err := tx.Students()
	if err != nil {
		return nil, err
	}
	if student := students.FindStudent(order.StudentID); student != nil {
		student.Balance += order.Price
		if err := tx.SetStudents(students); err != nil {
			return nil, err
		}
	} else {
		// Hard-deleted student: the freeze has nowhere to go back to.
		r.Log.WithField("orderId", order.ID).Warn("cancelling order of deleted student")
	}

	now := r.Now()
	order.Status = OrderCancelled
	order.CancelledAt = &now
	if err := tx.SetOrders(orders); err != nil {
		return nil, err
	}
	tx.End()

	r.publishOrder(events.ActionCancelled, order)
	r.Bus.Publish(events.New(events.TypeRankingsUpdated, nil))

	return order, nil
}

func (r *Reservations) publishOrder(action events.Action, o *Order) {
	r.Bus.Publish(events.New(events.TypeOrderUpdated, events.OrderPayload{
		Action:    action,
		OrderID:   o.ID,
		StudentID: o.StudentID,
		ProductID: o.ProductID,
		Status:    string(o.Status),
	}))
}
