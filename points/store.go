/*
store.go - Persistence contract for the points core

PURPOSE:
  The engines in this package never touch disk. They speak to a Store that
  presents each collection as a whole document: read it whole, write it whole.
  store/jsonfile provides the production implementation (JSON documents with
  rotating backups and self-healing reads).

GUARANTEES REQUIRED OF IMPLEMENTATIONS:
  - Collection-level atomicity: a reader observes pre- or post-state of a
    write, never a torn document.
  - Per-collection write serialization: writes to one collection apply in
    acquisition order; different collections may proceed in parallel.
  - Begin acquires the requested collection locks in the canonical order
    (students -> products -> orders -> points -> config) regardless of the
    order the caller lists them, so multi-collection transitions cannot
    deadlock.

SEE ALSO:
  - store/jsonfile: production implementation
  - ledger.go, reservation.go: the consumers of Tx
*/
package points

import "context"

// =============================================================================
// COLLECTIONS
// =============================================================================

// Collection names one of the five persistent documents.
type Collection string

const (
	ColStudents Collection = "students"
	ColProducts Collection = "products"
	ColOrders   Collection = "orders"
	ColPoints   Collection = "points"
	ColConfig   Collection = "config"
)

// LockRank is the canonical acquisition order. Begin sorts by this.
func (c Collection) LockRank() int {
	switch c {
	case ColStudents:
		return 0
	case ColProducts:
		return 1
	case ColOrders:
		return 2
	case ColPoints:
		return 3
	case ColConfig:
		return 4
	}
	return 5
}

// =============================================================================
// DOCUMENTS - Whole-collection shapes as persisted
// =============================================================================

type StudentsDoc struct {
	Students []Student `json:"students"`
}

type RecordsDoc struct {
	Records []PointRecord `json:"records"`
}

type ProductsDoc struct {
	Products []Product `json:"products"`
}

type OrdersDoc struct {
	Orders []Order `json:"orders"`
}

// FindStudent returns a pointer into the document, or nil.
func (d *StudentsDoc) FindStudent(id string) *Student {
	for i := range d.Students {
		if d.Students[i].ID == id {
			return &d.Students[i]
		}
	}
	return nil
}

// FindProduct returns a pointer into the document, or nil.
func (d *ProductsDoc) FindProduct(id string) *Product {
	for i := range d.Products {
		if d.Products[i].ID == id {
			return &d.Products[i]
		}
	}
	return nil
}

// FindOrder returns a pointer into the document, or nil.
func (d *OrdersDoc) FindOrder(id string) *Order {
	for i := range d.Orders {
		if d.Orders[i].ID == id {
			return &d.Orders[i]
		}
	}
	return nil
}

// PendingFor returns the pending order for the (student, product) pair, or nil.
func (d *OrdersDoc) PendingFor(studentID, productID string) *Order {
	for i := range d.Orders {
		o := &d.Orders[i]
		if o.Status == OrderPending && o.StudentID == studentID && o.ProductID == productID {
			return o
		}
	}
	return nil
}

// =============================================================================
// STORE CONTRACT
// =============================================================================

// Store is the sole gateway to persistent state.
//
// The read methods serve from a short-lived cache and are safe for concurrent
// use. Mutations go through Begin, which takes exclusive ownership of the
// named collections until End.
type Store interface {
	// Cached whole-document reads.
	Students(ctx context.Context) (*StudentsDoc, error)
	Records(ctx context.Context) (*RecordsDoc, error)
	Products(ctx context.Context) (*ProductsDoc, error)
	Orders(ctx context.Context) (*OrdersDoc, error)
	Config(ctx context.Context) (*SystemConfig, error)

	// Begin locks the named collections (canonical order) for exclusive
	// read-modify-write access. The returned Tx must be ended exactly once.
	Begin(ctx context.Context, cols ...Collection) (Tx, error)
}

// Tx is exclusive access to the collections named at Begin. Reads inside a Tx
// bypass the cache; writes snapshot a backup, persist, and invalidate the
// cache before returning. Accessing a collection not named at Begin is a
// programming error and panics.
type Tx interface {
	Students() (*StudentsDoc, error)
	SetStudents(*StudentsDoc) error

	Records() (*RecordsDoc, error)
	SetRecords(*RecordsDoc) error

	Products() (*ProductsDoc, error)
	SetProducts(*ProductsDoc) error

	Orders() (*OrdersDoc, error)
	SetOrders(*OrdersDoc) error

	Config() (*SystemConfig, error)
	SetConfig(*SystemConfig) error

	// End releases the collection locks. Idempotent.
	End()
}
