/*
Package points is the core of the classroom points service.

PURPOSE:
  This package contains the domain model and the three engines built on it:
  the Ledger (append-only point history and balances), Rankings (windowed
  leaderboards), and the Reservation engine (the order state machine that
  trades points for product stock).

KEY CONCEPTS IN THIS FILE (types.go):
  - Student: a member of the classroom with a projected balance
  - PointRecord: an immutable ledger entry recording a balance change
  - Product: a reward that can be reserved and redeemed
  - Order: a reservation moving through pending -> confirmed | cancelled
  - SystemConfig: the classroom-wide settings singleton

DESIGN PRINCIPLES:
  1. Immutability: point records are never modified, only compensated
  2. Projection: Student.Balance is derived state, reconcilable from the ledger
  3. Type safety: closed enums for record kinds and order statuses
  4. Weak references: orders hold ids, never pointers; dangling ids are tolerated

SEE ALSO:
  - errors.go: Closed error taxonomy
  - store.go: Persistence contract implemented by store/jsonfile
  - ledger.go, rankings.go, reservation.go: The engines
*/
package points

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// RECORD KINDS - Closed set of ledger entry types
// =============================================================================

type RecordKind string

const (
	KindAdd      RecordKind = "add"      // Teacher award, points > 0
	KindSubtract RecordKind = "subtract" // Teacher deduction, points < 0
	KindPurchase RecordKind = "purchase" // Reservation settlement, points < 0
	KindRefund   RecordKind = "refund"   // Reservation compensation, points > 0
)

// ValidKind reports whether k is one of the closed record kinds.
func ValidKind(k RecordKind) bool {
	switch k {
	case KindAdd, KindSubtract, KindPurchase, KindRefund:
		return true
	}
	return false
}

// SignMatchesKind reports whether the sign of points is consistent with k:
// add/refund are credits, subtract/purchase are debits.
func SignMatchesKind(k RecordKind, pts int) bool {
	switch k {
	case KindAdd, KindRefund:
		return pts > 0
	case KindSubtract, KindPurchase:
		return pts < 0
	}
	return false
}

// =============================================================================
// STUDENT
// =============================================================================

// Student is a classroom member. Balance is a projection over the ledger and
// is kept current by the ledger and the reservation engine; Reconcile repairs
// drift.
type Student struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Class     string    `json:"class"`
	Balance   int       `json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
}

// =============================================================================
// POINT RECORD - Immutable ledger entry
// =============================================================================

// PointRecord is an append-only ledger entry. Records are never modified or
// deleted after commit; corrections are new compensating records.
type PointRecord struct {
	ID         string     `json:"id"`
	StudentID  string     `json:"studentId"`
	Points     int        `json:"points"` // signed, never zero
	Reason     string     `json:"reason"`
	Kind       RecordKind `json:"kind"`
	OperatorID string     `json:"operatorId"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// NewRecordID returns a fresh opaque record id.
func NewRecordID() string { return "rec-" + uuid.NewString() }

// =============================================================================
// PRODUCT
// =============================================================================

// Product is a reward in the catalog. Deletion is soft: IsActive flips to
// false and the product stops being reservable, but pending orders that
// reference it stay queryable.
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Price       int       `json:"price"` // >= 0
	Stock       int       `json:"stock"` // >= 0
	Description string    `json:"description"`
	ImageURL    string    `json:"imageUrl"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewProductID returns a fresh opaque product id.
func NewProductID() string { return "prd-" + uuid.NewString() }

// SameName compares product names case-insensitively (uniqueness is enforced
// among active products only).
func SameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// =============================================================================
// ORDER - Reservation state machine
// =============================================================================

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is a reservation. Status is monotonic: pending is the only non-terminal
// state, and each timestamp is set exactly when the state is entered.
type Order struct {
	ID          string      `json:"id"`
	StudentID   string      `json:"studentId"`
	ProductID   string      `json:"productId"`
	Status      OrderStatus `json:"status"`
	Price       int         `json:"price"` // frozen amount, captured at reserve time
	ReservedAt  time.Time   `json:"reservedAt"`
	ConfirmedAt *time.Time  `json:"confirmedAt,omitempty"`
	CancelledAt *time.Time  `json:"cancelledAt,omitempty"`
}

// NewOrderID returns a fresh opaque order id.
func NewOrderID() string { return "ord-" + uuid.NewString() }

// Terminal reports whether the order can no longer transition.
func (o *Order) Terminal() bool { return o.Status != OrderPending }

// =============================================================================
// SYSTEM CONFIG - Classroom settings singleton
// =============================================================================

type Mode string

const (
	ModeNormal Mode = "normal"
	ModeClass  Mode = "class"
)

type SystemConfig struct {
	Mode                 Mode   `json:"mode"`
	AutoRefreshInterval  int    `json:"autoRefreshInterval"`  // seconds, [5,300]
	PointsResetEnabled   bool   `json:"pointsResetEnabled"`
	MaxPointsPerOp       int    `json:"maxPointsPerOperation"` // [1,1000]
	SemesterStartDate    string `json:"semesterStartDate"`     // YYYY-MM-DD
	WeekStart            int    `json:"weekStart"`             // 0=Sunday .. 6=Saturday
	ClassName            string `json:"className"`
	AuthorName           string `json:"authorName"`
	Copyright            string `json:"copyright"`
}

// DefaultConfig is the configuration materialized on first read.
func DefaultConfig() SystemConfig {
	return SystemConfig{
		Mode:                ModeNormal,
		AutoRefreshInterval: 30,
		PointsResetEnabled:  false,
		MaxPointsPerOp:      100,
		WeekStart:           0,
	}
}

// Validate checks the documented ranges on the singleton.
func (c *SystemConfig) Validate() error {
	if c.Mode != ModeNormal && c.Mode != ModeClass {
		return &ValidationError{Field: "mode", Message: "mode must be normal or class"}
	}
	if c.MaxPointsPerOp < 1 || c.MaxPointsPerOp > 1000 {
		return &ValidationError{Field: "maxPointsPerOperation", Message: "must be in [1,1000]"}
	}
	if c.AutoRefreshInterval < 5 || c.AutoRefreshInterval > 300 {
		return &ValidationError{Field: "autoRefreshInterval", Message: "must be in [5,300] seconds"}
	}
	if c.WeekStart < 0 || c.WeekStart > 6 {
		return &ValidationError{Field: "weekStart", Message: "must be in [0,6]"}
	}
	return nil
}
