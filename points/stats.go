// stats.go - Aggregate statistics for the teacher console.
//
// Counters are plain integers; wherever a division appears (averages,
// redemption rate) decimal arithmetic keeps the results exact to two places.
package points

import (
	"context"

	"github.com/shopspring/decimal"
)

// PointsStats summarizes ledger activity.
type PointsStats struct {
	StudentCount      int    `json:"studentCount"`
	RecordCount       int    `json:"recordCount"`
	TotalAwarded      int    `json:"totalAwarded"`  // credits: add + refund
	TotalDeducted     int    `json:"totalDeducted"` // debits: subtract + purchase, as a positive number
	ActiveStudents    int    `json:"activeStudents"` // students with at least one record
	AveragePerStudent string `json:"averagePerStudent"`
}

// ProductStats summarizes the catalog and order flow.
type ProductStats struct {
	ProductCount    int    `json:"productCount"`
	ActiveProducts  int    `json:"activeProducts"`
	TotalStock      int    `json:"totalStock"`
	PendingOrders   int    `json:"pendingOrders"`
	ConfirmedOrders int    `json:"confirmedOrders"`
	CancelledOrders int    `json:"cancelledOrders"`
	PointsRedeemed  int    `json:"pointsRedeemed"` // sum of confirmed order prices
	RedemptionRate  string `json:"redemptionRate"` // confirmed / (confirmed + cancelled)
}

// Stats computes aggregate views over the store.
type Stats struct {
	Store Store
}

func NewStats(store Store) *Stats { return &Stats{Store: store} }

// Points summarizes the ledger.
func (s *Stats) Points(ctx context.Context) (*PointsStats, error) {
	students, err := s.Store.Students(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.Store.Records(ctx)
	if err != nil {
		return nil, err
	}

	st := &PointsStats{
		StudentCount: len(students.Students),
		RecordCount:  len(records.Records),
	}
	seen := make(map[string]bool)
	for i := range records.Records {
		r := &records.Records[i]
		if r.Points > 0 {
			st.TotalAwarded += r.Points
		} else {
			st.TotalDeducted += -r.Points
		}
		seen[r.StudentID] = true
	}
	for i := range students.Students {
		if seen[students.Students[i].ID] {
			st.ActiveStudents++
		}
	}

	avg := decimal.Zero
	if st.StudentCount > 0 {
		total := decimal.Zero
		for i := range students.Students {
			total = total.Add(decimal.NewFromInt(int64(students.Students[i].Balance)))
		}
		avg = total.DivRound(decimal.NewFromInt(int64(st.StudentCount)), 2)
	}
	st.AveragePerStudent = avg.StringFixed(2)
	return st, nil
}

// Products summarizes the catalog and the order flow through it.
func (s *Stats) Products(ctx context.Context) (*ProductStats, error) {
	products, err := s.Store.Products(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := s.Store.Orders(ctx)
	if err != nil {
		return nil, err
	}

	st := &ProductStats{ProductCount: len(products.Products)}
	for i := range products.Products {
		p := &products.Products[i]
		if p.IsActive {
			st.ActiveProducts++
			st.TotalStock += p.Stock
		}
	}
	for i := range orders.Orders {
		o := &orders.Orders[i]
		switch o.Status {
		case OrderPending:
			st.PendingOrders++
		case OrderConfirmed:
			st.ConfirmedOrders++
			st.PointsRedeemed += o.Price
		case OrderCancelled:
			st.CancelledOrders++
		}
	}

	rate := decimal.Zero
	if settled := st.ConfirmedOrders + st.CancelledOrders; settled > 0 {
		rate = decimal.NewFromInt(int64(st.ConfirmedOrders)).
			DivRound(decimal.NewFromInt(int64(settled)), 2)
	}
	st.RedemptionRate = rate.StringFixed(2)
	return st, nil
}
