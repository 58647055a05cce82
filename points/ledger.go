/*
ledger.go - Append-only point history and balance projection

PURPOSE:
  The Ledger is the source of truth for every point change: teacher awards
  and deductions, purchase settlements, refunds. Balance is a projection kept
  on the student record; the ledger sum is always the authority and Reconcile
  repairs drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: records are never modified or deleted after commit
  2. SIGN DISCIPLINE: add/refund are positive, subtract/purchase are negative
  3. PROJECTION: after a successful Append, BalanceOf reflects the record
  4. FREEZE ACCOUNTING: purchase/refund records do NOT move the projected
     balance - the reservation engine already moved it at freeze/unfreeze
     time, and the ledger row is the permanent re-accounting of that move

CORRECTIONS:
  Mistakes are compensated, never edited. ResetAll is the extreme case: one
  compensating record per student drives every balance to zero while the
  history stays intact.

SEE ALSO:
  - reservation.go: the producer of purchase records
  - rankings.go: windowed reductions over the same records
*/
package points

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/classpoints/events"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger validates and appends point records and answers history queries.
type Ledger struct {
	Store Store
	Bus   events.Publisher
	Log   *logrus.Entry

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewLedger wires a ledger over the given store and bus.
func NewLedger(store Store, bus events.Publisher, log *logrus.Entry) *Ledger {
	if bus == nil {
		bus = events.NopPublisher{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Ledger{Store: store, Bus: bus, Log: log, Now: time.Now}
}

// =============================================================================
// APPEND
// =============================================================================

// AppendInput is one requested ledger entry.
type AppendInput struct {
	StudentID  string
	Points     int // signed; sign must match Kind
	Reason     string
	Kind       RecordKind
	OperatorID string
}

func (in *AppendInput) validate() error {
	if in.StudentID == "" {
		return &ValidationError{Field: "studentId", Message: "required"}
	}
	if in.Points == 0 {
		return &ValidationError{Field: "points", Message: "must be non-zero"}
	}
	if in.Reason == "" {
		return &ValidationError{Field: "reason", Message: "required"}
	}
	if !ValidKind(in.Kind) {
		return &ValidationError{Field: "kind", Message: "unknown record kind"}
	}
	if !SignMatchesKind(in.Kind, in.Points) {
		return &ValidationError{Field: "points", Message: "sign inconsistent with kind"}
	}
	return nil
}

// movesBalance reports whether the projection applies this kind.
// purchase/refund are documentary: the reservation engine already moved the
// balance at freeze/unfreeze time.
func movesBalance(k RecordKind) bool {
	return k == KindAdd || k == KindSubtract
}

// Append validates the input, commits the record, and refreshes the student's
// projected balance. On success the created record is returned.
func (l *Ledger) Append(ctx context.Context, in AppendInput) (*PointRecord, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	tx, err := l.Store.Begin(ctx, ColStudents, ColPoints)
	if err != nil {
		return nil, err
	}
	defer tx.End()

	rec, newBalance, err := l.appendInTx(tx, in)
	if err != nil {
		return nil, err
	}

	// Release the collection locks before fan-out: a slow subscriber must
	// never stall other writers.
	tx.End()

	l.Bus.Publish(events.New(events.TypePointsUpdated, events.PointsPayload{
		StudentID:  rec.StudentID,
		Points:     rec.Points,
		NewBalance: newBalance,
		Kind:       string(rec.Kind),
		Reason:     rec.Reason,
	}))
	l.Bus.Publish(events.New(events.TypeRankingsUpdated, nil))

	return rec, nil
}

// AppendInTx commits a record inside a transaction the caller already holds.
// The Tx must cover ColStudents and ColPoints. No events are published; the
// caller owns fan-out for its composite operation.
func (l *Ledger) AppendInTx(tx Tx, in AppendInput) (*PointRecord, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	rec, _, err := l.appendInTx(tx, in)
	return rec, err
}

func (l *Ledger) appendInTx(tx Tx, in AppendInput) (*PointRecord, int, error) {
	students, err := tx.Students()
	if err != nil {
		return nil, 0, err
	}
	student := students.FindStudent(in.StudentID)
	if student == nil {
		return nil, 0, ErrStudentNotFound
	}

	records, err := tx.Records()
	if err != nil {
		return nil, 0, err
	}

	rec := PointRecord{
		ID:         NewRecordID(),
		StudentID:  in.StudentID,
		Points:     in.Points,
		Reason:     in.Reason,
		Kind:       in.Kind,
		OperatorID: in.OperatorID,
		CreatedAt:  l.Now(),
	}
	records.Records = append(records.Records, rec)

	if err := tx.SetRecords(records); err != nil {
		return nil, 0, err
	}

	if movesBalance(in.Kind) {
		student.Balance += in.Points
		if err := tx.SetStudents(students); err != nil {
			return nil, 0, err
		}
	}

	return &rec, student.Balance, nil
}

// =============================================================================
// BATCH APPEND
// =============================================================================

// BatchResult partitions a batch into successes and failures. Partial success
// is normal.
type BatchResult struct {
	Succeeded []PointRecord
	Failed    []BatchFailure
}

type BatchFailure struct {
	Input  AppendInput
	Reason string
	Code   string
}

// AppendBatch applies each input independently under one transaction and
// returns both partitions. A single point_updated burst is published for the
// successes.
func (l *Ledger) AppendBatch(ctx context.Context, inputs []AppendInput) (*BatchResult, error) {
	tx, err := l.Store.Begin(ctx, ColStudents, ColPoints)
	if err != nil {
		return nil, err
	}
	defer tx.End()

	result := &BatchResult{}
	var payloads []events.PointsPayload

	for _, in := range inputs {
		if err := in.validate(); err != nil {
			result.Failed = append(result.Failed, BatchFailure{Input: in, Reason: err.Error(), Code: Code(err)})
			continue
		}
		rec, newBalance, err := l.appendInTx(tx, in)
		if err != nil {
			result.Failed = append(result.Failed, BatchFailure{Input: in, Reason: err.Error(), Code: Code(err)})
			continue
		}
		result.Succeeded = append(result.Succeeded, *rec)
		payloads = append(payloads, events.PointsPayload{
			StudentID:  rec.StudentID,
			Points:     rec.Points,
			NewBalance: newBalance,
			Kind:       string(rec.Kind),
			Reason:     rec.Reason,
		})
	}

	tx.End()
	for _, p := range payloads {
		l.Bus.Publish(events.New(events.TypePointsUpdated, p))
	}
	if len(payloads) > 0 {
		l.Bus.Publish(events.New(events.TypeRankingsUpdated, nil))
	}

	return result, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// BalanceOf sums the ledger for one student. This is the authoritative
// number; the student record's Balance field is the cached projection.
func (l *Ledger) BalanceOf(ctx context.Context, studentID string) (int, error) {
	records, err := l.Store.Records(ctx)
	if err != nil {
		return 0, err
	}
	sum := 0
	for i := range records.Records {
		if records.Records[i].StudentID == studentID {
			sum += records.Records[i].Points
		}
	}
	return sum, nil
}

// HistoryOf returns a student's records newest-first, truncated to limit when
// limit > 0.
func (l *Ledger) HistoryOf(ctx context.Context, studentID string, limit int) ([]PointRecord, error) {
	records, err := l.Store.Records(ctx)
	if err != nil {
		return nil, err
	}
	var out []PointRecord
	for i := range records.Records {
		if records.Records[i].StudentID == studentID {
			out = append(out, records.Records[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordsBetween returns records with CreatedAt in [start, end], optionally
// filtered to one student. Results are oldest-first.
func (l *Ledger) RecordsBetween(ctx context.Context, start, end time.Time, studentID string) ([]PointRecord, error) {
	if end.Before(start) {
		return nil, &ValidationError{Field: "endDate", Message: "end before start"}
	}
	records, err := l.Store.Records(ctx)
	if err != nil {
		return nil, err
	}
	var out []PointRecord
	for i := range records.Records {
		r := &records.Records[i]
		if studentID != "" && r.StudentID != studentID {
			continue
		}
		if r.CreatedAt.Before(start) || r.CreatedAt.After(end) {
			continue
		}
		out = append(out, *r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// =============================================================================
// RESET
// =============================================================================

// ResetAll appends one compensating record per student with a non-zero
// balance, driving every balance to zero while the history stays intact.
// Returns the records created.
func (l *Ledger) ResetAll(ctx context.Context, operatorID, reason string) ([]PointRecord, error) {
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "required"}
	}

	tx, err := l.Store.Begin(ctx, ColStudents, ColPoints)
	if err != nil {
		return nil, err
	}
	defer tx.End()

	students, err := tx.Students()
	if err != nil {
		return nil, err
	}

	var created []PointRecord
	for i := range students.Students {
		s := &students.Students[i]
		if s.Balance == 0 {
			continue
		}
		kind := KindSubtract
		if s.Balance < 0 {
			// A negative balance is compensated upward.
			kind = KindAdd
		}
		rec, _, err := l.appendInTx(tx, AppendInput{
			StudentID:  s.ID,
			Points:     -s.Balance,
			Reason:     reason,
			Kind:       kind,
			OperatorID: operatorID,
		})
		if err != nil {
			return nil, err
		}
		created = append(created, *rec)
	}

	tx.End()
	l.Bus.Publish(events.New(events.TypeDataReset, map[string]any{
		"operatorId": operatorID,
		"reason":     reason,
		"records":    len(created),
	}))
	l.Bus.Publish(events.New(events.TypeRankingsUpdated, nil))

	return created, nil
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Drift reports one corrected student balance.
type Drift struct {
	StudentID  string `json:"studentId"`
	OldBalance int    `json:"oldBalance"`
	NewBalance int    `json:"newBalance"`
}

// Reconcile recomputes every student's balance from the ledger, subtracting
// amounts frozen on pending orders, and corrects any drift in the stored
// projection. Returns the corrections made.
func (l *Ledger) Reconcile(ctx context.Context) ([]Drift, error) {
	tx, err := l.Store.Begin(ctx, ColStudents, ColOrders, ColPoints)
	if err != nil {
		return nil, err
	}
	defer tx.End()

	students, err := tx.Students()
	if err != nil {
		return nil, err
	}
	orders, err := tx.Orders()
	if err != nil {
		return nil, err
	}
	records, err := tx.Records()
	if err != nil {
		return nil, err
	}

	sums := make(map[string]int, len(students.Students))
	for i := range records.Records {
		r := &records.Records[i]
		sums[r.StudentID] += r.Points
	}
	frozen := make(map[string]int)
	for i := range orders.Orders {
		o := &orders.Orders[i]
		if o.Status == OrderPending {
			frozen[o.StudentID] += o.Price
		}
	}

	var drifts []Drift
	for i := range students.Students {
		s := &students.Students[i]
		want := sums[s.ID] - frozen[s.ID]
		if s.Balance != want {
			drifts = append(drifts, Drift{StudentID: s.ID, OldBalance: s.Balance, NewBalance: want})
			l.Log.WithFields(logrus.Fields{
				"studentId": s.ID,
				"stored":    s.Balance,
				"computed":  want,
			}).Warn("balance drift corrected")
			s.Balance = want
		}
	}

	if len(drifts) > 0 {
		if err := tx.SetStudents(students); err != nil {
			return nil, err
		}
	}
	tx.End()
	if len(drifts) > 0 {
		l.Bus.Publish(events.New(events.TypeRankingsUpdated, nil))
	}
	return drifts, nil
}
