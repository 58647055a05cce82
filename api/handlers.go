/*
handlers.go - HTTP handlers: wiring, points, students

PURPOSE:
  Thin adapters between HTTP and the core engines. Handlers validate input,
  call exactly one core operation, and shape the JSON envelope. Authorization
  beyond the route-group middleware (self-or-teacher rules) is enforced here.

ENDPOINTS IN THIS FILE:
  Points:
    POST /api/points/add            Award points            (teacher)
    POST /api/points/subtract       Deduct points           (teacher)
    POST /api/points/batch-add      Up to 50 awards         (teacher)
    GET  /api/points/rankings       One leaderboard         (public)
    GET  /api/points/rankings/all   All three leaderboards  (public)
    GET  /api/points/history/{id}   Student history         (self or teacher)
    GET  /api/points/rank/{id}      Student positions       (self or teacher)
    GET  /api/points/records        Time-ranged records     (teacher)
    GET  /api/points/statistics     Ledger statistics       (teacher)
    POST /api/points/reconcile      Repair balance drift    (teacher)

  Students:
    GET    /api/students            List                    (teacher)
    POST   /api/students            Create                  (teacher)
    GET    /api/students/{id}       Read                    (self or teacher)
    PUT    /api/students/{id}       Update                  (teacher)
    DELETE /api/students/{id}       Hard delete             (teacher)

SEE ALSO:
  - products.go, orders.go, settings.go, sse.go: the rest of the surface
  - server.go: route groups and middleware
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/warp/classpoints/events"
	"github.com/warp/classpoints/points"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        points.Store
	Ledger       *points.Ledger
	Rankings     *points.Rankings
	Reservations *points.Reservations
	Stats        *points.Stats
	Bus          *events.Bus
	Log          *logrus.Entry
	JWTSecret    []byte

	limiter *rateLimiter
}

// NewHandler wires the full handler graph over one store and bus.
func NewHandler(store points.Store, bus *events.Bus, jwtSecret []byte, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ledger := points.NewLedger(store, bus, log)
	return &Handler{
		Store:        store,
		Ledger:       ledger,
		Rankings:     points.NewRankings(store),
		Reservations: points.NewReservations(store, ledger, bus, log),
		Stats:        points.NewStats(store),
		Bus:          bus,
		Log:          log.WithField("component", "api"),
		JWTSecret:    jwtSecret,
		limiter:      newRateLimiter(240, time.Minute),
	}
}

const batchLimit = 50

// =============================================================================
// POINTS HANDLERS
// =============================================================================

// AddPoints awards points to a student.
func (h *Handler) AddPoints(w http.ResponseWriter, r *http.Request) {
	h.appendPoints(w, r, points.KindAdd)
}

// SubtractPoints deducts points from a student.
func (h *Handler) SubtractPoints(w http.ResponseWriter, r *http.Request) {
	h.appendPoints(w, r, points.KindSubtract)
}

func (h *Handler) appendPoints(w http.ResponseWriter, r *http.Request, kind points.RecordKind) {
	var req AddPointsRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if err := h.checkPointsCap(r, req.Points); err != nil {
		h.writeErr(w, r, err)
		return
	}

	pts := req.Points
	if kind == points.KindSubtract {
		pts = -pts
	}
	p, _ := PrincipalFrom(r.Context())
	rec, err := h.Ledger.Append(r.Context(), points.AppendInput{
		StudentID:  req.StudentID,
		Points:     pts,
		Reason:     req.Reason,
		Kind:       kind,
		OperatorID: p.UserID,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	// Report the projected balance, not the raw ledger sum: the projection
	// already nets out amounts frozen on pending reservations.
	doc, err := h.Store.Students(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	student := doc.FindStudent(req.StudentID)
	if student == nil {
		h.writeErr(w, r, points.ErrStudentNotFound)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"newBalance": student.Balance,
		"record":     rec,
	})
}

// checkPointsCap enforces points > 0 and the configured per-operation cap.
func (h *Handler) checkPointsCap(r *http.Request, pts int) error {
	cfg, err := h.Store.Config(r.Context())
	if err != nil {
		return err
	}
	if msg := capViolation(pts, cfg.MaxPointsPerOp); msg != "" {
		return &points.ValidationError{Field: "points", Message: msg}
	}
	return nil
}

// capViolation describes why pts fails the per-operation bounds, or "".
func capViolation(pts, max int) string {
	if pts <= 0 {
		return "must be positive"
	}
	if pts > max {
		return "exceeds maximum of " + strconv.Itoa(max) + " per operation"
	}
	return ""
}

// BatchAddPoints awards points to up to 50 students in one call. Partial
// success is normal; both partitions are returned.
func (h *Handler) BatchAddPoints(w http.ResponseWriter, r *http.Request) {
	var req BatchAddRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if len(req.Operations) == 0 {
		h.writeErr(w, r, &points.ValidationError{Field: "operations", Message: "required"})
		return
	}
	if len(req.Operations) > batchLimit {
		h.writeErr(w, r, &points.ValidationError{Field: "operations", Message: "at most 50 operations per batch"})
		return
	}

	cfg, err := h.Store.Config(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	type failure struct {
		StudentID string `json:"studentId"`
		Reason    string `json:"reason"`
		Code      string `json:"code"`
	}
	failed := []failure{}

	p, _ := PrincipalFrom(r.Context())
	inputs := make([]points.AppendInput, 0, len(req.Operations))
	for _, op := range req.Operations {
		// A cap violation fails that one operation, not the batch.
		if msg := capViolation(op.Points, cfg.MaxPointsPerOp); msg != "" {
			failed = append(failed, failure{StudentID: op.StudentID, Reason: "points " + msg, Code: "VALIDATION_ERROR"})
			continue
		}
		inputs = append(inputs, points.AppendInput{
			StudentID:  op.StudentID,
			Points:     op.Points,
			Reason:     op.Reason,
			Kind:       points.KindAdd,
			OperatorID: p.UserID,
		})
	}

	result := &points.BatchResult{}
	if len(inputs) > 0 {
		result, err = h.Ledger.AppendBatch(r.Context(), inputs)
		if err != nil {
			h.writeErr(w, r, err)
			return
		}
	}
	for _, f := range result.Failed {
		failed = append(failed, failure{StudentID: f.Input.StudentID, Reason: f.Reason, Code: f.Code})
	}
	succeeded := result.Succeeded
	if succeeded == nil {
		succeeded = []points.PointRecord{}
	}
	writeData(w, http.StatusOK, map[string]any{
		"succeeded": succeeded,
		"failed":    failed,
	})
}

// GetRankings returns one leaderboard.
func (h *Handler) GetRankings(w http.ResponseWriter, r *http.Request) {
	view := points.RankingView(r.URL.Query().Get("type"))
	if view == "" {
		view = points.ViewTotal
	}
	limit, err := parseLimit(r, 50)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	entries, err := h.Rankings.Compute(r.Context(), view, limit)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"type":     view,
		"rankings": entries,
	})
}

// GetAllRankings returns all three leaderboards in one response.
func (h *Handler) GetAllRankings(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 50)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	all, err := h.Rankings.All(r.Context(), limit)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, all)
}

// GetHistory returns a student's records, newest first. Students may only
// read their own history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentId")
	p, _ := PrincipalFrom(r.Context())
	if !p.May(studentID) {
		writeErrCode(w, http.StatusForbidden, "FORBIDDEN", "students may only read their own history")
		return
	}
	limit, err := parseLimit(r, 50)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	history, err := h.Ledger.HistoryOf(r.Context(), studentID, limit)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if history == nil {
		history = []points.PointRecord{}
	}
	writeData(w, http.StatusOK, history)
}

// GetStudentRank returns one student's position in each view.
func (h *Handler) GetStudentRank(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentId")
	p, _ := PrincipalFrom(r.Context())
	if !p.May(studentID) {
		writeErrCode(w, http.StatusForbidden, "FORBIDDEN", "students may only read their own rank")
		return
	}
	rank, err := h.Rankings.StudentRankOf(r.Context(), studentID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rank)
}

// GetRecords returns time-ranged records, optionally for one student.
func (h *Handler) GetRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseDate(q.Get("startDate"), false)
	if err != nil {
		h.writeErr(w, r, &points.ValidationError{Field: "startDate", Message: "invalid date"})
		return
	}
	end, err := parseDate(q.Get("endDate"), true)
	if err != nil {
		h.writeErr(w, r, &points.ValidationError{Field: "endDate", Message: "invalid date"})
		return
	}
	records, err := h.Ledger.RecordsBetween(r.Context(), start, end, q.Get("studentId"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if records == nil {
		records = []points.PointRecord{}
	}
	writeData(w, http.StatusOK, records)
}

// GetPointsStatistics returns ledger aggregates.
func (h *Handler) GetPointsStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Stats.Points(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

// Reconcile recomputes every balance from the ledger and reports corrections.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.Ledger.Reconcile(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if drifts == nil {
		drifts = []points.Drift{}
	}
	writeData(w, http.StatusOK, map[string]any{"corrected": drifts})
}

// =============================================================================
// STUDENT HANDLERS
// =============================================================================

// ListStudents returns all students.
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Store.Students(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, doc.Students)
}

// GetStudent returns one student. Students may only read themselves.
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, _ := PrincipalFrom(r.Context())
	if !p.May(id) {
		writeErrCode(w, http.StatusForbidden, "FORBIDDEN", "students may only read their own profile")
		return
	}
	doc, err := h.Store.Students(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	student := doc.FindStudent(id)
	if student == nil {
		h.writeErr(w, r, points.ErrStudentNotFound)
		return
	}
	writeData(w, http.StatusOK, student)
}

// CreateStudent registers a student with an externally assigned id.
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req CreateStudentRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if req.ID == "" {
		h.writeErr(w, r, &points.ValidationError{Field: "id", Message: "required"})
		return
	}
	if req.Name == "" {
		h.writeErr(w, r, &points.ValidationError{Field: "name", Message: "required"})
		return
	}

	tx, err := h.Store.Begin(r.Context(), points.ColStudents)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	defer tx.End()

	doc, err := tx.Students()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if doc.FindStudent(req.ID) != nil {
		h.writeErr(w, r, &points.ValidationError{Field: "id", Message: "student id already exists"})
		return
	}
	student := points.Student{
		ID:        req.ID,
		Name:      req.Name,
		Class:     req.Class,
		CreatedAt: time.Now(),
	}
	doc.Students = append(doc.Students, student)
	if err := tx.SetStudents(doc); err != nil {
		h.writeErr(w, r, err)
		return
	}
	tx.End()

	h.Bus.Publish(events.New(events.TypeStudentUpdated, events.EntityPayload{
		Action: events.ActionCreated, ID: student.ID, Entity: student,
	}))
	writeData(w, http.StatusCreated, student)
}

// UpdateStudent renames or reclasses a student.
func (h *Handler) UpdateStudent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req UpdateStudentRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}

	tx, err := h.Store.Begin(r.Context(), points.ColStudents)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	defer tx.End()

	doc, err := tx.Students()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	student := doc.FindStudent(id)
	if student == nil {
		h.writeErr(w, r, points.ErrStudentNotFound)
		return
	}
	if req.Name != nil {
		if *req.Name == "" {
			h.writeErr(w, r, &points.ValidationError{Field: "name", Message: "must not be empty"})
			return
		}
		student.Name = *req.Name
	}
	if req.Class != nil {
		student.Class = *req.Class
	}
	if err := tx.SetStudents(doc); err != nil {
		h.writeErr(w, r, err)
		return
	}
	tx.End()

	h.Bus.Publish(events.New(events.TypeStudentUpdated, events.EntityPayload{
		Action: events.ActionUpdated, ID: student.ID, Entity: *student,
	}))
	writeData(w, http.StatusOK, student)
}

// DeleteStudent hard-deletes a student. Ledger rows stay behind (tolerated
// orphans, excluded from rankings).
func (h *Handler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tx, err := h.Store.Begin(r.Context(), points.ColStudents)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	defer tx.End()

	doc, err := tx.Students()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	kept := doc.Students[:0]
	found := false
	for _, s := range doc.Students {
		if s.ID == id {
			found = true
			continue
		}
		kept = append(kept, s)
	}
	if !found {
		h.writeErr(w, r, points.ErrStudentNotFound)
		return
	}
	doc.Students = kept
	if err := tx.SetStudents(doc); err != nil {
		h.writeErr(w, r, err)
		return
	}
	tx.End()

	h.Bus.Publish(events.New(events.TypeStudentUpdated, events.EntityPayload{
		Action: events.ActionDeleted, ID: id,
	}))
	writeData(w, http.StatusOK, map[string]string{"id": id})
}

// =============================================================================
// HELPERS
// =============================================================================

// parseLimit reads ?limit= with a default, enforcing the documented [1,100].
func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &points.ValidationError{Field: "limit", Message: "must be an integer"}
	}
	if limit < 1 || limit > 100 {
		return 0, &points.ValidationError{Field: "limit", Message: "must be in [1,100]"}
	}
	return limit, nil
}

// parseDate accepts RFC3339 or YYYY-MM-DD; date-only end bounds extend to the
// end of that day.
func parseDate(raw string, isEnd bool) (time.Time, error) {
	if raw == "" {
		if isEnd {
			return time.Now(), nil
		}
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	if isEnd {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}
