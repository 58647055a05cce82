/*
orders.go - Reservation handlers

ENDPOINTS:
  POST /api/orders/reserve        Freeze points, create pending order (self)
  GET  /api/orders                Own orders; all for teachers
  GET  /api/orders/pending        Pending orders                    (teacher)
  GET  /api/orders/{id}           One order              (owner or teacher)
  POST /api/orders/{id}/confirm   Settle                            (teacher)
  POST /api/orders/{id}/cancel    Release                (owner or teacher)
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/classpoints/points"
)

// Reserve creates a pending order. Students may only reserve for themselves.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	p, _ := PrincipalFrom(r.Context())
	if !p.May(req.StudentID) {
		writeErrCode(w, http.StatusForbidden, "FORBIDDEN", "students may only reserve for themselves")
		return
	}

	order, err := h.Reservations.Reserve(r.Context(), req.StudentID, req.ProductID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, order)
}

// ListOrders returns the caller's orders, or every order for a teacher.
// Teachers may narrow with ?studentId= or ?status=.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Store.Orders(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	p, _ := PrincipalFrom(r.Context())
	studentFilter := r.URL.Query().Get("studentId")
	statusFilter := points.OrderStatus(r.URL.Query().Get("status"))
	if !p.IsTeacher() {
		studentFilter = p.UserID
	}

	out := make([]points.Order, 0, len(doc.Orders))
	for _, o := range doc.Orders {
		if studentFilter != "" && o.StudentID != studentFilter {
			continue
		}
		if statusFilter != "" && o.Status != statusFilter {
			continue
		}
		out = append(out, o)
	}
	writeData(w, http.StatusOK, out)
}

// ListPendingOrders returns every pending order for the teacher console.
func (h *Handler) ListPendingOrders(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Store.Orders(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	pending := make([]points.Order, 0)
	for _, o := range doc.Orders {
		if o.Status == points.OrderPending {
			pending = append(pending, o)
		}
	}
	writeData(w, http.StatusOK, pending)
}

// GetOrder returns one order; students see only their own.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := h.Store.Orders(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	order := doc.FindOrder(id)
	if order == nil {
		h.writeErr(w, r, points.ErrOrderNotFound)
		return
	}
	p, _ := PrincipalFrom(r.Context())
	if !p.May(order.StudentID) {
		writeErrCode(w, http.StatusForbidden, "FORBIDDEN", "students may only read their own orders")
		return
	}
	writeData(w, http.StatusOK, order)
}

// ConfirmOrder settles a pending order.
func (h *Handler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, _ := PrincipalFrom(r.Context())
	order, err := h.Reservations.Confirm(r.Context(), id, p.UserID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, order)
}

// CancelOrder releases a pending order. The owner or any teacher may cancel.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	doc, err := h.Store.Orders(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	existing := doc.FindOrder(id)
	if existing == nil {
		h.writeErr(w, r, points.ErrOrderNotFound)
		return
	}
	p, _ := PrincipalFrom(r.Context())
	if !p.May(existing.StudentID) {
		writeErrCode(w, http.StatusForbidden, "FORBIDDEN", "only the owner or a teacher may cancel")
		return
	}

	order, err := h.Reservations.Cancel(r.Context(), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, order)
}
