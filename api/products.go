/*
products.go - Reward catalog handlers

ENDPOINTS:
  GET    /api/products                 List (active only for non-teachers)  (public)
  GET    /api/products/{id}/stock      Stock check                          (public)
  POST   /api/products                 Create                               (teacher)
  PUT    /api/products/{id}            Update                               (teacher)
  DELETE /api/products/{id}            Soft delete                          (teacher)
  POST   /api/products/batch-status    Activate/deactivate up to 50         (teacher)
  GET    /api/products/statistics      Catalog statistics                   (teacher)
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/classpoints/events"
	"github.com/warp/classpoints/points"
)

// ListProducts returns the catalog. Anonymous and student callers see active
// products only; teachers see everything.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Store.Products(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	p, _ := PrincipalFrom(r.Context())
	if p.IsTeacher() {
		writeData(w, http.StatusOK, doc.Products)
		return
	}
	active := make([]points.Product, 0, len(doc.Products))
	for _, prod := range doc.Products {
		if prod.IsActive {
			active = append(active, prod)
		}
	}
	writeData(w, http.StatusOK, active)
}

// CheckStock returns the live stock for one product.
func (h *Handler) CheckStock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := h.Store.Products(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	product := doc.FindProduct(id)
	if product == nil {
		h.writeErr(w, r, points.ErrProductNotFound)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"productId": product.ID,
		"stock":     product.Stock,
		"isActive":  product.IsActive,
	})
}

// CreateProduct adds a reward to the catalog.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if req.Name == "" {
		h.writeErr(w, r, &points.ValidationError{Field: "name", Message: "required"})
		return
	}
	if req.Price < 0 {
		h.writeErr(w, r, &points.ValidationError{Field: "price", Message: "must be >= 0"})
		return
	}
	if req.Stock < 0 {
		h.writeErr(w, r, &points.ValidationError{Field: "stock", Message: "must be >= 0"})
		return
	}

	tx, err := h.Store.Begin(r.Context(), points.ColProducts)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	defer tx.End()

	doc, err := tx.Products()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	for i := range doc.Products {
		existing := &doc.Products[i]
		if existing.IsActive && points.SameName(existing.Name, req.Name) {
			h.writeErr(w, r, points.ErrNameTaken)
			return
		}
	}

	product := points.Product{
		ID:          points.NewProductID(),
		Name:        req.Name,
		Price:       req.Price,
		Stock:       req.Stock,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		IsActive:    true,
		CreatedAt:   time.Now(),
	}
	doc.Products = append(doc.Products, product)
	if err := tx.SetProducts(doc); err != nil {
		h.writeErr(w, r, err)
		return
	}
	tx.End()

	h.Bus.Publish(events.New(events.TypeProductUpdated, events.EntityPayload{
		Action: events.ActionCreated, ID: product.ID, Entity: product,
	}))
	writeData(w, http.StatusCreated, product)
}

// UpdateProduct edits a reward; stock edits here are the explicit admin path.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req UpdateProductRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if req.Price != nil && *req.Price < 0 {
		h.writeErr(w, r, &points.ValidationError{Field: "price", Message: "must be >= 0"})
		return
	}
	if req.Stock != nil && *req.Stock < 0 {
		h.writeErr(w, r, &points.ValidationError{Field: "stock", Message: "must be >= 0"})
		return
	}

	tx, err := h.Store.Begin(r.Context(), points.ColProducts)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	defer tx.End()

	doc, err := tx.Products()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	product := doc.FindProduct(id)
	if product == nil {
		h.writeErr(w, r, points.ErrProductNotFound)
		return
	}
	if req.Name != nil && *req.Name != "" && !points.SameName(*req.Name, product.Name) {
		for i := range doc.Products {
			other := &doc.Products[i]
			if other.ID != id && other.IsActive && points.SameName(other.Name, *req.Name) {
				h.writeErr(w, r, points.ErrNameTaken)
				return
			}
		}
		product.Name = *req.Name
	}
	if req.Price != nil {
		product.Price = *req.Price
	}
	if req.Stock != nil {
		product.Stock = *req.Stock
	}
	if req.Description != nil {
		product.Description = *req.Description
	}
	if req.ImageURL != nil {
		product.ImageURL = *req.ImageURL
	}
	if req.IsActive != nil {
		if *req.IsActive && !product.IsActive && nameHeldByOtherActive(doc, product) {
			// Reactivation re-enters the active namespace; the name may have
			// been reused while this product was retired.
			h.writeErr(w, r, points.ErrNameTaken)
			return
		}
		product.IsActive = *req.IsActive
	}
	if err := tx.SetProducts(doc); err != nil {
		h.writeErr(w, r, err)
		return
	}
	tx.End()

	h.Bus.Publish(events.New(events.TypeProductUpdated, events.EntityPayload{
		Action: events.ActionUpdated, ID: product.ID, Entity: *product,
	}))
	writeData(w, http.StatusOK, product)
}

// DeleteProduct soft-deletes: the product stops being reservable but stays
// behind any order that references it.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tx, err := h.Store.Begin(r.Context(), points.ColProducts)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	defer tx.End()

	doc, err := tx.Products()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	product := doc.FindProduct(id)
	if product == nil {
		h.writeErr(w, r, points.ErrProductNotFound)
		return
	}
	product.IsActive = false
	if err := tx.SetProducts(doc); err != nil {
		h.writeErr(w, r, err)
		return
	}
	tx.End()

	h.Bus.Publish(events.New(events.TypeProductUpdated, events.EntityPayload{
		Action: events.ActionDeleted, ID: id,
	}))
	writeData(w, http.StatusOK, map[string]string{"id": id})
}

// BatchProductStatus flips IsActive on up to 50 products in one write.
func (h *Handler) BatchProductStatus(w http.ResponseWriter, r *http.Request) {
	var req BatchStatusRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if len(req.ProductIDs) == 0 {
		h.writeErr(w, r, &points.ValidationError{Field: "productIds", Message: "required"})
		return
	}
	if len(req.ProductIDs) > batchLimit {
		h.writeErr(w, r, &points.ValidationError{Field: "productIds", Message: "at most 50 ids per batch"})
		return
	}

	tx, err := h.Store.Begin(r.Context(), points.ColProducts)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	defer tx.End()

	doc, err := tx.Products()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	type failure struct {
		ProductID string `json:"productId"`
		Reason    string `json:"reason"`
		Code      string `json:"code"`
	}
	succeeded := make([]string, 0, len(req.ProductIDs))
	failed := []failure{}
	for _, id := range req.ProductIDs {
		product := doc.FindProduct(id)
		if product == nil {
			failed = append(failed, failure{ProductID: id, Reason: "product not found", Code: "PRODUCT_NOT_FOUND"})
			continue
		}
		if req.IsActive && !product.IsActive && nameHeldByOtherActive(doc, product) {
			failed = append(failed, failure{ProductID: id, Reason: "name held by an active product", Code: "NAME_TAKEN"})
			continue
		}
		product.IsActive = req.IsActive
		succeeded = append(succeeded, id)
	}
	if len(succeeded) > 0 {
		if err := tx.SetProducts(doc); err != nil {
			h.writeErr(w, r, err)
			return
		}
	}
	tx.End()
	for _, id := range succeeded {
		h.Bus.Publish(events.New(events.TypeProductUpdated, events.EntityPayload{
			Action: events.ActionUpdated, ID: id,
		}))
	}
	writeData(w, http.StatusOK, map[string]any{
		"succeeded": succeeded,
		"failed":    failed,
	})
}

// nameHeldByOtherActive reports whether a different active product already
// holds p's name. Every path that puts a name into the active namespace
// (create, rename, reactivate) runs this check.
func nameHeldByOtherActive(doc *points.ProductsDoc, p *points.Product) bool {
	for i := range doc.Products {
		other := &doc.Products[i]
		if other.ID != p.ID && other.IsActive && points.SameName(other.Name, p.Name) {
			return true
		}
	}
	return false
}

// GetProductStatistics returns catalog and order-flow aggregates.
func (h *Handler) GetProductStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Stats.Products(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}
