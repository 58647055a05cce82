/*
dto.go - Request bodies for the HTTP surface

PURPOSE:
  Decouples the wire contract from the domain model. Responses reuse the
  domain structs (they carry JSON tags shaped for the front-ends); request
  bodies are defined here and validated in the handlers.

NAMING CONVENTION:
  *Request: request body types from clients.
*/
package api

// AddPointsRequest backs POST /points/add and /points/subtract. Points is
// always positive on the wire; the endpoint determines the sign.
type AddPointsRequest struct {
	StudentID string `json:"studentId"`
	Points    int    `json:"points"`
	Reason    string `json:"reason"`
}

// BatchAddRequest backs POST /points/batch-add. At most 50 operations.
type BatchAddRequest struct {
	Operations []AddPointsRequest `json:"operations"`
}

// CreateStudentRequest backs POST /students. The id is externally assigned
// (student number), not generated.
type CreateStudentRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Class string `json:"class"`
}

// UpdateStudentRequest backs PUT /students/{id}. Nil fields stay unchanged.
type UpdateStudentRequest struct {
	Name  *string `json:"name,omitempty"`
	Class *string `json:"class,omitempty"`
}

// CreateProductRequest backs POST /products.
type CreateProductRequest struct {
	Name        string `json:"name"`
	Price       int    `json:"price"`
	Stock       int    `json:"stock"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
}

// UpdateProductRequest backs PUT /products/{id}. Nil fields stay unchanged.
type UpdateProductRequest struct {
	Name        *string `json:"name,omitempty"`
	Price       *int    `json:"price,omitempty"`
	Stock       *int    `json:"stock,omitempty"`
	Description *string `json:"description,omitempty"`
	ImageURL    *string `json:"imageUrl,omitempty"`
	IsActive    *bool   `json:"isActive,omitempty"`
}

// BatchStatusRequest backs POST /products/batch-status. At most 50 ids.
type BatchStatusRequest struct {
	ProductIDs []string `json:"productIds"`
	IsActive   bool     `json:"isActive"`
}

// ReserveRequest backs POST /orders/reserve.
type ReserveRequest struct {
	StudentID string `json:"studentId"`
	ProductID string `json:"productId"`
}

// ModeRequest backs PUT /config/mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// ResetDataRequest backs POST /config/reset-data.
type ResetDataRequest struct {
	Reason string `json:"reason"`
}
