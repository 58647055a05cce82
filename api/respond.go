/*
respond.go - JSON envelope and error-to-status mapping

PURPOSE:
  Every response leaving this API has the shape

    {"success": bool, "message"?: string, "code"?: string, "data"?: ...}

  Errors carry a stable symbolic code. Domain failures surface verbatim;
  internal errors are logged in full with the request id and the client
  receives a generic message plus a correlation id.
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/warp/classpoints/points"
)

// Envelope is the uniform response shape.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

// writeData writes a success envelope.
func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Success: true, Data: data})
}

// writeErr maps a core error to status + code. Unrecognized errors become
// 500 with a correlation id; the full error stays in the server log.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	if status == http.StatusInternalServerError {
		reqID := middleware.GetReqID(r.Context())
		h.Log.WithFields(logrus.Fields{
			"requestId": reqID,
			"path":      r.URL.Path,
		}).WithError(err).Error("internal error")
		writeJSON(w, status, Envelope{
			Success: false,
			Message: "internal error",
			Code:    code,
			Data:    map[string]string{"correlationId": reqID},
		})
		return
	}
	writeJSON(w, status, Envelope{Success: false, Message: err.Error(), Code: points.Code(err)})
}

// writeErrCode writes a failure with an explicit status and code, for
// failures that do not originate in the core (auth, rate limit, body size).
func writeErrCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Envelope{Success: false, Message: message, Code: code})
}

func statusOf(err error) (int, string) {
	switch {
	// The reserve shortfall is a client mistake, not a race: 400 by contract.
	case errors.Is(err, points.ErrInsufficientPoints):
		return http.StatusBadRequest, points.Code(err)
	case points.IsValidation(err):
		return http.StatusBadRequest, points.Code(err)
	case points.IsNotFound(err):
		return http.StatusNotFound, points.Code(err)
	case points.IsConflict(err):
		return http.StatusConflict, points.Code(err)
	}
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// decodeBody parses a JSON request body strictly, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return &points.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}
