/*
settings.go - SystemConfig handlers

ENDPOINTS:
  GET  /api/config/mode        Current display mode              (public)
  PUT  /api/config/mode        Switch mode; class requires teacher
  GET  /api/config             Full settings                     (teacher)
  PUT  /api/config             Replace settings                  (teacher)
  POST /api/config/reset-data  Zero every balance                (teacher)

The mode switch is deliberately asymmetric: entering class mode locks the
display and needs a teacher; dropping back to normal must work from the
display itself, unauthenticated.
*/
package api

import (
	"net/http"

	"github.com/warp/classpoints/events"
	"github.com/warp/classpoints/points"
)

// GetMode returns the current display mode.
func (h *Handler) GetMode(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Store.Config(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"mode": string(cfg.Mode)})
}

// SetMode switches the display mode.
func (h *Handler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	mode := points.Mode(req.Mode)
	if mode != points.ModeNormal && mode != points.ModeClass {
		h.writeErr(w, r, &points.ValidationError{Field: "mode", Message: "must be normal or class"})
		return
	}
	if mode == points.ModeClass {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			writeErrCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "class mode requires authentication")
			return
		}
		if !p.IsTeacher() {
			writeErrCode(w, http.StatusForbidden, "FORBIDDEN", "class mode requires a teacher")
			return
		}
	}

	tx, err := h.Store.Begin(r.Context(), points.ColConfig)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	defer tx.End()

	cfg, err := tx.Config()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	cfg.Mode = mode
	if err := tx.SetConfig(cfg); err != nil {
		h.writeErr(w, r, err)
		return
	}
	tx.End()

	h.Bus.Publish(events.New(events.TypeModeChanged, events.ModePayload{Mode: string(mode)}))
	writeData(w, http.StatusOK, map[string]string{"mode": string(mode)})
}

// GetConfig returns the full settings singleton.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Store.Config(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, cfg)
}

// UpdateConfig replaces the settings singleton after range validation.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req points.SystemConfig
	if err := decodeBody(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeErr(w, r, err)
		return
	}

	tx, err := h.Store.Begin(r.Context(), points.ColConfig)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	defer tx.End()

	prior, err := tx.Config()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if err := tx.SetConfig(&req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	tx.End()

	h.Bus.Publish(events.New(events.TypeConfigUpdated, nil))
	if prior.Mode != req.Mode {
		h.Bus.Publish(events.New(events.TypeModeChanged, events.ModePayload{Mode: string(req.Mode)}))
	}
	writeData(w, http.StatusOK, &req)
}

// ResetData drives every balance to zero via compensating ledger records.
// Gated on PointsResetEnabled so the button cannot fire by accident.
func (h *Handler) ResetData(w http.ResponseWriter, r *http.Request) {
	var req ResetDataRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "semester reset"
	}

	cfg, err := h.Store.Config(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if !cfg.PointsResetEnabled {
		writeErrCode(w, http.StatusForbidden, "FORBIDDEN", "points reset is disabled in settings")
		return
	}

	p, _ := PrincipalFrom(r.Context())
	created, err := h.Ledger.ResetAll(r.Context(), p.UserID, req.Reason)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"recordsCreated": len(created)})
}
