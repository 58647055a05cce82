/*
events.go - Typed event union for the SSE fan-out

PURPOSE:
  Every mutation in the system is announced to connected clients as one of
  these tagged events. The bus (bus.go) delivers them; this file defines the
  wire shape.

WIRE FORMAT:
  Each event becomes one SSE frame:

    event: <type>
    data: {"timestamp":"...","payload":{...}}

  The timestamp is assigned by the server at publish time (ISO-8601 / RFC3339).
*/
package events

import (
	"encoding/json"
	"time"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

type Type string

const (
	TypeConnected       Type = "connected"
	TypeHeartbeat       Type = "heartbeat"
	TypePointsUpdated   Type = "points_updated"
	TypeRankingsUpdated Type = "rankings_updated"
	TypeModeChanged     Type = "mode_changed"
	TypeProductUpdated  Type = "product_updated"
	TypeOrderUpdated    Type = "order_updated"
	TypeStudentUpdated  Type = "student_updated"
	TypeConfigUpdated   Type = "config_updated"
	TypeDataReset       Type = "data_reset"
	TypeNotification    Type = "notification"
	TypeError           Type = "error"
)

// Action qualifies product/order/student update events.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionDeleted   Action = "deleted"
	ActionConfirmed Action = "confirmed"
	ActionCancelled Action = "cancelled"
)

// =============================================================================
// EVENT
// =============================================================================

// Event is a single fan-out message. Payload must be JSON-serializable.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// New builds an event stamped with the current server time.
func New(t Type, payload any) Event {
	return Event{Type: t, Timestamp: time.Now(), Payload: payload}
}

// Data renders the SSE data line content.
func (e Event) Data() ([]byte, error) {
	return json.Marshal(struct {
		Timestamp string `json:"timestamp"`
		Payload   any    `json:"payload,omitempty"`
	}{
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		Payload:   e.Payload,
	})
}

// =============================================================================
// PAYLOADS
// =============================================================================

// PointsPayload announces a balance change.
type PointsPayload struct {
	StudentID  string `json:"studentId"`
	Points     int    `json:"points"`
	NewBalance int    `json:"newBalance"`
	Kind       string `json:"kind"`
	Reason     string `json:"reason,omitempty"`
}

// EntityPayload announces a create/update/delete on a named entity.
type EntityPayload struct {
	Action Action `json:"action"`
	ID     string `json:"id"`
	Entity any    `json:"entity,omitempty"`
}

// OrderPayload announces a reservation transition.
type OrderPayload struct {
	Action    Action `json:"action"`
	OrderID   string `json:"orderId"`
	StudentID string `json:"studentId"`
	ProductID string `json:"productId"`
	Status    string `json:"status"`
}

// ModePayload announces a display-mode switch.
type ModePayload struct {
	Mode string `json:"mode"`
}

// NotificationPayload is a free-form operator message.
type NotificationPayload struct {
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
}

// =============================================================================
// PUBLISHER
// =============================================================================

// Publisher is the emit side of the bus. The engines in the points package
// hold one; the Bus implements it.
type Publisher interface {
	Publish(e Event)
}

// NopPublisher discards events. Useful in tests that do not care about fan-out.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
