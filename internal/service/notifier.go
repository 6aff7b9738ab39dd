package service

import (
	"backend/internal/model"

	"github.com/google/uuid"
)

// Notifier pushes workflow events to connected POS terminals. The
// websocket hub implements it. Delivery is fire and forget: services
// never block on a slow consumer, and the hub decides what to do with
// events addressed to someone who is offline.
type Notifier interface {
	SendToUser(userID uuid.UUID, event string, data interface{})
	BroadcastToRank(min model.Role, event string, data interface{})
}
