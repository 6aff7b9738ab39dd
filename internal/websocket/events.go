package websocket

import (
	"encoding/json"
	"time"
)

// Server-to-client event names. The payload schema for each event is
// owned by the service that emits it.
const (
	EventApprovalRequest     = "approval:request"
	EventApprovalApproved    = "approval:approved"
	EventApprovalDenied      = "approval:denied"
	EventApprovalCountered   = "approval:countered"
	EventCounterAccepted     = "approval:counter-accepted"
	EventCounterDeclined     = "approval:counter-declined"
	EventApprovalTimedOut    = "approval:timed-out"
	EventManagerStatusChange = "manager:status-change"
	EventDelegationExpired   = "delegation:expired"
)

// Client-to-server commands understood by the read pump.
const (
	CommandPresenceAway   = "presence:away"
	CommandPresenceOnline = "presence:online"
)

// Envelope is the wire format for every frame the hub writes.
type Envelope struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// command is the wire format for frames the hub reads.
type command struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeEnvelope(event string, data interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Data: data, Timestamp: time.Now().UTC()})
}
