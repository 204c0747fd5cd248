// Package realtime implements the websocket transport: the message
// contract, the server-side hub fed by the event bus, and a reconnecting
// consumer client. Delivery over the channel is not durable; consumers
// reconcile through an explicit re-fetch after any reconnect.
package realtime

import (
	"encoding/json"
	"time"
)

// Message kinds carried over the channel.
const (
	KindConversionEvent = "conversion_event"
	KindStatusUpdate    = "status_update"
	KindFunnelUpdate    = "funnel_update"
	KindNotification    = "notification"
	KindPing            = "ping"
	KindPong            = "pong"
	KindSubscribe       = "subscribe"
	KindUnsubscribe     = "unsubscribe"
)

// ChannelFunnel is the funnel-wide broadcast channel.
const ChannelFunnel = "funnel"

// LeadChannel names the per-lead channel.
func LeadChannel(leadID string) string {
	return "lead:" + leadID
}

// Message is the wire envelope: a kind, an opaque payload, and an
// ISO-8601 timestamp.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// NewMessage builds an envelope with the payload marshalled and the
// timestamp set to now.
func NewMessage(kind string, payload interface{}) (Message, error) {
	msg := Message{Type: kind, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Payload = raw
	}
	return msg, nil
}

// SubscriptionPayload is the payload of subscribe/unsubscribe messages.
type SubscriptionPayload struct {
	Channel string `json:"channel"`
}
