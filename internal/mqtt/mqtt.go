// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"
)

// DefaultTopicPrefix is used when no prefix is configured; the module host
// name is appended to it.
const DefaultTopicPrefix = "iot"

// Topics are the MQTT topics a device publishes to.
type Topics struct {
	// Events receives application events such as MOTION_START.
	Events string
	// System receives lifecycle events (STARTUP, SHUTDOWN, HEARTBEAT, ...).
	System string
}

// TopicsFor returns the topics under prefix, e.g. "iot/node-1/events".
func TopicsFor(prefix string) Topics {
	return Topics{
		Events: prefix + "/events",
		System: prefix + "/system",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends an application event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Event is an application event, e.g. a debounced input changing level.
type Event struct {
	Timestamp time.Time
	Source    string // e.g. "motion"
	Type      string // e.g. "MOTION_START"
	Value     bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "UPLOAD_ERROR"
	Reason     string // e.g., "SIGTERM", "timeout", "Authentication failed"
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for application events.
type Payload struct {
	Event EventPayload `json:"event"`
}

// EventPayload contains the application event details.
type EventPayload struct {
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
	Type      string `json:"type"`
	Value     bool   `json:"value"`
}

// FormatPayload creates the JSON payload for an application event.
func FormatPayload(event Event) ([]byte, error) {
	payload := Payload{
		Event: EventPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Source:    event.Source,
			Type:      event.Type,
			Value:     event.Value,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED, UPLOAD_ERROR) that don't carry a full status document.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status documents).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{
		Event:  event.Event,
		Reason: event.Reason,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}

// Discard is a Publisher that drops everything. Used when no broker is configured.
type Discard struct{}

// Publish drops the event.
func (Discard) Publish(Event) error { return nil }

// PublishSystem drops the event.
func (Discard) PublishSystem(SystemEvent) error { return nil }

// Close does nothing.
func (Discard) Close() error { return nil }

// IsConnected always reports false.
func (Discard) IsConnected() bool { return false }
