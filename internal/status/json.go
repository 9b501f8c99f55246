package status

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/iot-module/internal/param"
)

// EventJSON is the MQTT payload of a system event that carries the full
// status document.
type EventJSON struct {
	Event     string          `json:"event"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp string          `json:"timestamp"`
	Mode      string          `json:"mode"`
	State     json.RawMessage `json:"State"`
	Settings  json.RawMessage `json:"Settings"`
}

// FormatStatusEvent returns the JSON payload for an MQTT system event.
func FormatStatusEvent(state, settings *param.Store, event, reason, mode string, now time.Time) ([]byte, error) {
	return encodeEvent(EventJSON{
		Event:     event,
		Reason:    reason,
		Timestamp: now.UTC().Format(time.RFC3339),
		Mode:      mode,
		State:     json.RawMessage(state.JSON()),
		Settings:  json.RawMessage(settings.JSON()),
	})
}

func encodeEvent(payload EventJSON) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", payload.Event, err)
	}
	return data, nil
}
