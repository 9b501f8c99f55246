// Package logic contains pure signal-processing logic for device inputs.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Cursor is the caller-owned timer of a debounced input: the instant at
// which the current candidate pulse is confirmed. The zero Cursor means no
// candidate is pending. Each input channel needs its own Cursor.
type Cursor struct {
	at time.Time
}

// Armed reports whether a candidate pulse is pending or confirmed.
func (c Cursor) Armed() bool {
	return !c.at.IsZero()
}

// Deadline returns the confirmation instant, or the zero time if unarmed.
func (c Cursor) Deadline() time.Time {
	return c.at
}

// Reset disarms the cursor.
func (c *Cursor) Reset() {
	c.at = time.Time{}
}

// Edge is a change of a confirmed signal.
type Edge string

const (
	EdgeNone Edge = ""
	EdgeRise Edge = "RISE"
	EdgeFall Edge = "FALL"
)
