package logic

import "time"

// Confirm filters a raw boolean sample stream. It returns true only once
// sample has stayed true for at least hold since the cursor was armed; a
// true blip shorter than hold never confirms.
//
// The first true sample with an unarmed cursor arms it at now+hold. Once
// the deadline has passed, a true sample confirms and leaves the cursor
// armed, and a false sample disarms it. Until then Confirm returns false.
//
// Elapsed time is compared by subtraction, not by ordering absolute
// timestamps, so the comparison does not depend on the clock's epoch.
func Confirm(sample bool, c *Cursor, hold time.Duration, now time.Time) bool {
	if !c.Armed() && sample {
		c.at = now.Add(hold)
	}
	if c.Armed() && now.Sub(c.at) >= 0 {
		if sample {
			return true
		}
		c.Reset()
	}
	return false
}

// Channel tracks one debounced input and reports edges of the confirmed
// signal. The zero Channel is ready to use.
type Channel struct {
	Cursor    Cursor
	confirmed bool
}

// Process feeds one sample and returns the confirmed level and the edge,
// if any, caused by this sample.
func (ch *Channel) Process(sample bool, hold time.Duration, now time.Time) (bool, Edge) {
	level := Confirm(sample, &ch.Cursor, hold, now)
	edge := EdgeNone
	switch {
	case level && !ch.confirmed:
		edge = EdgeRise
	case !level && ch.confirmed:
		edge = EdgeFall
	}
	ch.confirmed = level
	return level, edge
}

// Confirmed returns the level reported by the last Process call.
func (ch *Channel) Confirmed() bool {
	return ch.confirmed
}
