package mqtt

import "log"

// outboxMsg is one publish call captured with everything needed to repeat it.
type outboxMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds publishes made while the broker is unreachable so the
// connect handler can replay them in their original order. It keeps the
// most recent messages: once all slots are taken, each new message
// evicts the oldest one. Callers serialize access through RealPublisher.mu.
type outbox struct {
	slots   []outboxMsg
	oldest  int // slot of the oldest queued message
	count   int
	dropped int // evictions since the last replay
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{slots: make([]outboxMsg, capacity)}
}

func (o *outbox) push(msg outboxMsg) {
	size := len(o.slots)
	if o.count < size {
		o.slots[(o.oldest+o.count)%size] = msg
		o.count++
		return
	}

	if o.dropped == 0 {
		log.Printf("mqtt: outbox full (%d messages), dropping oldest", size)
	}
	o.dropped++
	o.slots[o.oldest] = msg
	o.oldest = (o.oldest + 1) % size
}

// drain hands back the queued messages for replay and resets the outbox.
func (o *outbox) drain() []outboxMsg {
	if o.count == 0 {
		return nil
	}

	size := len(o.slots)
	out := make([]outboxMsg, 0, o.count)
	for i := 0; i < o.count; i++ {
		idx := (o.oldest + i) % size
		out = append(out, o.slots[idx])
		o.slots[idx] = outboxMsg{}
	}

	*o = outbox{slots: o.slots}
	return out
}

func (o *outbox) len() int {
	return o.count
}
