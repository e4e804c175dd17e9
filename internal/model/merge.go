package model

// Decision is the outcome of matching an incoming status event against the
// record currently stored under its correlation key.
type Decision int

const (
	// Insert: no record exists yet, create one from the event.
	Insert Decision = iota
	// Apply: advance the existing record to the event's status.
	Apply
	// Discard: the event is a duplicate, superseded, or would regress a
	// terminal status. Safe to acknowledge, nothing to persist.
	Discard
)

func (d Decision) String() string {
	switch d {
	case Insert:
		return "insert"
	case Apply:
		return "apply"
	case Discard:
		return "discard"
	default:
		return "unknown"
	}
}

// Merge decides what an incoming event does to the existing record, if any.
// Rules, in order:
//
//   - no existing record: insert
//   - existing status is terminal: discard (terminal is sticky)
//   - incoming status is terminal: apply, even if the event's timestamp is
//     older than the last applied one (terminal is authoritative)
//   - incoming event older than the last applied event: discard
//   - otherwise: apply
//
// Merge is safe under replay: a re-delivered event either discards or
// re-applies the status and timestamp already stored, so the record never
// changes.
func Merge(existing *Message, ev StatusEvent) Decision {
	if existing == nil {
		return Insert
	}
	if existing.Status.Terminal() {
		return Discard
	}
	if ev.Status.Terminal() {
		return Apply
	}
	if ev.EventTime.Before(existing.LastEventAt) {
		return Discard
	}
	return Apply
}
