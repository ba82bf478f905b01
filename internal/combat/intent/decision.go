package intent

import (
	"github.com/ttrpg-tools/crossfire/internal/combat/event"
	"github.com/ttrpg-tools/crossfire/internal/platform/errors"
)

// Decision represents the pure outcome of handling an intent.
type Decision struct {
	Events     []event.Event
	Rejections []Rejection
}

// Rejection captures a combat-rule reason an intent was declined.
type Rejection struct {
	Code     errors.Code
	Message  string
	Metadata map[string]string
}

// Accept returns a decision that emits the provided events.
func Accept(events ...event.Event) Decision {
	return Decision{Events: append([]event.Event(nil), events...)}
}

// Reject returns a decision that carries the provided rejections.
func Reject(rejections ...Rejection) Decision {
	return Decision{Rejections: append([]Rejection(nil), rejections...)}
}

// RejectError converts a structured error into a rejection decision,
// preserving its code and metadata for localization at the edge.
func RejectError(err error) Decision {
	return Reject(Rejection{
		Code:     errors.CodeOf(err),
		Message:  err.Error(),
		Metadata: errors.MetadataOf(err),
	})
}

// Accepted reports whether the decision carries no rejections.
func (d Decision) Accepted() bool {
	return len(d.Rejections) == 0
}

// Err converts the decision's first rejection back into a structured error,
// or nil for accepted decisions.
func (d Decision) Err() error {
	if len(d.Rejections) == 0 {
		return nil
	}
	first := d.Rejections[0]
	return errors.WithMetadata(first.Code, first.Message, first.Metadata)
}
