package model

import "fmt"

// MalformedEventError records a canonicalization failure for a single event.
// It is permanent: the event is skipped, siblings in the batch proceed.
type MalformedEventError struct {
	Identity EventIdentity
	Field    string
	Reason   string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event %s: field %s: %s", e.Identity, e.Field, e.Reason)
}
