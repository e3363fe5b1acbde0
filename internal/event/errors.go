package event

import "fmt"

// ValidationError is returned when a payload lacks a required field or the
// field has an invalid value.
type ValidationError struct {
	Kind Kind
	// Field is the dotted JSON path of the offending field, it is empty
	// when the payload as a whole is malformed.
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "missing required field"
	}

	if e.Field == "" {
		if e.Kind == "" {
			return fmt.Sprintf("invalid event payload: %s", reason)
		}
		return fmt.Sprintf("invalid %s event payload: %s", e.Kind, reason)
	}

	if e.Kind == "" {
		return fmt.Sprintf("invalid event payload: %s: %s", e.Field, reason)
	}

	return fmt.Sprintf("invalid %s event payload: %s: %s", e.Kind, e.Field, reason)
}

// UnsupportedKindError is returned for events of an unknown kind.
type UnsupportedKindError struct {
	Kind string
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("unsupported event kind: %q", e.Kind)
}
