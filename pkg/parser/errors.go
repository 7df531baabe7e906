package parser

import "errors"

var (
	// ErrNoMarker is returned when a line carries none of the event kind markers.
	ErrNoMarker = errors.New("parser: no event marker")

	// ErrMissingTimestamp is returned when the ts: field is absent or not an integer.
	ErrMissingTimestamp = errors.New("parser: missing client timestamp")

	// ErrMalformedShape is returned when the [dims] descriptor is absent or invalid.
	ErrMalformedShape = errors.New("parser: malformed shape descriptor")

	// ErrMalformedPayload is returned when the value payload does not parse or
	// does not fit the declared shape.
	ErrMalformedPayload = errors.New("parser: malformed payload")

	// ErrMissingMode is returned when a mode change has no mode: label.
	ErrMissingMode = errors.New("parser: missing mode label")
)

// rejectReason maps a line rejection to a stable label for stats and metrics.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrNoMarker):
		return "no_marker"
	case errors.Is(err, ErrMissingTimestamp):
		return "missing_timestamp"
	case errors.Is(err, ErrMalformedShape):
		return "malformed_shape"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrMissingMode):
		return "missing_mode"
	default:
		return "other"
	}
}
