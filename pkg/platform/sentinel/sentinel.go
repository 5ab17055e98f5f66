package sentinel

import "errors"

// ErrUnavailable marks a backend as temporarily unreachable; safe to retry.
// Health checks wrap their ping failures in it so callers can distinguish
// backend loss from query-level failures. Absent records are not an error in
// this system: store read paths return nil for a missing or expired record.
var ErrUnavailable = errors.New("unavailable")
