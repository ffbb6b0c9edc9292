package observability

import (
	"errors"
	"fmt"
)

// AggregateErrors joins the non-nil errors of a multi-step operation, logs them once
// and returns the joined error. It returns nil when every step succeeded.
func AggregateErrors(operation string, errs []error, fields ...Field) error {
	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	joined := errors.Join(failed...)
	logFields := append([]Field{F("operation", operation), F("error_count", len(failed))}, fields...)
	logFields = append(logFields, F("error", joined))
	Log().Error("operation failed", logFields...)
	return fmt.Errorf("%s: %w", operation, joined)
}
