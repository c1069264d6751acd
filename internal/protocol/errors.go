package protocol

import "fmt"

// EncodingError reports input that cannot be represented on the wire. It is
// always returned before anything is written to a connection.
type EncodingError struct {
	Field  string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("cannot encode %s: %s", e.Field, e.Reason)
}

func encodingErrorf(field, format string, args ...interface{}) *EncodingError {
	return &EncodingError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
