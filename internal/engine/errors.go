package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/eventq/internal/ir"
)

// InvariantError reports a contract breach detected by the merge engine.
//
// Invariant errors mean either the producer delivered an impossible event
// sequence or the merge engine itself is wrong. Continuing would risk
// applying changes out of order, so Add returns them to the caller, which
// must treat them as fatal for the stream.
type InvariantError struct {
	// Code identifies the violated invariant.
	Code InvariantCode

	// Message is a human-readable description.
	Message string

	// BatchID is the incoming batch being merged.
	BatchID string

	// Key is the entity the violation was detected for.
	Key ir.EntityKey

	// Err is the underlying cause, if any.
	Err error
}

// InvariantCode categorizes invariant violations.
type InvariantCode string

const (
	// ErrCodeUpdateAfterDelete: an UPDATE arrived for an entity whose
	// pending operation is a DELETE in the same group.
	ErrCodeUpdateAfterDelete InvariantCode = "UPDATE_AFTER_DELETE"

	// ErrCodeImpossibleCombination: the pending and incoming modification
	// kinds have no rule in the merge table.
	ErrCodeImpossibleCombination InvariantCode = "IMPOSSIBLE_COMBINATION"

	// ErrCodeMissingEvent: a batch asked to classify an entity holds no
	// event for it.
	ErrCodeMissingEvent InvariantCode = "MISSING_EVENT"

	// ErrCodeUnknownOperation: an event carries an unrecognized operation.
	ErrCodeUnknownOperation InvariantCode = "UNKNOWN_OPERATION"
)

// Error implements the error interface.
func (e *InvariantError) Error() string {
	msg := fmt.Sprintf("%s: %s (batch=%s, entity=%s)", e.Code, e.Message, e.BatchID, e.Key)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *InvariantError) Unwrap() error {
	return e.Err
}

// IsInvariantError returns true if err is (or wraps) an InvariantError.
func IsInvariantError(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

// InvariantCodeOf returns the code of the InvariantError in err's chain,
// or "" if there is none.
func InvariantCodeOf(err error) InvariantCode {
	var ie *InvariantError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// classifyError turns an ir classification failure into an InvariantError.
func classifyError(batchID string, key ir.EntityKey, err error) *InvariantError {
	code := ErrCodeMissingEvent
	if errors.Is(err, ir.ErrUnknownOperation) {
		code = ErrCodeUnknownOperation
	}
	return &InvariantError{
		Code:    code,
		Message: "cannot classify modification",
		BatchID: batchID,
		Key:     key,
		Err:     err,
	}
}

// Transient action failures. A queue action that fails because the remote
// side is unreachable should wrap one of these; the queue then logs the
// failure quietly and waits for the producer to deliver again.
var (
	// ErrConnection: the connection to the server failed or was lost.
	ErrConnection = errors.New("connection error")

	// ErrServiceUnavailable: the server (or local store) is temporarily
	// unable to serve the request.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// IsTransient reports whether err is one of the recognized transient
// failure kinds.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrServiceUnavailable)
}

// FailureKind returns a short label for an action failure, used for
// metrics and traces: "connection", "service_unavailable" or "unexpected".
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrServiceUnavailable):
		return "service_unavailable"
	default:
		return "unexpected"
	}
}

// PanicError wraps a value recovered from a panicking queue action.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("queue action panicked: %v", e.Value)
}
