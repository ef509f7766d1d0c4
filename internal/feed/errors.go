package feed

import (
	"fmt"

	"cuelang.org/go/cue/token"
)

// Error codes reported by Load and Validate.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // Read or CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build or YAML parse failed
	ErrCodeUnsupported = "E007" // Unknown file extension

	ErrCodeMissingGroup    = "E201" // Batch without group_id
	ErrCodeUnknownOp       = "E202" // Unrecognized operation
	ErrCodeEmptyBatch      = "E203" // Batch without events
	ErrCodeMissingInstance = "E204" // Event without instance_id
	ErrCodeDuplicateBatch  = "E205" // batch_id used twice
)

// LoadError is a feed loading or validation problem.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
