package service

import "fmt"

// ErrorKind classifies which phase of the extraction workflow failed.
type ErrorKind string

const (
	ErrKindConfiguration ErrorKind = "configuration"
	ErrKindUpload        ErrorKind = "upload"
	ErrKindTaskCreation  ErrorKind = "task_creation"
	ErrKindPollTimeout   ErrorKind = "poll_timeout"
	ErrKindTaskFailed    ErrorKind = "task_failed"
	ErrKindInternal      ErrorKind = "internal"
)

// ProcessError is the only error type Process returns. Callers can branch
// on Kind instead of parsing messages.
type ProcessError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// apiError is a logical failure reported in the provider's JSON envelope.
// It is terminal: retrying the same request will not change the answer.
type apiError struct {
	code int
	msg  string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("MinerU API error (code %d): %s", e.code, e.msg)
}
