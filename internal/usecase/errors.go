package usecase

import "fmt"

type ErrorCode string

const (
	ErrorMalformedSubject ErrorCode = "MALFORMED_SUBJECT"
	ErrorInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrorRateLimited      ErrorCode = "RATE_LIMITED"
	ErrorDelivery         ErrorCode = "DELIVERY_ERROR"
	ErrorInternal         ErrorCode = "INTERNAL_ERROR"
)

// Stage names the pipeline step a request reached.
type Stage string

const (
	StageReceived     Stage = "received"
	StageParsed       Stage = "parsed"
	StageRangeChecked Stage = "range_checked"
	StageQueried      Stage = "queried"
	StageFormatted    Stage = "formatted"
	StageSent         Stage = "sent"
)

// Error is a failed request. Detail is safe to show to the requester; Err
// and Reason are for logs.
type Error struct {
	Code   ErrorCode
	Reason string
	Detail string
	Stage  Stage
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s) at %s", e.Code, e.Reason, e.Stage)
	}
	return fmt.Sprintf("usecase: %s (%s) at %s: %v", e.Code, e.Reason, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, stage Stage, err error) *Error {
	return &Error{Code: code, Reason: reason, Stage: stage, Err: err}
}
