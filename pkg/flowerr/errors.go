// Package flowerr holds the error taxonomy shared by every pipeline stage.
package flowerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrProcess       = errors.New("measurement process failed")
	ErrParse         = errors.New("unparseable sample")
	ErrQueryStatus   = errors.New("metrics query reported failure")
	ErrNoData        = errors.New("metrics query returned no data")
	ErrDivision      = errors.New("invalid ratio denominator")
	ErrInvalidSample = errors.New("invalid measured sample")
	ErrPublish       = errors.New("publish rejected")
	ErrNetwork       = errors.New("network failure")
	ErrBusy          = errors.New("interface locked by another run")
)

// ProcessError carries the captured output of a failed measurement process.
// ExitCode is -1 when the process never ran to completion.
type ProcessError struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "measurement process failed (exit code %d)", e.ExitCode)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if s := strings.TrimSpace(e.Stdout); s != "" {
		fmt.Fprintf(&b, "\nSTDOUT: %s", s)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, "\nSTDERR: %s", s)
	}
	return b.String()
}

func (e *ProcessError) Is(target error) bool { return target == ErrProcess }

func (e *ProcessError) Unwrap() error { return e.Err }

// QueryStatusError is returned when the metrics store answers without the
// "success" status marker.
type QueryStatusError struct {
	Status     string
	ErrorType  string
	Message    string
	HTTPStatus int
}

func (e *QueryStatusError) Error() string {
	msg := fmt.Sprintf("metrics query status %q", e.Status)
	if e.HTTPStatus != 0 {
		msg += fmt.Sprintf(" (http %d)", e.HTTPStatus)
	}
	if e.ErrorType != "" || e.Message != "" {
		msg += fmt.Sprintf(": %s: %s", e.ErrorType, e.Message)
	}
	return msg
}

func (e *QueryStatusError) Is(target error) bool { return target == ErrQueryStatus }

// PublishError carries the HTTP status observed from the ingestion endpoint.
type PublishError struct {
	StatusCode int
	Body       string
}

func (e *PublishError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ingestion endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("ingestion endpoint returned status %d: %s", e.StatusCode, e.Body)
}

func (e *PublishError) Is(target error) bool { return target == ErrPublish }

// StageError ties a failure to the interface and pipeline stage it happened in.
type StageError struct {
	Interface string
	Stage     string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("interface %s: %s: %v", e.Interface, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Kind returns the taxonomy name of err, or "unknown".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProcess):
		return "ProcessError"
	case errors.Is(err, ErrParse):
		return "ParseError"
	case errors.Is(err, ErrQueryStatus):
		return "QueryStatusError"
	case errors.Is(err, ErrNoData):
		return "NoDataError"
	case errors.Is(err, ErrDivision):
		return "DivisionError"
	case errors.Is(err, ErrInvalidSample):
		return "InvalidSampleError"
	case errors.Is(err, ErrPublish):
		return "PublishError"
	case errors.Is(err, ErrNetwork):
		return "NetworkError"
	case errors.Is(err, ErrBusy):
		return "BusyError"
	default:
		return "unknown"
	}
}
