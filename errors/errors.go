package errors

import (
	errs "errors"
	"fmt"
	"runtime"
	"strings"
)

type ErrorLevel string

func (e ErrorLevel) String() string {
	return string(e)
}

const (
	ERR_SCHEDULE_PARSE ErrorLevel = "schedule_parse"
	ERR_EVALUATION     ErrorLevel = "evaluation"
	ERR_JOB_EXECUTION  ErrorLevel = "job_execution"
	ERR_LIFECYCLE      ErrorLevel = "lifecycle"
	ERR_VALIDATION     ErrorLevel = "validation"
	ERR_INFRASTRUCTURE ErrorLevel = "infrastructure"
	ERR_UNKNOWN        ErrorLevel = "unknown"
)

// ExtendError attaches a level, an optional code and metadata to an error.
// The wrapped error stays reachable through Unwrap.
type ExtendError struct {
	Level      ErrorLevel     `json:"level"`
	Err        error          `json:"error"`
	Code       string         `json:"code,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	StackTrace string         `json:"-"`
}

func (e *ExtendError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	msg := e.Err.Error()
	if e.Code != "" {
		msg = fmt.Sprintf("[%s] %s", e.Code, msg)
	}
	return msg
}

func (e *ExtendError) Unwrap() error {
	return e.Err
}

func (e *ExtendError) WithCode(code string) *ExtendError {
	e.Code = code
	return e
}

func (e *ExtendError) WithMetadata(key string, value any) *ExtendError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

func New(message string) error {
	return errs.New(message)
}

func Is(err, target error) bool {
	return errs.Is(err, target)
}

func As(err error, target any) bool {
	return errs.As(err, target)
}

func Join(errors ...error) error {
	return errs.Join(errors...)
}

func IsExtendError(err error) bool {
	var extendErr *ExtendError
	return errs.As(err, &extendErr)
}

func captureStackTrace() string {
	var sb strings.Builder
	// Skip 3 frames: captureStackTrace, wrap, and the level constructor.
	for i := 3; i < 15; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fmt.Fprintf(&sb, "%s:%d\n", file, line)
	}
	return sb.String()
}

// wrap keeps an existing top-level ExtendError so its code and metadata
// survive re-wrapping. A nested one is wrapped again under the new level.
func wrap(err error, level ErrorLevel) *ExtendError {
	if extendErr, ok := err.(*ExtendError); ok && extendErr != nil {
		return extendErr
	}
	return &ExtendError{
		Level:      level,
		Err:        err,
		StackTrace: captureStackTrace(),
	}
}

// ScheduleParseError marks a malformed cron expression. It is only ever
// raised at registration time.
func ScheduleParseError(err error) *ExtendError {
	return wrap(err, ERR_SCHEDULE_PARSE)
}

// EvaluationError marks a schedule that could not produce a next instant.
// It is fatal to the owning job loop only.
func EvaluationError(err error) *ExtendError {
	return wrap(err, ERR_EVALUATION)
}

// JobExecutionFailure records an opaque failure returned by a job's work unit.
func JobExecutionFailure(err error) *ExtendError {
	return wrap(err, ERR_JOB_EXECUTION)
}

func LifecycleError(err error) *ExtendError {
	return wrap(err, ERR_LIFECYCLE)
}

func ValidationError(err error) *ExtendError {
	return wrap(err, ERR_VALIDATION)
}

func InfraError(err error) *ExtendError {
	return wrap(err, ERR_INFRASTRUCTURE)
}

func UnknownError(err error) *ExtendError {
	return wrap(err, ERR_UNKNOWN)
}

// GetLevel returns the level of the outermost ExtendError in err's chain.
func GetLevel(err error) ErrorLevel {
	var extendErr *ExtendError
	if errs.As(err, &extendErr) && extendErr != nil {
		return extendErr.Level
	}
	return ERR_UNKNOWN
}

func hasLevel(err error, level ErrorLevel) bool {
	for err != nil {
		if extendErr, ok := err.(*ExtendError); ok && extendErr != nil && extendErr.Level == level {
			return true
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				if hasLevel(e, level) {
					return true
				}
			}
			return false
		}
		err = errs.Unwrap(err)
	}
	return false
}

func IsScheduleParseError(err error) bool {
	return hasLevel(err, ERR_SCHEDULE_PARSE)
}

func IsEvaluationError(err error) bool {
	return hasLevel(err, ERR_EVALUATION)
}

func IsJobExecutionFailure(err error) bool {
	return hasLevel(err, ERR_JOB_EXECUTION)
}

func IsLifecycleError(err error) bool {
	return hasLevel(err, ERR_LIFECYCLE)
}

func IsValidationError(err error) bool {
	return hasLevel(err, ERR_VALIDATION)
}

func IsInfraError(err error) bool {
	return hasLevel(err, ERR_INFRASTRUCTURE)
}
