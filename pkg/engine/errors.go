package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a gate error.
type ErrorKind string

const (
	// ErrorKindIngestNotFound indicates the plan artifact does not exist.
	ErrorKindIngestNotFound ErrorKind = "ingest_not_found"

	// ErrorKindIngestMalformed indicates the plan artifact is not valid plan JSON.
	ErrorKindIngestMalformed ErrorKind = "ingest_malformed"

	// ErrorKindPolicyCompile indicates the policy source failed to compile.
	ErrorKindPolicyCompile ErrorKind = "policy_compile"

	// ErrorKindPolicyEval indicates policy evaluation failed or timed out.
	ErrorKindPolicyEval ErrorKind = "policy_eval"

	// ErrorKindContextWarning indicates a context signal failed open.
	ErrorKindContextWarning ErrorKind = "context_warning"

	// ErrorKindIntentDegraded indicates intent validation fell back to keyword mode.
	ErrorKindIntentDegraded ErrorKind = "intent_degraded"
)

// IsFatal reports whether errors of this kind abort the evaluation.
func (k ErrorKind) IsFatal() bool {
	switch k {
	case ErrorKindIngestNotFound, ErrorKindIngestMalformed,
		ErrorKindPolicyCompile, ErrorKindPolicyEval:
		return true
	default:
		return false
	}
}

// GateError is a classified pipeline error.
// nolint:revive // GateError is intentionally named to distinguish from standard errors
type GateError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Path is the file involved, if any.
	Path string `json:"path,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *GateError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path=%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *GateError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *GateError) Is(target error) bool {
	t, ok := target.(*GateError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail adds a detail field to the error context.
func (e *GateError) WithDetail(key string, value interface{}) *GateError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Sentinel values for errors.Is.
var (
	ErrIngestNotFound  = &GateError{Kind: ErrorKindIngestNotFound}
	ErrIngestMalformed = &GateError{Kind: ErrorKindIngestMalformed}
	ErrPolicyCompile   = &GateError{Kind: ErrorKindPolicyCompile}
	ErrPolicyEval      = &GateError{Kind: ErrorKindPolicyEval}
)

// NewIngestNotFoundError creates an error for a missing plan artifact.
func NewIngestNotFoundError(path string, err error) *GateError {
	return &GateError{
		Kind:    ErrorKindIngestNotFound,
		Message: "plan file not found",
		Path:    path,
		Err:     err,
	}
}

// NewIngestMalformedError creates an error for unparseable plan content.
func NewIngestMalformedError(message string, err error) *GateError {
	return &GateError{
		Kind:    ErrorKindIngestMalformed,
		Message: message,
		Err:     err,
	}
}

// NewPolicyCompileError creates an error for a policy that does not compile.
func NewPolicyCompileError(message string, err error) *GateError {
	return &GateError{
		Kind:    ErrorKindPolicyCompile,
		Message: message,
		Err:     err,
	}
}

// NewPolicyEvalError creates an error for a failed policy evaluation.
func NewPolicyEvalError(message string, err error) *GateError {
	return &GateError{
		Kind:    ErrorKindPolicyEval,
		Message: message,
		Err:     err,
	}
}

// kindOf extracts the kind of a GateError in the chain.
func kindOf(err error) (ErrorKind, bool) {
	var e *GateError
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsFatal returns true if the error aborts the evaluation.
// Unclassified errors are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	kind, ok := kindOf(err)
	if !ok {
		return true
	}
	return kind.IsFatal()
}

// IsIngest returns true if the error came from plan ingestion.
func IsIngest(err error) bool {
	kind, ok := kindOf(err)
	return ok && (kind == ErrorKindIngestNotFound || kind == ErrorKindIngestMalformed)
}

// IsPolicy returns true if the error came from policy compilation or evaluation.
func IsPolicy(err error) bool {
	kind, ok := kindOf(err)
	return ok && (kind == ErrorKindPolicyCompile || kind == ErrorKindPolicyEval)
}

// Warning is a non-fatal degradation carried on the report.
type Warning struct {
	Kind    ErrorKind `json:"kind"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
}

// NewContextWarning creates a warning for a context signal that failed open.
func NewContextWarning(source, message string) Warning {
	return Warning{Kind: ErrorKindContextWarning, Source: source, Message: message}
}

// NewIntentDegradedWarning creates a warning for an intent fallback.
func NewIntentDegradedWarning(message string) Warning {
	return Warning{Kind: ErrorKindIntentDegraded, Source: "intent", Message: message}
}

// String implements fmt.Stringer.
func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Source, w.Message)
}
