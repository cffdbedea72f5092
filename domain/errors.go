package domain

import (
	"errors"
	"fmt"
)

// Error codes
const (
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeFileNotFound        = "FILE_NOT_FOUND"
	ErrCodeParseError          = "PARSE_ERROR"
	ErrCodeParseTimeout        = "PARSE_TIMEOUT"
	ErrCodeConfigError         = "CONFIG_ERROR"
	ErrCodeCheckExecutionError = "CHECK_EXECUTION_ERROR"
	ErrCodeAnalysisError       = "ANALYSIS_ERROR"
	ErrCodeOutputError         = "OUTPUT_ERROR"
	ErrCodeUnsupportedFormat   = "UNSUPPORTED_FORMAT"
	ErrCodeStoreError          = "STORE_ERROR"
	ErrCodePolicyViolation     = "POLICY_VIOLATION"
	ErrCodeQueryTimedOut       = "QUERY_TIMED_OUT"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface
func (e DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e DomainError) Unwrap() error {
	return e.Cause
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, cause error) error {
	return DomainError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidInputError creates an invalid input error
func NewInvalidInputError(message string, cause error) error {
	return NewDomainError(ErrCodeInvalidInput, message, cause)
}

// NewFileNotFoundError creates a file not found error
func NewFileNotFoundError(path string, cause error) error {
	return NewDomainError(ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path), cause)
}

// NewParseError creates a parse error for malformed input
func NewParseError(path string, cause error) error {
	return NewDomainError(ErrCodeParseError, fmt.Sprintf("failed to parse %s", path), cause)
}

// NewParseTimeoutError is returned when an extractor exceeds its time budget.
func NewParseTimeoutError(path string, cause error) error {
	return NewDomainError(ErrCodeParseTimeout, fmt.Sprintf("parsing %s exceeded the time budget", path), cause)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) error {
	return NewDomainError(ErrCodeConfigError, message, cause)
}

// NewCheckExecutionError wraps a fault raised by a single check.
func NewCheckExecutionError(checkID string, cause error) error {
	return NewDomainError(ErrCodeCheckExecutionError, fmt.Sprintf("check %s failed", checkID), cause)
}

// NewAnalysisError creates an analysis error
func NewAnalysisError(message string, cause error) error {
	return NewDomainError(ErrCodeAnalysisError, message, cause)
}

// NewOutputError creates an output error
func NewOutputError(message string, cause error) error {
	return NewDomainError(ErrCodeOutputError, message, cause)
}

// NewUnsupportedFormatError creates an unsupported format error
func NewUnsupportedFormatError(format string) error {
	return NewDomainError(ErrCodeUnsupportedFormat, fmt.Sprintf("unsupported format: %s", format), nil)
}

// NewStoreError creates a findings store error
func NewStoreError(message string, cause error) error {
	return NewDomainError(ErrCodeStoreError, message, cause)
}

// NewPolicyViolationError reports a target rejected by the security policy.
func NewPolicyViolationError(message string) error {
	return NewDomainError(ErrCodePolicyViolation, message, nil)
}

// IsCode reports whether err, or any error it wraps, is a DomainError with code.
func IsCode(err error, code string) bool {
	var de DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
