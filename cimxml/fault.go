package cimxml

import (
	"errors"
	"fmt"
)

// CIM operation status codes (DSP0200 section 5.4.3).
const (
	StatusFailed                          = 1
	StatusAccessDenied                    = 2
	StatusInvalidNamespace                = 3
	StatusInvalidParameter                = 4
	StatusInvalidClass                    = 5
	StatusNotFound                        = 6
	StatusNotSupported                    = 7
	StatusClassHasChildren                = 8
	StatusClassHasInstances               = 9
	StatusInvalidSuperclass               = 10
	StatusAlreadyExists                   = 11
	StatusNoSuchProperty                  = 12
	StatusTypeMismatch                    = 13
	StatusQueryLanguageNotSupported       = 14
	StatusInvalidQuery                    = 15
	StatusMethodNotAvailable              = 16
	StatusMethodNotFound                  = 17
	StatusNamespaceNotEmpty               = 20
	StatusInvalidEnumerationContext       = 21
	StatusInvalidOperationTimeout         = 22
	StatusPullHasBeenAbandoned            = 23
	StatusPullCannotBeAbandoned           = 24
	StatusFilteredEnumerationNotSupported = 25
	StatusContinuationOnErrorNotSupported = 26
	StatusServerLimitsExceeded            = 27
	StatusServerIsShuttingDown            = 28
)

// statusNames maps status codes to their DSP0200 symbolic names.
var statusNames = map[int]string{
	StatusFailed:                          "CIM_ERR_FAILED",
	StatusAccessDenied:                    "CIM_ERR_ACCESS_DENIED",
	StatusInvalidNamespace:                "CIM_ERR_INVALID_NAMESPACE",
	StatusInvalidParameter:                "CIM_ERR_INVALID_PARAMETER",
	StatusInvalidClass:                    "CIM_ERR_INVALID_CLASS",
	StatusNotFound:                        "CIM_ERR_NOT_FOUND",
	StatusNotSupported:                    "CIM_ERR_NOT_SUPPORTED",
	StatusClassHasChildren:                "CIM_ERR_CLASS_HAS_CHILDREN",
	StatusClassHasInstances:               "CIM_ERR_CLASS_HAS_INSTANCES",
	StatusInvalidSuperclass:               "CIM_ERR_INVALID_SUPERCLASS",
	StatusAlreadyExists:                   "CIM_ERR_ALREADY_EXISTS",
	StatusNoSuchProperty:                  "CIM_ERR_NO_SUCH_PROPERTY",
	StatusTypeMismatch:                    "CIM_ERR_TYPE_MISMATCH",
	StatusQueryLanguageNotSupported:       "CIM_ERR_QUERY_LANGUAGE_NOT_SUPPORTED",
	StatusInvalidQuery:                    "CIM_ERR_INVALID_QUERY",
	StatusMethodNotAvailable:              "CIM_ERR_METHOD_NOT_AVAILABLE",
	StatusMethodNotFound:                  "CIM_ERR_METHOD_NOT_FOUND",
	StatusNamespaceNotEmpty:               "CIM_ERR_NAMESPACE_NOT_EMPTY",
	StatusInvalidEnumerationContext:       "CIM_ERR_INVALID_ENUMERATION_CONTEXT",
	StatusInvalidOperationTimeout:         "CIM_ERR_INVALID_OPERATION_TIMEOUT",
	StatusPullHasBeenAbandoned:            "CIM_ERR_PULL_HAS_BEEN_ABANDONED",
	StatusPullCannotBeAbandoned:           "CIM_ERR_PULL_CANNOT_BE_ABANDONED",
	StatusFilteredEnumerationNotSupported: "CIM_ERR_FILTERED_ENUMERATION_NOT_SUPPORTED",
	StatusContinuationOnErrorNotSupported: "CIM_ERR_CONTINUATION_ON_ERROR_NOT_SUPPORTED",
	StatusServerLimitsExceeded:            "CIM_ERR_SERVER_LIMITS_EXCEEDED",
	StatusServerIsShuttingDown:            "CIM_ERR_SERVER_IS_SHUTTING_DOWN",
}

// StatusName returns the DSP0200 symbolic name of a status code, or
// "CIM_ERR_<n>" for codes outside the defined range.
func StatusName(code int) string {
	if name, ok := statusNames[code]; ok {
		return name
	}
	return fmt.Sprintf("CIM_ERR_%d", code)
}

// Fault is a CIM operation fault: the server answered HTTP 200 but the
// payload carries an ERROR element. Callers branch on Code rather than
// matching the description text.
type Fault struct {
	// Code is the numeric CIM status code.
	Code int

	// Description is the server-supplied human-readable description.
	Description string

	// Instances holds optional extended-error instances.
	Instances []Instance
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.Description == "" {
		return fmt.Sprintf("cim fault: %s (%d)", StatusName(f.Code), f.Code)
	}
	return fmt.Sprintf("cim fault: %s (%d): %s", StatusName(f.Code), f.Code, f.Description)
}

// IsNotFound reports whether the fault indicates the target does not exist.
func (f *Fault) IsNotFound() bool {
	return f.Code == StatusNotFound
}

// IsAccessDenied reports whether the fault indicates access was denied.
func (f *Fault) IsAccessDenied() bool {
	return f.Code == StatusAccessDenied
}

// IsNotSupported reports whether the fault indicates the operation is not
// supported by the server.
func (f *Fault) IsNotSupported() bool {
	return f.Code == StatusNotSupported
}

// IsInvalidEnumerationContext reports whether the fault indicates a stale
// or unknown enumeration context token.
func (f *Fault) IsInvalidEnumerationContext() bool {
	return f.Code == StatusInvalidEnumerationContext
}

// IsFault reports whether err is (or wraps) a CIM operation fault.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}

// MalformedResponseError reports a payload the server delivered with HTTP
// 200 that is not valid CIM-XML for the requested operation. It is
// distinct from a Fault: the server responded, but the response cannot be
// decoded.
type MalformedResponseError struct {
	// Reason describes what was wrong with the payload.
	Reason string

	// Err is the underlying parse error, if any.
	Err error
}

// Error implements the error interface.
func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cimxml: malformed response: %s: %v", e.Reason, e.Err)
	}
	return "cimxml: malformed response: " + e.Reason
}

// Unwrap returns the underlying parse error.
func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// IsMalformedResponse reports whether err is (or wraps) a malformed
// response error.
func IsMalformedResponse(err error) bool {
	var m *MalformedResponseError
	return errors.As(err, &m)
}

func malformed(reason string, err error) *MalformedResponseError {
	return &MalformedResponseError{Reason: reason, Err: err}
}
