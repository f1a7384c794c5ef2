// Package rpc holds the error shape returned by backend service calls.
package rpc

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodeInvalidArgument = "invalid_argument"
	CodeUnauthenticated = "unauthenticated"
	CodeNotFound        = "not_found"
	CodeInternal        = "internal"
)

// Error is a failed service call. Meta carries per-field details, for
// validation failures the offending paths.
type Error struct {
	Code    string
	Message string
	Meta    map[string]string
	Service string
	Method  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s.%s: %s: %s", e.Service, e.Method, e.Code, e.Message)
}

func InvalidArgument(service, method, message string, meta map[string]string) *Error {
	return &Error{
		Code:    CodeInvalidArgument,
		Message: message,
		Meta:    meta,
		Service: service,
		Method:  method,
	}
}

// maxUnwrap bounds the cause chain walked by Find.
const maxUnwrap = 50

// Find returns the first *Error in err's cause chain, following at most
// 50 Unwrap steps.
func Find(err error) (*Error, bool) {
	for depth := 0; err != nil && depth <= maxUnwrap; depth++ {
		if rpcErr, ok := err.(*Error); ok && rpcErr != nil {
			return rpcErr, true
		}
		err = errors.Unwrap(err)
	}
	return nil, false
}
