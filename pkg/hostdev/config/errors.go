// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package config

import "github.com/pkg/errors"

// Kind classifies a hostdev-manager error so that callers can branch on it
// without parsing messages.
type Kind int

const (
	// KindInternal marks an invariant violation; it should never occur in
	// a correct caller.
	KindInternal Kind = iota

	// KindOperationInvalid marks a device that is in use or not
	// assignable under the requested policy.
	KindOperationInvalid

	// KindOperationFailed marks an I/O or state-directory failure.
	KindOperationFailed

	// KindConfigUnsupported marks an unsupported port-profile type,
	// VLAN/virt-port combination, or non-VF interface hostdev.
	KindConfigUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindOperationInvalid:
		return "OPERATION_INVALID"
	case KindOperationFailed:
		return "OPERATION_FAILED"
	case KindConfigUnsupported:
		return "CONFIG_UNSUPPORTED"
	default:
		return "INTERNAL"
	}
}

// Error is the error type returned across the hostdev manager's public
// surface. It carries a Kind in addition to the usual message/cause chain.
type Error struct {
	kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.kind.String()
	}
	return e.kind.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// Code returns the error's Kind.
func (e *Error) Code() Kind { return e.kind }

// newError wraps msg (formatted per format/args) as a Kind-tagged error.
func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, cause: errors.Errorf(format, args...)}
}

// wrapError wraps an existing error with a Kind and additional context.
func wrapError(kind Kind, cause error, context string) *Error {
	return &Error{kind: kind, cause: errors.Wrap(cause, context)}
}

// Invalid builds a KindOperationInvalid error.
func Invalid(format string, args ...interface{}) *Error {
	return newError(KindOperationInvalid, format, args...)
}

// Failed builds a KindOperationFailed error.
func Failed(format string, args ...interface{}) *Error {
	return newError(KindOperationFailed, format, args...)
}

// FailedFrom wraps cause as a KindOperationFailed error.
func FailedFrom(cause error, context string) *Error {
	return wrapError(KindOperationFailed, cause, context)
}

// Unsupported builds a KindConfigUnsupported error.
func Unsupported(format string, args ...interface{}) *Error {
	return newError(KindConfigUnsupported, format, args...)
}

// Internal builds a KindInternal error.
func Internal(format string, args ...interface{}) *Error {
	return newError(KindInternal, format, args...)
}

// CodeOf returns the Kind of err if it is (or wraps) an *Error, and
// KindInternal otherwise.
func CodeOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Code()
	}
	return KindInternal
}
