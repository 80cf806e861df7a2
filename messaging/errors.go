// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
)

// Sentinel conditions. Structured errors below match them through
// errors.Is so callers can branch without knowing the concrete type.
var (
	// ErrSessionInvalid means the server no longer accepts the session:
	// forced logout, logout from the phone, or expired credentials.
	ErrSessionInvalid = errors.New("messaging: session invalid")

	// ErrMediaUnavailable means the referenced media does not exist on
	// the server or has expired.
	ErrMediaUnavailable = errors.New("messaging: media unavailable")

	// ErrLoginExpired means the login uuid expired before the scan was
	// confirmed. Login must restart from uuid issuance.
	ErrLoginExpired = errors.New("messaging: login uuid expired")

	// ErrLoginCanceled means the user declined the login on the phone.
	// Login must restart from uuid issuance.
	ErrLoginCanceled = errors.New("messaging: login canceled")
)

// Server return codes that mean the session is gone.
const (
	RetLoggedOut          = 1100
	RetLoggedOutElsewhere = 1101
	RetCookieInvalid      = 1102
)

// TransportError is a failure to complete an HTTP exchange: a network
// error, a per-call timeout, or a 5xx response. Transport errors are
// retryable.
type TransportError struct {
	// Op names the protocol operation (e.g., "synccheck").
	Op string
	// StatusCode is the HTTP status for 5xx responses, zero otherwise.
	StatusCode int
	// Err is the underlying cause.
	Err error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("messaging: %s: server returned %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("messaging: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a response the engine cannot act on: a 4xx status,
// a body that does not parse, or a non-zero return code that does not
// indicate session loss. Retrying the same call will not help.
type ProtocolError struct {
	Op         string
	StatusCode int
	// Ret is the server return code (BaseResponse.Ret, login ret, or
	// synccheck retcode) when the body carried one.
	Ret     int
	Message string
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Ret != 0:
		return fmt.Sprintf("messaging: %s: ret %d: %s", e.Op, e.Ret, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("messaging: %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("messaging: %s: %s", e.Op, e.Message)
	}
}

// SessionInvalidError reports which call discovered the session loss
// and the code the server sent. It matches ErrSessionInvalid.
type SessionInvalidError struct {
	Op  string
	Ret int
}

func (e *SessionInvalidError) Error() string {
	return fmt.Sprintf("messaging: %s: session invalid (ret %d)", e.Op, e.Ret)
}

func (e *SessionInvalidError) Is(target error) bool { return target == ErrSessionInvalid }

// IsRetryable reports whether err is a transient transport failure.
func IsRetryable(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// isSessionRet reports whether a server return code means the session
// is no longer valid.
func isSessionRet(ret int) bool {
	return ret == RetLoggedOut || ret == RetLoggedOutElsewhere || ret == RetCookieInvalid
}

// checkRet converts a server return code into the matching error.
func checkRet(op string, ret int, message string) error {
	if ret == 0 {
		return nil
	}
	if isSessionRet(ret) {
		return &SessionInvalidError{Op: op, Ret: ret}
	}
	return &ProtocolError{Op: op, Ret: ret, Message: message}
}
