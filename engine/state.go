// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

// State is the login state of an Engine.
type State int

const (
	StateIdle State = iota
	StateUUIDRequested
	StateAwaitingScan
	StateAwaitingConfirmation
	StateLoggedIn
	// StateFailed is a terminal login failure: the user canceled, or
	// login calls kept failing. A new login starts from StateIdle.
	StateFailed
	// StateExpired means the uuid expired before confirmation.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUUIDRequested:
		return "uuid-requested"
	case StateAwaitingScan:
		return "awaiting-scan"
	case StateAwaitingConfirmation:
		return "awaiting-confirmation"
	case StateLoggedIn:
		return "logged-in"
	case StateFailed:
		return "failed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}
