// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"log/slog"
	"time"

	"github.com/bureau-foundation/wxweb/lib/clock"
	"github.com/bureau-foundation/wxweb/lib/contact"
	"github.com/bureau-foundation/wxweb/messaging"
)

// RetryPolicy configures exponential backoff for transport failures.
type RetryPolicy struct {
	// InitialInterval is the wait after the first failure.
	InitialInterval time.Duration
	// MaxInterval caps the wait between attempts.
	MaxInterval time.Duration
	// Multiplier grows the wait after each failure.
	Multiplier float64
	// MaxAttempts is the number of consecutive failed attempts after
	// which the failure is surfaced.
	MaxAttempts int
}

// DefaultRetryPolicy returns the policy used for zero RetryPolicy
// fields.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		MaxAttempts:     5,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	defaults := DefaultRetryPolicy()
	if p.InitialInterval <= 0 {
		p.InitialInterval = defaults.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = defaults.MaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = defaults.Multiplier
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	return p
}

// Config holds configuration for creating an Engine.
type Config struct {
	// Client is the protocol transport. Required.
	Client *messaging.Client

	// Directory receives the session's contacts. If nil, a new
	// directory is created.
	Directory *contact.Directory

	// Retry controls backoff for transport failures. Zero fields take
	// their DefaultRetryPolicy values.
	Retry RetryPolicy

	// LoginAttempts is how many QR logins Run tries when a uuid
	// expires or the user cancels. Default 1: the first expiry ends Run.
	LoginAttempts int

	// Clock times backoff waits. If nil, the client's clock is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// ErrNotLoggedIn is returned by operations that need a session when
// there is none.
var ErrNotLoggedIn = errors.New("engine: not logged in")

// ErrAlreadyRunning is returned by Run when another Run is active.
var ErrAlreadyRunning = errors.New("engine: already running")
