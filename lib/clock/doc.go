// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the two time operations the protocol engine
// needs: reading the current time (request cache-busters, uuid issue
// times, message display times) and waiting (retry backoff).
//
// Production code injects [Real]. Tests inject [Fake] and move time
// forward explicitly with [FakeClock.Advance], so backoff schedules and
// timestamp parameters are deterministic.
package clock
