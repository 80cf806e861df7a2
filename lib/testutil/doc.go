// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireNoReceive], and [RequireClosed] wrap the
// select-with-timeout pattern for tests that observe engine events on
// channels, so individual tests never call time.After directly.
//
// [UniqueID] generates monotonically increasing identifiers for
// message ids and user names in fake-server scripts.
//
// All helpers call t.Fatalf on failure.
package testutil
