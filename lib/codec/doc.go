// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the CBOR configuration for data the engine writes
// for itself rather than for the protocol server. Today that is the
// persisted session snapshot.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, shortest integer forms, definite lengths. Decoding a blob and
// encoding the result again reproduces the original bytes, which is the
// property the session store contract depends on.
//
// Types serialized only through this package use `cbor` struct tags.
package codec
