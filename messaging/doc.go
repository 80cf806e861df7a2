// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging implements the web-session messaging protocol: QR
// login, session credentials, long-poll sync, contacts, and media.
//
// The package provides two core types. [Client] is the unauthenticated
// transport: it owns the HTTP client and its cookie jar, and performs
// the login handshake ([Client.RequestUUID], [Client.PollLogin],
// [Client.ExchangeTicket]). A successful ticket exchange returns a
// [Session], which carries the credentials, the API/push/file hosts,
// and the sync checkpoint ([SyncKey]).
//
// Every call runs under a bounded timeout. Ordinary calls use
// ClientConfig.RequestTimeout; the two long-poll calls (the login
// status poll and [Session.SyncCheck]) use the longer
// ClientConfig.LongPollTimeout, and a client-side timeout of either is
// reported as "nothing happened" rather than as an error.
//
// The checkpoint has a single writer. [Session.Sync] reads the
// committed key and never changes it; the caller delivers the returned
// batch and then calls [Session.CommitSync], which merges the new key
// monotonically. A crash between the two re-fetches the same batch.
//
// A session serializes to a [Snapshot] (credentials, hosts, checkpoint,
// and cookies), encoded by [EncodeSnapshot] as deterministic CBOR, and
// is rebuilt with [Client.RestoreSession].
//
// Errors fall into four classes: [*TransportError] (network failure,
// timeout, or 5xx; retryable, see [IsRetryable]), [*ProtocolError]
// (4xx, malformed body, or unexpected return code), session loss
// (matches [ErrSessionInvalid]), and missing media (matches
// [ErrMediaUnavailable]). Login outcomes that require a new uuid are
// reported by [LoginStatus] states.
package messaging
