// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine drives a web messaging session from QR login through
// long-poll sync, and delivers what it sees to subscribers.
//
// An [Engine] runs one flow of control. [Engine.Run] either restores a
// persisted [messaging.Snapshot] (validated by fetching the contact
// list) or performs the QR handshake, then runs the sync loop until
// the session ends, the context is canceled, or [Engine.Stop] is
// called. The login handshake and the sync loop never run
// concurrently, and only that flow writes the session's checkpoint.
//
// Subscribers register an [Observer] with [Engine.Subscribe].
// Callbacks run synchronously on the engine's goroutine, in
// registration order; a slow callback delays the loop. Messages in one
// sync batch are delivered in server order, and the checkpoint is
// committed only after the whole batch has been delivered, so a crash
// mid-batch re-delivers that batch on restart.
//
// Transport failures are retried with exponential backoff
// ([RetryPolicy]). In the sync loop, reaching the attempt limit emits
// an error event and the loop keeps going; during login it fails the
// attempt. Protocol errors are emitted at once. Session loss emits a
// logout event, clears the contact directory, and ends Run with a nil
// error.
//
// Demand operations ([Engine.FetchImage], [Engine.FetchFile],
// [Engine.VerifyFriend], and the rest) may be called from any
// goroutine, including from inside callbacks, while the loop runs.
package engine
