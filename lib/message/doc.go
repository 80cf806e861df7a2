// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package message decodes raw sync records into typed messages.
//
// [Decode] is a pure function from a [messaging.RawMessage] to a
// [Message]. It dispatches on the message-type tag ([Type]) and, for
// app messages, the app-subtype tag ([AppType]), and never fails: a
// tag it does not recognize produces [KindUnknown] with the raw record
// attached, so new server values pass through to callers intact.
//
// Decoding normalizes display text. Group-chat records carry the real
// sender as a "user:<br/>" prefix, which moves to [Message.Sender];
// HTML entities are unescaped, "<br/>" becomes a newline, and emoji
// spans become runes. Records with an XML payload (recall notices and
// app messages) have their structured fields extracted into
// [Message.Recall] and [Message.App].
//
// Messages that carry downloadable media have a [MediaReference] with
// everything a media fetch needs.
//
// The package keeps no state. Callers that correlate recall notices
// with earlier messages keep their own record of what they have seen;
// [History] is a bounded store for that.
package message
