// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Wxweb logs in to a WeChat web session and prints the incoming
// message stream. It prints a QR code link for login, resumes a saved
// session when one exists, writes received media into a directory, and
// optionally accepts friend requests.
//
// The session file is rewritten after login and on exit, and removed
// when the session ends. It holds live credentials: keep it private.
package main
