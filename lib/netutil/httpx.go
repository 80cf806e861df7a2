// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil bounds HTTP body reads.
//
// Protocol responses (JSON, XML, and the JavaScript-assignment bodies
// the login host returns) are read with [ReadResponse]. Media payloads
// are read with [ReadMedia], which has a larger bound and reports an
// oversized body as an error instead of silently truncating it: a
// truncated image is corrupt data, not a smaller image.
package netutil

import (
	"errors"
	"fmt"
	"io"
)

// MaxResponseSize bounds protocol response bodies: 64 MB. A full
// contact list for a large account is a few megabytes.
const MaxResponseSize int64 = 64 << 20

// MaxMediaSize bounds media downloads: 1 GB, above the largest file
// the web client can receive.
const MaxMediaSize int64 = 1 << 30

// ErrTooLarge is returned by ReadMedia when the body exceeds the limit.
var ErrTooLarge = errors.New("netutil: body exceeds size limit")

// ReadResponse reads a protocol response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// ReadMedia reads a media body of at most limit bytes. A limit <= 0
// means MaxMediaSize.
func ReadMedia(body io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = MaxMediaSize
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return data, nil
}

// ErrorBody reads an error response body for use in diagnostics. Read
// errors are ignored and long bodies are cut to 512 bytes.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 512))
	return string(data)
}
