// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestReadResponse(t *testing.T) {
	t.Run("normal body", func(t *testing.T) {
		data, err := ReadResponse(strings.NewReader(`window.QRLogin.code = 200;`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != `window.QRLogin.code = 200;` {
			t.Fatalf("got %q", data)
		}
	})

	t.Run("read error propagates", func(t *testing.T) {
		if _, err := ReadResponse(&failReader{}); err == nil {
			t.Fatal("expected error from failing reader")
		}
	})
}

func TestReadMedia(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		payload := bytes.Repeat([]byte{0xAB}, 64)
		data, err := ReadMedia(bytes.NewReader(payload), 64)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !bytes.Equal(data, payload) {
			t.Fatalf("got %d bytes, want %d", len(data), len(payload))
		}
	})

	t.Run("over limit", func(t *testing.T) {
		_, err := ReadMedia(bytes.NewReader(make([]byte, 65)), 64)
		if !errors.Is(err, ErrTooLarge) {
			t.Fatalf("expected ErrTooLarge, got %v", err)
		}
	})
}

func TestErrorBody(t *testing.T) {
	long := strings.Repeat("x", 2048)
	if got := ErrorBody(strings.NewReader(long)); len(got) != 512 {
		t.Errorf("ErrorBody length = %d, want 512", len(got))
	}
	if got := ErrorBody(&failReader{}); got != "" {
		t.Errorf("ErrorBody on failing reader = %q, want empty", got)
	}
}

type failReader struct{}

func (*failReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }
