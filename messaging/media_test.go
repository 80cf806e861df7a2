// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/bureau-foundation/wxweb/messaging"
	"github.com/bureau-foundation/wxweb/messaging/messagingtest"
)

func TestFetchMedia(t *testing.T) {
	server := messagingtest.New(t)
	session := loginSession(t, server)
	ctx := context.Background()

	jpeg := []byte("\xff\xd8\xff\xe0fake-jpeg")
	server.SetMedia("webwxgetmsgimg", "1001", jpeg, "image/jpeg")
	server.SetMedia("webwxgetvoice", "1002", []byte("ID3voice"), "audio/mp3")
	server.SetMedia("webwxgetvideo", "1003", []byte("video-bytes"), "video/mp4")
	server.SetMedia("webwxgetmedia", "@crypt_media", []byte("%PDF-1.4 report"), "")

	tests := []struct {
		name        string
		fetch       func() (*messaging.Media, error)
		data        []byte
		contentType string
		fileName    string
	}{
		{
			name:        "image",
			fetch:       func() (*messaging.Media, error) { return session.FetchImage(ctx, "1001") },
			data:        jpeg,
			contentType: "image/jpeg",
		},
		{
			name:        "voice",
			fetch:       func() (*messaging.Media, error) { return session.FetchVoice(ctx, "1002") },
			data:        []byte("ID3voice"),
			contentType: "audio/mp3",
		},
		{
			name:        "video",
			fetch:       func() (*messaging.Media, error) { return session.FetchVideo(ctx, "1003") },
			data:        []byte("video-bytes"),
			contentType: "video/mp4",
		},
		{
			name: "file",
			fetch: func() (*messaging.Media, error) {
				return session.FetchFile(ctx, "@sender", "@crypt_media", "report.pdf")
			},
			data:        []byte("%PDF-1.4 report"),
			contentType: "application/pdf",
			fileName:    "report.pdf",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			media, err := test.fetch()
			if err != nil {
				t.Fatalf("fetch failed: %v", err)
			}
			if !bytes.Equal(media.Data, test.data) {
				t.Errorf("data = %q, want %q", media.Data, test.data)
			}
			if media.ContentType != test.contentType {
				t.Errorf("content type = %q, want %q", media.ContentType, test.contentType)
			}
			if media.FileName != test.fileName {
				t.Errorf("file name = %q, want %q", media.FileName, test.fileName)
			}
			if len(media.Digest()) != 64 {
				t.Errorf("digest %q is not a hex BLAKE3 hash", media.Digest())
			}
		})
	}
}

func TestFetchImageUnavailable(t *testing.T) {
	server := messagingtest.New(t)
	session := loginSession(t, server)

	media, err := session.FetchImage(context.Background(), "does-not-exist")
	if media != nil {
		t.Errorf("got media %+v for missing image", media)
	}
	if !errors.Is(err, messaging.ErrMediaUnavailable) {
		t.Fatalf("error = %v, want ErrMediaUnavailable", err)
	}
	var mediaErr *messaging.MediaError
	if !errors.As(err, &mediaErr) || mediaErr.StatusCode != http.StatusNotFound {
		t.Errorf("error = %#v, want *MediaError with status 404", err)
	}
}

func TestFetchMediaServerError(t *testing.T) {
	server := messagingtest.New(t)
	session := loginSession(t, server)
	server.SetMedia("webwxgetvoice", "7", []byte("voice"), "audio/mp3")
	server.FailNext("webwxgetvoice", http.StatusInternalServerError, 1)

	if _, err := session.FetchVoice(context.Background(), "7"); !errors.Is(err, messaging.ErrMediaUnavailable) {
		t.Errorf("error = %v, want ErrMediaUnavailable", err)
	}
}

func TestFetchEmptyBody(t *testing.T) {
	server := messagingtest.New(t)
	session := loginSession(t, server)
	server.SetMedia("webwxgetmsgimg", "9", nil, "image/jpeg")

	if _, err := session.FetchImage(context.Background(), "9"); !errors.Is(err, messaging.ErrMediaUnavailable) {
		t.Errorf("error = %v, want ErrMediaUnavailable for empty body", err)
	}
}

func TestMediaDigestStable(t *testing.T) {
	first := &messaging.Media{Data: []byte("same")}
	second := &messaging.Media{Data: []byte("same")}
	other := &messaging.Media{Data: []byte("different")}
	if first.Digest() != second.Digest() {
		t.Error("equal payloads have different digests")
	}
	if first.Digest() == other.Digest() {
		t.Error("different payloads have equal digests")
	}
}
