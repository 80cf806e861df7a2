// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/wxweb/lib/netutil"
)

// Media is a downloaded binary payload.
type Media struct {
	Data []byte
	// ContentType is the server's Content-Type, or a sniffed type when
	// the server sent none or a generic one.
	ContentType string
	// FileName is the name from Content-Disposition, or the requested
	// name for attachments. Empty when neither is known.
	FileName string
}

// Digest returns the hex BLAKE3 hash of the payload. Two downloads of
// the same media have the same digest.
func (m *Media) Digest() string {
	sum := blake3.Sum256(m.Data)
	return hex.EncodeToString(sum[:])
}

// MediaError reports a media download the server refused or returned
// empty. It matches ErrMediaUnavailable.
type MediaError struct {
	Op string
	// ID is the message id or media id that was requested.
	ID         string
	StatusCode int
}

func (e *MediaError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("messaging: %s %s: media unavailable (status %d)", e.Op, e.ID, e.StatusCode)
	}
	return fmt.Sprintf("messaging: %s %s: media unavailable (empty body)", e.Op, e.ID)
}

func (e *MediaError) Is(target error) bool { return target == ErrMediaUnavailable }

// FetchImage downloads the full-size image of an image or emoticon
// message.
func (s *Session) FetchImage(ctx context.Context, msgID string) (*Media, error) {
	return s.fetchMedia(ctx, "webwxgetmsgimg", msgID, request{
		method: http.MethodGet,
		url:    s.endpoint("webwxgetmsgimg"),
		query: url.Values{
			"MsgID": {msgID},
			"skey":  {s.Credentials().Skey},
			"type":  {"big"},
		},
	}, "")
}

// FetchVoice downloads the audio of a voice message.
func (s *Session) FetchVoice(ctx context.Context, msgID string) (*Media, error) {
	return s.fetchMedia(ctx, "webwxgetvoice", msgID, request{
		method: http.MethodGet,
		url:    s.endpoint("webwxgetvoice"),
		query: url.Values{
			"msgid": {msgID},
			"skey":  {s.Credentials().Skey},
		},
	}, "")
}

// FetchVideo downloads the video of a video or micro-video message.
func (s *Session) FetchVideo(ctx context.Context, msgID string) (*Media, error) {
	// The endpoint refuses requests without a Range header.
	return s.fetchMedia(ctx, "webwxgetvideo", msgID, request{
		method: http.MethodGet,
		url:    s.endpoint("webwxgetvideo"),
		query: url.Values{
			"msgid": {msgID},
			"skey":  {s.Credentials().Skey},
		},
		header: http.Header{"Range": {"bytes=0-"}},
	}, "")
}

// FetchFile downloads an attachment from the file host. owner is the
// user name of the sender, mediaID and fileName come from the file
// message.
func (s *Session) FetchFile(ctx context.Context, owner, mediaID, fileName string) (*Media, error) {
	credentials := s.Credentials()
	dataTicket := s.client.cookieValue(s.hosts.File, "webwx_data_ticket")
	if dataTicket == "" {
		dataTicket = s.client.cookieValue(s.hosts.API, "webwx_data_ticket")
	}
	return s.fetchMedia(ctx, "webwxgetmedia", mediaID, request{
		method: http.MethodGet,
		url:    s.hosts.File + apiPath + "webwxgetmedia",
		query: url.Values{
			"sender":            {owner},
			"mediaid":           {mediaID},
			"encryfilename":     {fileName},
			"fromuser":          {strconv.FormatInt(credentials.Uin, 10)},
			"pass_ticket":       {credentials.PassTicket},
			"webwx_data_ticket": {dataTicket},
		},
	}, fileName)
}

func (s *Session) fetchMedia(ctx context.Context, op, id string, req request, fileName string) (*Media, error) {
	req.op = op
	resp, err := s.client.do(ctx, req, netutil.MaxMediaSize)
	if err != nil {
		var transportErr *TransportError
		if errors.As(err, &transportErr) && transportErr.StatusCode != 0 {
			return nil, &MediaError{Op: op, ID: id, StatusCode: transportErr.StatusCode}
		}
		return nil, err
	}
	if resp.statusCode < 200 || resp.statusCode >= 300 {
		return nil, &MediaError{Op: op, ID: id, StatusCode: resp.statusCode}
	}
	if len(resp.body) == 0 {
		return nil, &MediaError{Op: op, ID: id}
	}

	media := &Media{
		Data:        resp.body,
		ContentType: resp.header.Get("Content-Type"),
		FileName:    fileName,
	}
	if media.ContentType == "" || media.ContentType == "application/octet-stream" {
		media.ContentType = http.DetectContentType(resp.body)
	}
	if disposition := resp.header.Get("Content-Disposition"); disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			media.FileName = params["filename"]
		}
	}
	return media, nil
}
