// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/bureau-foundation/wxweb/lib/codec"
)

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 1

// Snapshot is the serializable state of a Session. Encoded with
// EncodeSnapshot it is an opaque blob that decodes and re-encodes to
// the same bytes.
type Snapshot struct {
	Version      int              `cbor:"version"`
	Hosts        Hosts            `cbor:"hosts"`
	Uin          int64            `cbor:"uin"`
	Sid          string           `cbor:"sid"`
	Skey         string           `cbor:"skey"`
	PassTicket   string           `cbor:"pass_ticket"`
	DeviceID     string           `cbor:"device_id"`
	SyncKey      SyncKey          `cbor:"sync_key"`
	SyncCheckKey SyncKey          `cbor:"sync_check_key,omitempty"`
	UserName     string           `cbor:"user_name"`
	NickName     string           `cbor:"nick_name,omitempty"`
	Cookies      []SnapshotCookie `cbor:"cookies,omitempty"`
}

// SnapshotCookie is one cookie the jar held for one origin.
type SnapshotCookie struct {
	URL   string `cbor:"url"`
	Name  string `cbor:"name"`
	Value string `cbor:"value"`
}

// Snapshot captures the session's current state, including the
// cookies the client's jar holds for the login and session hosts.
func (s *Session) Snapshot() *Snapshot {
	s.mu.RLock()
	snapshot := &Snapshot{
		Version:      SnapshotVersion,
		Hosts:        s.hosts,
		Uin:          s.credentials.Uin,
		Sid:          s.credentials.Sid,
		Skey:         s.credentials.Skey,
		PassTicket:   s.credentials.PassTicket,
		DeviceID:     s.credentials.DeviceID,
		SyncKey:      s.syncKey,
		SyncCheckKey: s.syncCheckKey,
		UserName:     s.user.UserName,
		NickName:     s.user.NickName,
	}
	s.mu.RUnlock()

	snapshot.Cookies = s.client.cookieSnapshot(s.client.loginURL, s.hosts.API, s.hosts.Push, s.hosts.File)
	return snapshot
}

func (c *Client) cookieSnapshot(origins ...string) []SnapshotCookie {
	seen := make(map[string]bool)
	var cookies []SnapshotCookie
	for _, origin := range origins {
		if seen[origin] {
			continue
		}
		seen[origin] = true
		parsed, err := url.Parse(origin + "/")
		if err != nil {
			continue
		}
		for _, cookie := range c.jar.Cookies(parsed) {
			cookies = append(cookies, SnapshotCookie{URL: origin, Name: cookie.Name, Value: cookie.Value})
		}
	}
	sort.Slice(cookies, func(i, j int) bool {
		if cookies[i].URL != cookies[j].URL {
			return cookies[i].URL < cookies[j].URL
		}
		if cookies[i].Name != cookies[j].Name {
			return cookies[i].Name < cookies[j].Name
		}
		return cookies[i].Value < cookies[j].Value
	})
	return cookies
}

// Validate checks that the snapshot carries what a session needs.
func (s *Snapshot) Validate() error {
	var errs []error
	if s.Version != SnapshotVersion {
		errs = append(errs, fmt.Errorf("unsupported snapshot version %d", s.Version))
	}
	if s.Hosts.API == "" {
		errs = append(errs, errors.New("hosts.api is required"))
	}
	if s.Uin == 0 {
		errs = append(errs, errors.New("uin is required"))
	}
	if s.Sid == "" {
		errs = append(errs, errors.New("sid is required"))
	}
	if s.DeviceID == "" {
		errs = append(errs, errors.New("device_id is required"))
	}
	return errors.Join(errs...)
}

// EncodeSnapshot serializes a snapshot to its opaque blob form.
func EncodeSnapshot(snapshot *Snapshot) ([]byte, error) {
	data, err := codec.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("messaging: encoding snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a blob produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var snapshot Snapshot
	if err := codec.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("messaging: decoding snapshot: %w", err)
	}
	if err := snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("messaging: invalid snapshot: %w", err)
	}
	return &snapshot, nil
}

// RestoreSession rebuilds a Session from a snapshot and loads its
// cookies into the client's jar. It makes no request: whether the
// server still accepts the session is for the caller to find out.
func (c *Client) RestoreSession(snapshot *Snapshot) (*Session, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("messaging: invalid snapshot: %w", err)
	}

	byOrigin := make(map[string][]*http.Cookie)
	for _, cookie := range snapshot.Cookies {
		byOrigin[cookie.URL] = append(byOrigin[cookie.URL], &http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	for origin, cookies := range byOrigin {
		parsed, err := url.Parse(origin + "/")
		if err != nil {
			return nil, fmt.Errorf("messaging: invalid cookie origin %q: %w", origin, err)
		}
		c.jar.SetCookies(parsed, cookies)
	}

	session := newSession(c, snapshot.Hosts, Credentials{
		Uin:        snapshot.Uin,
		Sid:        snapshot.Sid,
		Skey:       snapshot.Skey,
		PassTicket: snapshot.PassTicket,
		DeviceID:   snapshot.DeviceID,
	})
	session.syncKey = snapshot.SyncKey
	session.syncCheckKey = snapshot.SyncCheckKey
	session.user = Contact{Uin: snapshot.Uin, UserName: snapshot.UserName, NickName: snapshot.NickName}
	return session, nil
}
