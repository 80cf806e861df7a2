// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Hosts are the three origins a session talks to after login.
type Hosts struct {
	// API serves the JSON endpoints (init, contacts, sync, media).
	API string `cbor:"api"`
	// Push serves synccheck.
	Push string `cbor:"push"`
	// File serves attachment downloads.
	File string `cbor:"file"`
}

// knownHosts lists the API hosts that split push and file traffic onto
// dedicated subdomains.
var knownHosts = map[string]bool{
	"wx.qq.com":       true,
	"wx2.qq.com":      true,
	"wx8.qq.com":      true,
	"web.wechat.com":  true,
	"web2.wechat.com": true,
}

// HostsFor derives the session hosts from the API origin (scheme and
// host, no path). Unknown hosts serve everything from one origin.
func HostsFor(apiOrigin string) Hosts {
	apiOrigin = strings.TrimRight(apiOrigin, "/")
	parsed, err := url.Parse(apiOrigin)
	if err != nil || !knownHosts[parsed.Host] {
		return Hosts{API: apiOrigin, Push: apiOrigin, File: apiOrigin}
	}
	return Hosts{
		API:  apiOrigin,
		Push: parsed.Scheme + "://webpush." + parsed.Host,
		File: parsed.Scheme + "://file." + parsed.Host,
	}
}

// Credentials are the tokens the server issued at login.
type Credentials struct {
	Uin        int64
	Sid        string
	Skey       string
	PassTicket string
	DeviceID   string
}

const apiPath = "/cgi-bin/mmwebwx-bin/"

// batchContactLimit is the largest list webwxbatchgetcontact accepts.
const batchContactLimit = 50

// Session is an authenticated session: credentials, hosts, and the
// sync checkpoint.
//
// Reads (every request builds its BaseRequest from the credentials)
// are safe from any goroutine. The checkpoint and credentials change
// only through Init and CommitSync, which the sync loop calls from a
// single goroutine.
type Session struct {
	client *Client
	hosts  Hosts

	mu           sync.RWMutex
	credentials  Credentials
	syncKey      SyncKey
	syncCheckKey SyncKey
	user         Contact
}

func newSession(client *Client, hosts Hosts, credentials Credentials) *Session {
	return &Session{client: client, hosts: hosts, credentials: credentials}
}

// Client returns the transport the session uses.
func (s *Session) Client() *Client { return s.client }

// Hosts returns the session's origins.
func (s *Session) Hosts() Hosts { return s.hosts }

// Credentials returns a copy of the current credentials.
func (s *Session) Credentials() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credentials
}

// User returns the logged-in account's own contact record.
func (s *Session) User() Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// UserName returns the logged-in account's user name.
func (s *Session) UserName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.UserName
}

// SyncKey returns the committed sync checkpoint.
func (s *Session) SyncKey() SyncKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncKey
}

func (s *Session) baseRequest() BaseRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return BaseRequest{
		Uin:      s.credentials.Uin,
		Sid:      s.credentials.Sid,
		Skey:     s.credentials.Skey,
		DeviceID: s.credentials.DeviceID,
	}
}

func (s *Session) endpoint(name string) string {
	return s.hosts.API + apiPath + name
}

func (s *Session) commonQuery() url.Values {
	credentials := s.Credentials()
	return url.Values{
		"lang":        {s.client.lang},
		"pass_ticket": {credentials.PassTicket},
	}
}

// Init calls webwxinit, which returns the account's own record, recent
// chats, and the initial sync key. Init resets the checkpoint to the
// returned key, so it is only called after a fresh login.
func (s *Session) Init(ctx context.Context) (*InitResponse, error) {
	query := s.commonQuery()
	query.Set("r", strconv.FormatInt(^s.client.millis(), 10))

	var response InitResponse
	err := s.client.doJSON(ctx, request{
		op:       "webwxinit",
		method:   http.MethodPost,
		url:      s.endpoint("webwxinit"),
		query:    query,
		jsonBody: baseRequestOnly{BaseRequest: s.baseRequest()},
	}, &response)
	if err != nil {
		return nil, err
	}
	if err := checkRet("webwxinit", response.BaseResponse.Ret, response.BaseResponse.ErrMsg); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.user = response.User
	s.syncKey = response.SyncKey
	s.syncCheckKey = SyncKey{}
	if response.SKey != "" {
		s.credentials.Skey = response.SKey
	}
	s.mu.Unlock()
	return &response, nil
}

// StatusNotify tells the server the web client has opened.
func (s *Session) StatusNotify(ctx context.Context) error {
	userName := s.UserName()
	var response baseOnlyResponse
	err := s.client.doJSON(ctx, request{
		op:     "webwxstatusnotify",
		method: http.MethodPost,
		url:    s.endpoint("webwxstatusnotify"),
		query:  s.commonQuery(),
		jsonBody: statusNotifyRequest{
			BaseRequest:  s.baseRequest(),
			Code:         3,
			FromUserName: userName,
			ToUserName:   userName,
			ClientMsgID:  s.client.millis(),
		},
	}, &response)
	if err != nil {
		return err
	}
	return checkRet("webwxstatusnotify", response.BaseResponse.Ret, response.BaseResponse.ErrMsg)
}

// GetContacts fetches the full contact list, following the Seq
// pagination cursor until the server reports the end.
func (s *Session) GetContacts(ctx context.Context) ([]Contact, error) {
	var contacts []Contact
	var seq int64
	for {
		query := s.commonQuery()
		query.Set("r", strconv.FormatInt(s.client.millis(), 10))
		query.Set("seq", strconv.FormatInt(seq, 10))
		query.Set("skey", s.Credentials().Skey)

		var response getContactResponse
		err := s.client.doJSON(ctx, request{
			op:     "webwxgetcontact",
			method: http.MethodGet,
			url:    s.endpoint("webwxgetcontact"),
			query:  query,
		}, &response)
		if err != nil {
			return nil, err
		}
		if err := checkRet("webwxgetcontact", response.BaseResponse.Ret, response.BaseResponse.ErrMsg); err != nil {
			return nil, err
		}
		contacts = append(contacts, response.MemberList...)
		if response.Seq == 0 || response.Seq == seq {
			return contacts, nil
		}
		seq = response.Seq
	}
}

// BatchGetContacts fetches the named contacts, including group member
// lists. Requests larger than the server's limit are split.
func (s *Session) BatchGetContacts(ctx context.Context, requests []ContactRequest) ([]Contact, error) {
	var contacts []Contact
	for start := 0; start < len(requests); start += batchContactLimit {
		end := min(start+batchContactLimit, len(requests))
		chunk := requests[start:end]

		query := s.commonQuery()
		query.Set("type", "ex")
		query.Set("r", strconv.FormatInt(s.client.millis(), 10))

		var response batchGetContactResponse
		err := s.client.doJSON(ctx, request{
			op:     "webwxbatchgetcontact",
			method: http.MethodPost,
			url:    s.endpoint("webwxbatchgetcontact"),
			query:  query,
			jsonBody: batchGetContactRequest{
				BaseRequest: s.baseRequest(),
				Count:       len(chunk),
				List:        chunk,
			},
		}, &response)
		if err != nil {
			return nil, err
		}
		if err := checkRet("webwxbatchgetcontact", response.BaseResponse.Ret, response.BaseResponse.ErrMsg); err != nil {
			return nil, err
		}
		contacts = append(contacts, response.ContactList...)
	}
	return contacts, nil
}

var syncCheckPattern = regexp.MustCompile(`retcode\s*:\s*"(\d+)"\s*,\s*selector\s*:\s*"(\d+)"`)

// SyncCheck long-polls the push host for pending changes. A
// client-side timeout returns SelectorNone with no error.
func (s *Session) SyncCheck(ctx context.Context) (SyncCheckResult, error) {
	s.mu.RLock()
	credentials := s.credentials
	key := s.syncCheckKey
	if key.IsEmpty() {
		key = s.syncKey
	}
	s.mu.RUnlock()

	now := s.client.millis()
	body, err := s.client.doText(ctx, request{
		op:     "synccheck",
		method: http.MethodGet,
		url:    s.hosts.Push + apiPath + "synccheck",
		query: url.Values{
			"r":        {strconv.FormatInt(now, 10)},
			"skey":     {credentials.Skey},
			"sid":      {credentials.Sid},
			"uin":      {strconv.FormatInt(credentials.Uin, 10)},
			"deviceid": {credentials.DeviceID},
			"synckey":  {key.String()},
			"_":        {strconv.FormatInt(now, 10)},
		},
		longPoll: true,
	})
	if errors.Is(err, errPollTimeout) {
		return SyncCheckResult{Selector: SelectorNone}, nil
	}
	if err != nil {
		return SyncCheckResult{}, err
	}

	match := syncCheckPattern.FindStringSubmatch(body)
	if match == nil {
		return SyncCheckResult{}, &ProtocolError{Op: "synccheck", Message: "malformed response: " + truncate(body)}
	}
	retcode, _ := strconv.Atoi(match[1])
	selector, _ := strconv.Atoi(match[2])
	if err := checkRet("synccheck", retcode, "synccheck refused"); err != nil {
		return SyncCheckResult{}, err
	}
	return SyncCheckResult{Retcode: retcode, Selector: Selector(selector)}, nil
}

// Sync fetches the pending delta from the committed checkpoint. It
// does not advance the checkpoint: the caller delivers the batch and
// then calls CommitSync. Calling Sync twice without committing asks
// the server for the same delta.
func (s *Session) Sync(ctx context.Context) (*SyncResponse, error) {
	s.mu.RLock()
	credentials := s.credentials
	key := s.syncKey
	s.mu.RUnlock()

	query := s.commonQuery()
	query.Set("sid", credentials.Sid)
	query.Set("skey", credentials.Skey)

	var response SyncResponse
	err := s.client.doJSON(ctx, request{
		op:     "webwxsync",
		method: http.MethodPost,
		url:    s.endpoint("webwxsync"),
		query:  query,
		jsonBody: syncRequest{
			BaseRequest: s.baseRequest(),
			SyncKey:     key,
			RR:          ^s.client.millis(),
		},
	}, &response)
	if err != nil {
		return nil, err
	}
	if err := checkRet("webwxsync", response.BaseResponse.Ret, response.BaseResponse.ErrMsg); err != nil {
		return nil, err
	}
	return &response, nil
}

// CommitSync advances the checkpoint past a delivered sync response
// and adopts a rotated skey. The checkpoint never moves backwards.
func (s *Session) CommitSync(response *SyncResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !response.SyncKey.IsEmpty() {
		s.syncKey = s.syncKey.Merge(response.SyncKey)
	}
	if !response.SyncCheckKey.IsEmpty() {
		s.syncCheckKey = s.syncCheckKey.Merge(response.SyncCheckKey)
	}
	if response.SKey != "" {
		s.credentials.Skey = response.SKey
	}
}

// VerifyUser accepts a friend request from userName using the ticket
// carried in the request's RecommendInfo.
func (s *Session) VerifyUser(ctx context.Context, userName, ticket string) error {
	query := s.commonQuery()
	query.Set("r", strconv.FormatInt(s.client.millis(), 10))

	base := s.baseRequest()
	var response baseOnlyResponse
	err := s.client.doJSON(ctx, request{
		op:     "webwxverifyuser",
		method: http.MethodPost,
		url:    s.endpoint("webwxverifyuser"),
		query:  query,
		jsonBody: verifyUserRequest{
			BaseRequest:        base,
			Opcode:             3,
			VerifyUserListSize: 1,
			VerifyUserList:     []verifyUserEntry{{Value: userName, VerifyUserTicket: ticket}},
			SceneListCount:     1,
			SceneList:          []int{33},
			Skey:               base.Skey,
		},
	}, &response)
	if err != nil {
		return err
	}
	return checkRet("webwxverifyuser", response.BaseResponse.Ret, response.BaseResponse.ErrMsg)
}

// Logout ends the session on the server. The server answers with a
// redirect to the login page; any non-5xx response counts as success.
func (s *Session) Logout(ctx context.Context) error {
	credentials := s.Credentials()
	_, err := s.client.do(ctx, request{
		op:     "webwxlogout",
		method: http.MethodPost,
		url:    s.endpoint("webwxlogout"),
		query: url.Values{
			"redirect": {"1"},
			"type":     {"0"},
			"skey":     {credentials.Skey},
		},
		form: url.Values{
			"sid": {credentials.Sid},
			"uin": {strconv.FormatInt(credentials.Uin, 10)},
		},
	}, 0)
	return err
}
