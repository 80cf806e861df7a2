// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messagingtest provides an in-process fake of the web-session
// protocol server for tests.
//
// The fake serves every endpoint the messaging package calls from one
// httptest origin, so login, API, push, and file traffic all land on
// the same Server. Tests script the login codes, seed contacts, queue
// sync batches, register media, and inject failures, then inspect what
// the client sent.
//
// Sync batches are addressed by the client's checkpoint: the Nth queued
// batch is returned when the request carries sync key component 1 equal
// to InitialSyncValue+N, and its reply advances the key by one. A
// client that re-sends an uncommitted key gets the same batch again,
// and a client that is caught up gets an empty delta.
package messagingtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/wxweb/messaging"
)

// Fixed credentials issued by the ticket exchange.
const (
	Uin             int64 = 2783150
	Sid                   = "fake-sid"
	Skey                  = "@crypt_fake_skey"
	PassTicket            = "fake-pass-ticket"
	DataTicket            = "fake-data-ticket"
	SelfUserName          = "@self0000"
	InitialSyncValue      = 100
)

// LoginStep is one scripted reply to a login status poll.
type LoginStep struct {
	// Code is the window.code value: 408, 201, 200, 400, or 402.
	Code int
	// Avatar is sent with code 201.
	Avatar string
}

// Convenience steps.
var (
	StepPending   = LoginStep{Code: 408}
	StepScanned   = LoginStep{Code: 201, Avatar: "data:img/jpg;base64,ZmFrZQ=="}
	StepConfirmed = LoginStep{Code: 200}
	StepExpired   = LoginStep{Code: 400}
	StepCanceled  = LoginStep{Code: 402}
)

// Batch is one sync delta.
type Batch struct {
	Messages    []messaging.RawMessage
	ModContacts []messaging.Contact
	DelContacts []messaging.Contact
	// SKey, when set, rotates the session key.
	SKey string
}

// VerifyCall records one webwxverifyuser request.
type VerifyCall struct {
	UserName string
	Ticket   string
}

type mediaKey struct {
	endpoint string
	id       string
}

type mediaEntry struct {
	data        []byte
	contentType string
}

type failure struct {
	status    int
	remaining int
}

// Server is a fake protocol server.
type Server struct {
	server *httptest.Server

	// HoldDuration is how long synccheck and an unscripted login poll
	// wait for something to happen before answering "nothing". Set it
	// before the client starts polling.
	HoldDuration time.Duration

	mu          sync.Mutex
	changed     chan struct{}
	uuidCount   int
	uuid        string
	loginSteps  []LoginStep
	skey        string
	loggedIn    bool
	invalidRet  int
	self        messaging.Contact
	contacts    map[string]messaging.Contact
	order       []string
	pageSize    int
	batches     []Batch
	lastSyncKey messaging.SyncKey
	media       map[mediaKey]mediaEntry
	failures    map[string]*failure
	requests    map[string]int
	verified    []VerifyCall
	logouts     int
}

// New starts a fake server and registers its shutdown with t.Cleanup.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		HoldDuration: 50 * time.Millisecond,
		changed:      make(chan struct{}),
		skey:         Skey,
		self:         messaging.Contact{Uin: Uin, UserName: SelfUserName, NickName: "Self"},
		contacts:     make(map[string]messaging.Contact),
		media:        make(map[mediaKey]mediaEntry),
		failures:     make(map[string]*failure),
		requests:     make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /jslogin", s.handleJSLogin)
	mux.HandleFunc("GET /cgi-bin/mmwebwx-bin/login", s.handleLoginPoll)
	mux.HandleFunc("GET /cgi-bin/mmwebwx-bin/webwxnewloginpage", s.handleNewLoginPage)
	mux.HandleFunc("POST /cgi-bin/mmwebwx-bin/webwxinit", s.handleInit)
	mux.HandleFunc("POST /cgi-bin/mmwebwx-bin/webwxstatusnotify", s.handleStatusNotify)
	mux.HandleFunc("GET /cgi-bin/mmwebwx-bin/webwxgetcontact", s.handleGetContact)
	mux.HandleFunc("POST /cgi-bin/mmwebwx-bin/webwxbatchgetcontact", s.handleBatchGetContact)
	mux.HandleFunc("GET /cgi-bin/mmwebwx-bin/synccheck", s.handleSyncCheck)
	mux.HandleFunc("POST /cgi-bin/mmwebwx-bin/webwxsync", s.handleSync)
	mux.HandleFunc("POST /cgi-bin/mmwebwx-bin/webwxverifyuser", s.handleVerifyUser)
	mux.HandleFunc("POST /cgi-bin/mmwebwx-bin/webwxlogout", s.handleLogout)
	mux.HandleFunc("GET /cgi-bin/mmwebwx-bin/webwxgetmsgimg", s.mediaHandler("webwxgetmsgimg", "MsgID"))
	mux.HandleFunc("GET /cgi-bin/mmwebwx-bin/webwxgetvoice", s.mediaHandler("webwxgetvoice", "msgid"))
	mux.HandleFunc("GET /cgi-bin/mmwebwx-bin/webwxgetvideo", s.mediaHandler("webwxgetvideo", "msgid"))
	mux.HandleFunc("GET /cgi-bin/mmwebwx-bin/webwxgetmedia", s.mediaHandler("webwxgetmedia", "mediaid"))

	s.server = httptest.NewServer(s.count(mux))
	t.Cleanup(s.server.Close)
	return s
}

// URL returns the server origin. Use it as the client's LoginURL.
func (s *Server) URL() string { return s.server.URL }

// ScriptLogin appends replies for upcoming login status polls. Once
// the script is exhausted polls hold for HoldDuration and answer 408.
func (s *Server) ScriptLogin(steps ...LoginStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginSteps = append(s.loginSteps, steps...)
}

// SetSelf replaces the account's own contact record.
func (s *Server) SetSelf(self messaging.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = self
}

// AddContacts adds or replaces contacts in the server's roster. They
// are returned by webwxgetcontact and webwxbatchgetcontact.
func (s *Server) AddContacts(contacts ...messaging.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, contact := range contacts {
		if _, exists := s.contacts[contact.UserName]; !exists {
			s.order = append(s.order, contact.UserName)
		}
		s.contacts[contact.UserName] = contact
	}
}

// SetContactPageSize makes webwxgetcontact paginate. Zero returns the
// whole roster in one page.
func (s *Server) SetContactPageSize(size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = size
}

// QueueBatch appends sync deltas and wakes any held synccheck.
func (s *Server) QueueBatch(batches ...Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batches...)
	s.notifyLocked()
}

// ForceLogout makes every later authenticated call report the session
// as logged out elsewhere, and wakes any held synccheck.
func (s *Server) ForceLogout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidRet = messaging.RetLoggedOutElsewhere
	s.notifyLocked()
}

// SetMedia registers a payload. endpoint is one of "webwxgetmsgimg",
// "webwxgetvoice", "webwxgetvideo", or "webwxgetmedia"; id is the
// message id, or the media id for webwxgetmedia.
func (s *Server) SetMedia(endpoint, id string, data []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media[mediaKey{endpoint: endpoint, id: id}] = mediaEntry{data: data, contentType: contentType}
}

// FailNext makes the next count requests to endpoint (the last path
// segment, e.g. "synccheck") answer with status.
func (s *Server) FailNext(endpoint string, status, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = &failure{status: status, remaining: count}
}

// Requests returns how many requests reached endpoint, including
// injected failures.
func (s *Server) Requests(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[endpoint]
}

// LastSyncKey returns the sync key of the most recent webwxsync request.
func (s *Server) LastSyncKey() messaging.SyncKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSyncKey
}

// Verified returns the friend requests the client accepted.
func (s *Server) Verified() []VerifyCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]VerifyCall(nil), s.verified...)
}

// Logouts returns how many webwxlogout calls were received.
func (s *Server) Logouts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logouts
}

// CurrentSkey returns the session key the server currently accepts.
func (s *Server) CurrentSkey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skey
}

// InitialSyncKey is the key webwxinit returns.
func InitialSyncKey() messaging.SyncKey {
	return syncKeyAt(0)
}

func syncKeyAt(position int) messaging.SyncKey {
	return messaging.SyncKey{Count: 2, List: []messaging.SyncKeyPair{
		{Key: 1, Val: int64(InitialSyncValue + position)},
		{Key: 2, Val: int64(2*InitialSyncValue + position)},
	}}
}

func (s *Server) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func endpointName(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

// count records the request and applies injected failures.
func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		name := endpointName(request.URL.Path)
		s.mu.Lock()
		s.requests[name]++
		injected := s.failures[name]
		status := 0
		if injected != nil && injected.remaining > 0 {
			injected.remaining--
			status = injected.status
		}
		s.mu.Unlock()

		if status != 0 {
			http.Error(writer, "injected failure", status)
			return
		}
		next.ServeHTTP(writer, request)
	})
}

func writeJSON(writer http.ResponseWriter, value any) {
	writer.Header().Set("Content-Type", "text/plain")
	json.NewEncoder(writer).Encode(value)
}

// authenticate checks the credentials of an API request and returns
// the Ret code the server would answer with.
func (s *Server) authenticate(sid, skey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.invalidRet != 0:
		return s.invalidRet
	case sid != Sid:
		return messaging.RetLoggedOut
	case skey != "" && skey != s.skey:
		return messaging.RetCookieInvalid
	default:
		return 0
	}
}

func decodeBody(request *http.Request, value any) error {
	body, err := io.ReadAll(request.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, value)
}

func (s *Server) handleJSLogin(writer http.ResponseWriter, request *http.Request) {
	s.mu.Lock()
	s.uuidCount++
	s.uuid = fmt.Sprintf("fake-uuid-%d", s.uuidCount)
	uuid := s.uuid
	s.mu.Unlock()
	fmt.Fprintf(writer, `window.QRLogin.code = 200; window.QRLogin.uuid = "%s";`, uuid)
}

func (s *Server) handleLoginPoll(writer http.ResponseWriter, request *http.Request) {
	s.mu.Lock()
	if request.URL.Query().Get("uuid") != s.uuid {
		s.mu.Unlock()
		fmt.Fprint(writer, "window.code=400;")
		return
	}
	var step LoginStep
	scripted := len(s.loginSteps) > 0
	if scripted {
		step = s.loginSteps[0]
		s.loginSteps = s.loginSteps[1:]
	}
	uuid := s.uuid
	s.mu.Unlock()

	if !scripted {
		select {
		case <-time.After(s.HoldDuration):
		case <-request.Context().Done():
			return
		}
		fmt.Fprint(writer, "window.code=408;")
		return
	}

	switch step.Code {
	case 201:
		fmt.Fprintf(writer, "window.code=201;window.userAvatar = '%s';", step.Avatar)
	case 200:
		redirect := s.server.URL + "/cgi-bin/mmwebwx-bin/webwxnewloginpage?ticket=fake-ticket&uuid=" + uuid + "&lang=zh_CN&scan=1"
		fmt.Fprintf(writer, "window.code=200;\nwindow.redirect_uri=\"%s\";", redirect)
	default:
		fmt.Fprintf(writer, "window.code=%d;", step.Code)
	}
}

func (s *Server) handleNewLoginPage(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()
	if query.Get("ticket") != "fake-ticket" || query.Get("fun") != "new" {
		fmt.Fprint(writer, "<error><ret>1203</ret><message>bad ticket</message></error>")
		return
	}
	s.mu.Lock()
	s.loggedIn = true
	s.invalidRet = 0
	s.skey = Skey
	s.mu.Unlock()

	for name, value := range map[string]string{
		"wxuin":             strconv.FormatInt(Uin, 10),
		"wxsid":             Sid,
		"webwx_data_ticket": DataTicket,
	} {
		http.SetCookie(writer, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	fmt.Fprintf(writer, "<error><ret>0</ret><message></message><skey>%s</skey><wxsid>%s</wxsid><wxuin>%d</wxuin><pass_ticket>%s</pass_ticket><isgrayscale>1</isgrayscale></error>",
		Skey, Sid, Uin, PassTicket)
}

type baseEnvelope struct {
	BaseRequest messaging.BaseRequest `json:"BaseRequest"`
}

type baseReply struct {
	Ret    int    `json:"Ret"`
	ErrMsg string `json:"ErrMsg"`
}

func (s *Server) handleInit(writer http.ResponseWriter, request *http.Request) {
	var body baseEnvelope
	if err := decodeBody(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	if ret := s.authenticate(body.BaseRequest.Sid, ""); ret != 0 {
		writeJSON(writer, map[string]any{"BaseResponse": baseReply{Ret: ret}})
		return
	}
	s.mu.Lock()
	self := s.self
	skey := s.skey
	s.mu.Unlock()
	writeJSON(writer, map[string]any{
		"BaseResponse": baseReply{},
		"Count":        0,
		"ContactList":  []messaging.Contact{},
		"SyncKey":      InitialSyncKey(),
		"User":         self,
		"SKey":         skey,
	})
}

func (s *Server) handleStatusNotify(writer http.ResponseWriter, request *http.Request) {
	var body baseEnvelope
	if err := decodeBody(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(writer, map[string]any{"BaseResponse": baseReply{Ret: s.authenticate(body.BaseRequest.Sid, "")}})
}

func (s *Server) handleGetContact(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()
	sid := ""
	if cookie, err := request.Cookie("wxsid"); err == nil {
		sid = cookie.Value
	}
	if ret := s.authenticate(sid, query.Get("skey")); ret != 0 || !s.isLoggedIn() {
		if ret == 0 {
			ret = messaging.RetLoggedOut
		}
		writeJSON(writer, map[string]any{"BaseResponse": baseReply{Ret: ret}})
		return
	}
	seq, _ := strconv.Atoi(query.Get("seq"))

	s.mu.Lock()
	var page []messaging.Contact
	next := 0
	end := len(s.order)
	if s.pageSize > 0 && seq+s.pageSize < end {
		end = seq + s.pageSize
		next = end
	}
	for _, userName := range s.order[min(seq, len(s.order)):end] {
		page = append(page, s.contacts[userName])
	}
	s.mu.Unlock()

	writeJSON(writer, map[string]any{
		"BaseResponse": baseReply{},
		"MemberCount":  len(page),
		"MemberList":   page,
		"Seq":          next,
	})
}

func (s *Server) isLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

func (s *Server) handleBatchGetContact(writer http.ResponseWriter, request *http.Request) {
	var body struct {
		BaseRequest messaging.BaseRequest      `json:"BaseRequest"`
		List        []messaging.ContactRequest `json:"List"`
	}
	if err := decodeBody(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	if ret := s.authenticate(body.BaseRequest.Sid, body.BaseRequest.Skey); ret != 0 {
		writeJSON(writer, map[string]any{"BaseResponse": baseReply{Ret: ret}})
		return
	}
	if len(body.List) > 50 {
		writeJSON(writer, map[string]any{"BaseResponse": baseReply{Ret: 1, ErrMsg: "too many"}})
		return
	}

	s.mu.Lock()
	found := []messaging.Contact{}
	for _, entry := range body.List {
		if contact, ok := s.contacts[entry.UserName]; ok {
			found = append(found, contact)
		}
	}
	s.mu.Unlock()
	writeJSON(writer, map[string]any{
		"BaseResponse": baseReply{},
		"Count":        len(found),
		"ContactList":  found,
	})
}

// position returns the batch index addressed by a sync key, from
// component 1.
func position(key messaging.SyncKey) int {
	for _, pair := range key.List {
		if pair.Key == 1 {
			return int(pair.Val) - InitialSyncValue
		}
	}
	return 0
}

func parseSyncKeyString(value string) messaging.SyncKey {
	var key messaging.SyncKey
	for _, part := range strings.Split(value, "|") {
		name, val, ok := strings.Cut(part, "_")
		if !ok {
			continue
		}
		k, _ := strconv.Atoi(name)
		v, _ := strconv.ParseInt(val, 10, 64)
		key.List = append(key.List, messaging.SyncKeyPair{Key: k, Val: v})
	}
	key.Count = len(key.List)
	return key
}

func (s *Server) handleSyncCheck(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()
	at := position(parseSyncKeyString(query.Get("synckey")))

	deadline := time.After(s.HoldDuration)
	for {
		if ret := s.authenticate(query.Get("sid"), query.Get("skey")); ret != 0 {
			fmt.Fprintf(writer, `window.synccheck={retcode:"%d",selector:"0"}`, ret)
			return
		}
		s.mu.Lock()
		selector := 0
		if at < len(s.batches) {
			selector = 2
			if len(s.batches[at].Messages) == 0 {
				selector = 4
			}
		}
		changed := s.changed
		s.mu.Unlock()

		if selector != 0 {
			fmt.Fprintf(writer, `window.synccheck={retcode:"0",selector:"%d"}`, selector)
			return
		}
		select {
		case <-changed:
		case <-deadline:
			fmt.Fprint(writer, `window.synccheck={retcode:"0",selector:"0"}`)
			return
		case <-request.Context().Done():
			return
		}
	}
}

func (s *Server) handleSync(writer http.ResponseWriter, request *http.Request) {
	var body struct {
		BaseRequest messaging.BaseRequest `json:"BaseRequest"`
		SyncKey     messaging.SyncKey     `json:"SyncKey"`
	}
	if err := decodeBody(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	if ret := s.authenticate(body.BaseRequest.Sid, request.URL.Query().Get("skey")); ret != 0 {
		writeJSON(writer, map[string]any{"BaseResponse": baseReply{Ret: ret}})
		return
	}

	s.mu.Lock()
	s.lastSyncKey = body.SyncKey
	at := position(body.SyncKey)
	if at < 0 || at > len(s.batches) {
		at = len(s.batches)
	}
	reply := map[string]any{
		"BaseResponse":    baseReply{},
		"AddMsgCount":     0,
		"AddMsgList":      []messaging.RawMessage{},
		"ModContactCount": 0,
		"ModContactList":  []messaging.Contact{},
		"DelContactCount": 0,
		"DelContactList":  []messaging.Contact{},
		"SyncKey":         syncKeyAt(at),
		"SyncCheckKey":    syncKeyAt(at),
		"SKey":            "",
		"ContinueFlag":    0,
	}
	if at < len(s.batches) {
		batch := s.batches[at]
		reply["AddMsgCount"] = len(batch.Messages)
		reply["AddMsgList"] = batch.Messages
		reply["ModContactCount"] = len(batch.ModContacts)
		reply["ModContactList"] = batch.ModContacts
		reply["DelContactCount"] = len(batch.DelContacts)
		reply["DelContactList"] = batch.DelContacts
		reply["SyncKey"] = syncKeyAt(at + 1)
		reply["SyncCheckKey"] = syncKeyAt(at + 1)
		if batch.SKey != "" {
			s.skey = batch.SKey
			reply["SKey"] = batch.SKey
		}
		for _, contact := range batch.ModContacts {
			if _, exists := s.contacts[contact.UserName]; !exists {
				s.order = append(s.order, contact.UserName)
			}
			s.contacts[contact.UserName] = contact
		}
	}
	s.mu.Unlock()
	writeJSON(writer, reply)
}

func (s *Server) handleVerifyUser(writer http.ResponseWriter, request *http.Request) {
	var body struct {
		BaseRequest    messaging.BaseRequest `json:"BaseRequest"`
		Opcode         int                   `json:"Opcode"`
		VerifyUserList []struct {
			Value            string `json:"Value"`
			VerifyUserTicket string `json:"VerifyUserTicket"`
		} `json:"VerifyUserList"`
	}
	if err := decodeBody(request, &body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	if ret := s.authenticate(body.BaseRequest.Sid, body.BaseRequest.Skey); ret != 0 {
		writeJSON(writer, map[string]any{"BaseResponse": baseReply{Ret: ret}})
		return
	}
	if body.Opcode != 3 || len(body.VerifyUserList) != 1 || body.VerifyUserList[0].VerifyUserTicket == "" {
		writeJSON(writer, map[string]any{"BaseResponse": baseReply{Ret: -1, ErrMsg: "bad verify request"}})
		return
	}

	entry := body.VerifyUserList[0]
	s.mu.Lock()
	s.verified = append(s.verified, VerifyCall{UserName: entry.Value, Ticket: entry.VerifyUserTicket})
	if _, exists := s.contacts[entry.Value]; !exists {
		s.order = append(s.order, entry.Value)
		s.contacts[entry.Value] = messaging.Contact{UserName: entry.Value, NickName: "friend " + entry.Value, ContactFlag: 3}
	}
	s.mu.Unlock()
	writeJSON(writer, map[string]any{"BaseResponse": baseReply{}})
}

func (s *Server) handleLogout(writer http.ResponseWriter, request *http.Request) {
	s.mu.Lock()
	s.logouts++
	s.invalidRet = messaging.RetLoggedOut
	s.notifyLocked()
	s.mu.Unlock()
	writer.WriteHeader(http.StatusOK)
}

func (s *Server) mediaHandler(endpoint, idParameter string) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		query := request.URL.Query()
		if endpoint == "webwxgetmedia" && query.Get("webwx_data_ticket") != DataTicket {
			http.Error(writer, "missing data ticket", http.StatusForbidden)
			return
		}
		if endpoint == "webwxgetvideo" && request.Header.Get("Range") == "" {
			http.Error(writer, "range required", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		entry, ok := s.media[mediaKey{endpoint: endpoint, id: query.Get(idParameter)}]
		s.mu.Unlock()
		if !ok {
			http.NotFound(writer, request)
			return
		}
		if entry.contentType != "" {
			writer.Header().Set("Content-Type", entry.contentType)
		}
		if endpoint == "webwxgetmedia" && query.Get("encryfilename") != "" {
			writer.Header().Set("Content-Disposition", `attachment; filename="`+query.Get("encryfilename")+`"`)
		}
		if endpoint == "webwxgetvideo" {
			writer.WriteHeader(http.StatusPartialContent)
		}
		writer.Write(entry.data)
	}
}
