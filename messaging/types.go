// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// BaseRequest identifies the session on every JSON API call.
type BaseRequest struct {
	Uin      int64  `json:"Uin"`
	Sid      string `json:"Sid"`
	Skey     string `json:"Skey"`
	DeviceID string `json:"DeviceID"`
}

// BaseResponse carries the server return code on every JSON API reply.
type BaseResponse struct {
	Ret    int    `json:"Ret"`
	ErrMsg string `json:"ErrMsg"`
}

// SyncKeyPair is one component of a SyncKey.
type SyncKeyPair struct {
	Key int   `json:"Key" cbor:"key"`
	Val int64 `json:"Val" cbor:"val"`
}

// SyncKey is the server-issued cursor into the event stream. It is a
// set of (key, value) pairs, one per server-side stream.
type SyncKey struct {
	Count int           `json:"Count" cbor:"count"`
	List  []SyncKeyPair `json:"List" cbor:"list"`
}

// IsEmpty reports whether the key has no components.
func (k SyncKey) IsEmpty() bool {
	return len(k.List) == 0
}

// String formats the key the way synccheck expects it: "1_123|2_456".
func (k SyncKey) String() string {
	parts := make([]string, 0, len(k.List))
	for _, pair := range k.List {
		parts = append(parts, strconv.Itoa(pair.Key)+"_"+strconv.FormatInt(pair.Val, 10))
	}
	return strings.Join(parts, "|")
}

// Merge returns the key obtained by advancing k with next. Each
// component takes the larger of the two values, components present in
// only one key are kept, and the result is ordered by Key. Merging is
// monotonic: no component of the result is smaller than in k.
func (k SyncKey) Merge(next SyncKey) SyncKey {
	values := make(map[int]int64, len(k.List)+len(next.List))
	for _, pair := range k.List {
		values[pair.Key] = pair.Val
	}
	for _, pair := range next.List {
		if current, ok := values[pair.Key]; !ok || pair.Val > current {
			values[pair.Key] = pair.Val
		}
	}

	merged := SyncKey{List: make([]SyncKeyPair, 0, len(values))}
	for key, val := range values {
		merged.List = append(merged.List, SyncKeyPair{Key: key, Val: val})
	}
	sort.Slice(merged.List, func(i, j int) bool { return merged.List[i].Key < merged.List[j].Key })
	merged.Count = len(merged.List)
	return merged
}

// Contact is a contact record as the server sends it, from
// webwxinit, webwxgetcontact, webwxbatchgetcontact, and the
// ModContactList of webwxsync.
type Contact struct {
	Uin             int64    `json:"Uin"`
	UserName        string   `json:"UserName"`
	NickName        string   `json:"NickName"`
	RemarkName      string   `json:"RemarkName"`
	DisplayName     string   `json:"DisplayName"`
	HeadImgURL      string   `json:"HeadImgUrl"`
	ContactFlag     int      `json:"ContactFlag"`
	MemberCount     int      `json:"MemberCount"`
	MemberList      []Member `json:"MemberList"`
	Sex             int      `json:"Sex"`
	Signature       string   `json:"Signature"`
	VerifyFlag      int      `json:"VerifyFlag"`
	StarFriend      int      `json:"StarFriend"`
	Province        string   `json:"Province"`
	City            string   `json:"City"`
	Alias           string   `json:"Alias"`
	EncryChatRoomID string   `json:"EncryChatRoomId"`
}

// Member is one participant of a group chat.
type Member struct {
	Uin         int64  `json:"Uin"`
	UserName    string `json:"UserName"`
	NickName    string `json:"NickName"`
	DisplayName string `json:"DisplayName"`
	AttrStatus  int64  `json:"AttrStatus"`
}

// RecommendInfo is the friend-request payload attached to
// verification messages. Ticket is required to accept the request.
type RecommendInfo struct {
	UserName   string `json:"UserName"`
	NickName   string `json:"NickName"`
	QQNum      int64  `json:"QQNum"`
	Province   string `json:"Province"`
	City       string `json:"City"`
	Content    string `json:"Content"`
	Signature  string `json:"Signature"`
	Alias      string `json:"Alias"`
	Scene      int    `json:"Scene"`
	VerifyFlag int    `json:"VerifyFlag"`
	AttrStatus int64  `json:"AttrStatus"`
	Sex        int    `json:"Sex"`
	Ticket     string `json:"Ticket"`
	OpCode     int    `json:"OpCode"`
}

// AppInfo identifies the third-party app that produced an app message.
type AppInfo struct {
	AppID string `json:"AppID"`
	Type  int    `json:"Type"`
}

// RawMessage is one entry of AddMsgList. Raw holds the exact JSON the
// server sent so that variants the decoder does not know can still be
// handed to callers intact.
type RawMessage struct {
	MsgID                string        `json:"MsgId"`
	NewMsgID             int64         `json:"NewMsgId"`
	FromUserName         string        `json:"FromUserName"`
	ToUserName           string        `json:"ToUserName"`
	MsgType              int           `json:"MsgType"`
	AppMsgType           int           `json:"AppMsgType"`
	SubMsgType           int           `json:"SubMsgType"`
	Content              string        `json:"Content"`
	OriContent           string        `json:"OriContent"`
	Status               int           `json:"Status"`
	ImgStatus            int           `json:"ImgStatus"`
	ImgHeight            int           `json:"ImgHeight"`
	ImgWidth             int           `json:"ImgWidth"`
	CreateTime           int64         `json:"CreateTime"`
	VoiceLength          int           `json:"VoiceLength"`
	PlayLength           int           `json:"PlayLength"`
	FileName             string        `json:"FileName"`
	FileSize             string        `json:"FileSize"`
	MediaID              string        `json:"MediaId"`
	EncryFileName        string        `json:"EncryFileName"`
	URL                  string        `json:"Url"`
	StatusNotifyCode     int           `json:"StatusNotifyCode"`
	StatusNotifyUserName string        `json:"StatusNotifyUserName"`
	RecommendInfo        RecommendInfo `json:"RecommendInfo"`
	ForwardFlag          int           `json:"ForwardFlag"`
	AppInfo              AppInfo       `json:"AppInfo"`
	HasProductID         int           `json:"HasProductId"`
	Ticket               string        `json:"Ticket"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and keeps a copy of the input.
func (m *RawMessage) UnmarshalJSON(data []byte) error {
	type plain RawMessage
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*m = RawMessage(decoded)
	m.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// InitResponse is returned by webwxinit.
type InitResponse struct {
	BaseResponse BaseResponse `json:"BaseResponse"`
	Count        int          `json:"Count"`
	ContactList  []Contact    `json:"ContactList"`
	SyncKey      SyncKey      `json:"SyncKey"`
	User         Contact      `json:"User"`
	ChatSet      string       `json:"ChatSet"`
	SKey         string       `json:"SKey"`
	SystemTime   int64        `json:"SystemTime"`
}

// SyncCheckResult is the parsed synccheck reply.
type SyncCheckResult struct {
	Retcode  int
	Selector Selector
}

// Selector is the synccheck change-selector code.
type Selector int

// Known selector values. Any non-zero selector means webwxsync has
// something to return.
const (
	SelectorNone          Selector = 0
	SelectorNewMessage    Selector = 2
	SelectorContactChange Selector = 4
	SelectorProfileChange Selector = 6
	SelectorPhoneActivity Selector = 7
)

// HasChanges reports whether the selector asks for a webwxsync call.
func (s Selector) HasChanges() bool { return s != SelectorNone }

// SyncResponse is returned by webwxsync.
type SyncResponse struct {
	BaseResponse    BaseResponse `json:"BaseResponse"`
	AddMsgCount     int          `json:"AddMsgCount"`
	AddMsgList      []RawMessage `json:"AddMsgList"`
	ModContactCount int          `json:"ModContactCount"`
	ModContactList  []Contact    `json:"ModContactList"`
	DelContactCount int          `json:"DelContactCount"`
	DelContactList  []Contact    `json:"DelContactList"`
	SyncKey         SyncKey      `json:"SyncKey"`
	SyncCheckKey    SyncKey      `json:"SyncCheckKey"`
	SKey            string       `json:"SKey"`
	ContinueFlag    int          `json:"ContinueFlag"`
}

// ContactRequest names one contact for webwxbatchgetcontact.
// EncryChatRoomID is set when fetching members of a group.
type ContactRequest struct {
	UserName        string `json:"UserName"`
	EncryChatRoomID string `json:"EncryChatRoomId"`
}

type getContactResponse struct {
	BaseResponse BaseResponse `json:"BaseResponse"`
	MemberCount  int          `json:"MemberCount"`
	MemberList   []Contact    `json:"MemberList"`
	Seq          int64        `json:"Seq"`
}

type batchGetContactResponse struct {
	BaseResponse BaseResponse `json:"BaseResponse"`
	Count        int          `json:"Count"`
	ContactList  []Contact    `json:"ContactList"`
}

type baseOnlyResponse struct {
	BaseResponse BaseResponse `json:"BaseResponse"`
}

type verifyUserEntry struct {
	Value            string `json:"Value"`
	VerifyUserTicket string `json:"VerifyUserTicket"`
}

type verifyUserRequest struct {
	BaseRequest        BaseRequest       `json:"BaseRequest"`
	Opcode             int               `json:"Opcode"`
	VerifyUserListSize int               `json:"VerifyUserListSize"`
	VerifyUserList     []verifyUserEntry `json:"VerifyUserList"`
	VerifyContent      string            `json:"VerifyContent"`
	SceneListCount     int               `json:"SceneListCount"`
	SceneList          []int             `json:"SceneList"`
	Skey               string            `json:"skey"`
}

type statusNotifyRequest struct {
	BaseRequest  BaseRequest `json:"BaseRequest"`
	Code         int         `json:"Code"`
	FromUserName string      `json:"FromUserName"`
	ToUserName   string      `json:"ToUserName"`
	ClientMsgID  int64       `json:"ClientMsgId"`
}

type syncRequest struct {
	BaseRequest BaseRequest `json:"BaseRequest"`
	SyncKey     SyncKey     `json:"SyncKey"`
	RR          int64       `json:"rr"`
}

type batchGetContactRequest struct {
	BaseRequest BaseRequest      `json:"BaseRequest"`
	Count       int              `json:"Count"`
	List        []ContactRequest `json:"List"`
}

type baseRequestOnly struct {
	BaseRequest BaseRequest `json:"BaseRequest"`
}

// loginTicket is the XML body returned by the ticket exchange.
type loginTicket struct {
	Ret        int    `xml:"ret"`
	Message    string `xml:"message"`
	Skey       string `xml:"skey"`
	Wxsid      string `xml:"wxsid"`
	Wxuin      int64  `xml:"wxuin"`
	PassTicket string `xml:"pass_ticket"`
}
