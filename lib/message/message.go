// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"encoding/json"
	"time"
)

// Kind is the decoded variant of a message.
type Kind int

const (
	// KindUnknown is a record whose type tag is not recognized, or a
	// recognized tag with no variant of its own. Message.Raw holds the
	// record.
	KindUnknown Kind = iota
	KindText
	KindImage
	KindVoice
	// KindVideo covers both video and micro-video records.
	KindVideo
	// KindEmoticon is a sticker; its payload is fetched as an image.
	KindEmoticon
	// KindApp is an app message other than a file or a transfer.
	// Message.AppType carries the subtype.
	KindApp
	// KindFile is an app message with subtype AppTypeAttachment.
	KindFile
	// KindTransfer is an app message with subtype AppTypeTransfer.
	KindTransfer
	// KindSystem is a free-text system message.
	KindSystem
	// KindRecall is a notice that an earlier message was withdrawn.
	KindRecall
	// KindFriendRequest carries a Recommendation with the ticket
	// needed to accept it.
	KindFriendRequest
	// KindCard is a shared contact card or a friend suggestion.
	KindCard
	KindLocation
	// KindStatusNotify is a client-state record (chat opened on the
	// phone, recent-chat sync).
	KindStatusNotify
	KindVoIP
)

var kindNames = [...]string{
	KindUnknown:       "unknown",
	KindText:          "text",
	KindImage:         "image",
	KindVoice:         "voice",
	KindVideo:         "video",
	KindEmoticon:      "emoticon",
	KindApp:           "app",
	KindFile:          "file",
	KindTransfer:      "transfer",
	KindSystem:        "system",
	KindRecall:        "recall",
	KindFriendRequest: "friend-request",
	KindCard:          "card",
	KindLocation:      "location",
	KindStatusNotify:  "status-notify",
	KindVoIP:          "voip",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Message is a decoded message. Messages are values; nothing in this
// package modifies one after Decode returns it.
type Message struct {
	ID   string
	Kind Kind
	Type Type
	// AppType is set for app messages.
	AppType AppType

	From string
	To   string
	// Sender is the user who wrote the message. It equals From except
	// in group chats, where From is the group and Sender the member.
	Sender string

	// Content is display text: the normalized text of text and system
	// messages, the replacement text of a recall, the title of an app
	// message.
	Content string
	// RawContent is the content field exactly as the server sent it.
	RawContent string
	CreatedAt  time.Time

	Media    *MediaReference
	FileName string
	FileSize int64
	URL      string

	App       *AppDetail
	Recall    *Recall
	Recommend *Recommendation

	// Raw is the JSON record the message was decoded from.
	Raw json.RawMessage
}

// IsGroup reports whether the message was exchanged in a group chat.
func (m Message) IsGroup() bool {
	return isGroupName(m.From) || isGroupName(m.To)
}

// MediaKind selects the fetch operation for a MediaReference.
type MediaKind int

const (
	MediaImage MediaKind = iota + 1
	MediaVoice
	MediaVideo
	MediaFile
)

func (k MediaKind) String() string {
	switch k {
	case MediaImage:
		return "image"
	case MediaVoice:
		return "voice"
	case MediaVideo:
		return "video"
	case MediaFile:
		return "file"
	default:
		return "none"
	}
}

// MediaReference is what a media fetch needs to retrieve a message's
// payload. Image, voice, and video fetches use MsgID; file fetches use
// Owner, MediaID, and FileName.
type MediaReference struct {
	MsgID    string
	Kind     MediaKind
	Owner    string
	MediaID  string
	FileName string
}

// AppDetail is the structured part of an app message.
type AppDetail struct {
	AppID       string
	Title       string
	Description string
	URL         string
	AttachID    string
	FileExt     string
	TotalLen    int64
	// Transfer is set for money transfers.
	Transfer *Transfer
}

// Transfer describes a money transfer. The package reports it; acting
// on it is up to the caller.
type Transfer struct {
	FeeDescription string
	PaySubType     int
	TransferID     string
}

// Recall identifies a withdrawn message.
type Recall struct {
	// MsgID is the id of the withdrawn message.
	MsgID string
	// ReplaceText is the notice shown in place of the message.
	ReplaceText string
}

// Recommendation is the payload of a friend request or contact card.
type Recommendation struct {
	UserName  string
	NickName  string
	Alias     string
	Content   string
	Signature string
	Province  string
	City      string
	Sex       int
	Scene     int
	// Ticket is required to accept a friend request.
	Ticket string
}
