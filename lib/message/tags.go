// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package message

import "strconv"

// Type is the message-type tag (MsgType) of a raw record.
type Type int

// Message-type tags.
const (
	TypeText           Type = 1
	TypeImage          Type = 3
	TypeVoice          Type = 34
	TypeVerify         Type = 37
	TypePossibleFriend Type = 40
	TypeShareCard      Type = 42
	TypeVideo          Type = 43
	TypeEmoticon       Type = 47
	TypeLocation       Type = 48
	TypeApp            Type = 49
	TypeVoIPMessage    Type = 50
	TypeStatusNotify   Type = 51
	TypeVoIPNotify     Type = 52
	TypeVoIPInvite     Type = 53
	TypeMicroVideo     Type = 62
	TypeSystemNotice   Type = 9999
	TypeSystem         Type = 10000
	TypeRecalled       Type = 10002
)

// AppType is the app-subtype tag (AppMsgType) of an app message.
type AppType int

// App-subtype tags.
const (
	AppTypeText                  AppType = 1
	AppTypeImage                 AppType = 2
	AppTypeAudio                 AppType = 3
	AppTypeVideo                 AppType = 4
	AppTypeURL                   AppType = 5
	AppTypeAttachment            AppType = 6
	AppTypeOpen                  AppType = 7
	AppTypeEmoji                 AppType = 8
	AppTypeVoiceRemind           AppType = 9
	AppTypeScanGood              AppType = 10
	AppTypeGood                  AppType = 13
	AppTypeEmotion               AppType = 15
	AppTypeCardTicket            AppType = 16
	AppTypeRealtimeShareLocation AppType = 17
	AppTypeTransfer              AppType = 2000
	AppTypeRedEnvelope           AppType = 2001
	AppTypeReader                AppType = 100001
)

// Tag describes one entry of a constants table.
type Tag struct {
	Value int
	Name  string
}

var typeNames = map[Type]string{
	TypeText:           "text",
	TypeImage:          "image",
	TypeVoice:          "voice",
	TypeVerify:         "verify",
	TypePossibleFriend: "possible-friend",
	TypeShareCard:      "share-card",
	TypeVideo:          "video",
	TypeEmoticon:       "emoticon",
	TypeLocation:       "location",
	TypeApp:            "app",
	TypeVoIPMessage:    "voip-message",
	TypeStatusNotify:   "status-notify",
	TypeVoIPNotify:     "voip-notify",
	TypeVoIPInvite:     "voip-invite",
	TypeMicroVideo:     "micro-video",
	TypeSystemNotice:   "system-notice",
	TypeSystem:         "system",
	TypeRecalled:       "recalled",
}

var appTypeNames = map[AppType]string{
	AppTypeText:                  "text",
	AppTypeImage:                 "image",
	AppTypeAudio:                 "audio",
	AppTypeVideo:                 "video",
	AppTypeURL:                   "url",
	AppTypeAttachment:            "attachment",
	AppTypeOpen:                  "open",
	AppTypeEmoji:                 "emoji",
	AppTypeVoiceRemind:           "voice-remind",
	AppTypeScanGood:              "scan-good",
	AppTypeGood:                  "good",
	AppTypeEmotion:               "emotion",
	AppTypeCardTicket:            "card-ticket",
	AppTypeRealtimeShareLocation: "realtime-share-location",
	AppTypeTransfer:              "transfer",
	AppTypeRedEnvelope:           "red-envelope",
	AppTypeReader:                "reader",
}

// Known reports whether the tag is one of the documented values.
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "type(" + strconv.Itoa(int(t)) + ")"
}

// Known reports whether the tag is one of the documented values.
func (a AppType) Known() bool {
	_, ok := appTypeNames[a]
	return ok
}

func (a AppType) String() string {
	if name, ok := appTypeNames[a]; ok {
		return name
	}
	return "app-type(" + strconv.Itoa(int(a)) + ")"
}

// Types returns the message-type constants table, ordered by value.
// The slice is a fresh copy.
func Types() []Tag {
	order := []Type{
		TypeText, TypeImage, TypeVoice, TypeVerify, TypePossibleFriend,
		TypeShareCard, TypeVideo, TypeEmoticon, TypeLocation, TypeApp,
		TypeVoIPMessage, TypeStatusNotify, TypeVoIPNotify, TypeVoIPInvite,
		TypeMicroVideo, TypeSystemNotice, TypeSystem, TypeRecalled,
	}
	table := make([]Tag, len(order))
	for i, value := range order {
		table[i] = Tag{Value: int(value), Name: typeNames[value]}
	}
	return table
}

// AppTypes returns the app-subtype constants table, ordered by value.
// The slice is a fresh copy.
func AppTypes() []Tag {
	order := []AppType{
		AppTypeText, AppTypeImage, AppTypeAudio, AppTypeVideo, AppTypeURL,
		AppTypeAttachment, AppTypeOpen, AppTypeEmoji, AppTypeVoiceRemind,
		AppTypeScanGood, AppTypeGood, AppTypeEmotion, AppTypeCardTicket,
		AppTypeRealtimeShareLocation, AppTypeTransfer, AppTypeRedEnvelope,
		AppTypeReader,
	}
	table := make([]Tag, len(order))
	for i, value := range order {
		table[i] = Tag{Value: int(value), Name: appTypeNames[value]}
	}
	return table
}
