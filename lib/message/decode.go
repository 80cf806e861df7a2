// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/wxweb/messaging"
)

var (
	groupPrefixPattern = regexp.MustCompile(`(?s)^(@[^:\s<]+):<br/>(.*)$`)
	emojiPattern       = regexp.MustCompile(`<span class="emoji emoji([0-9a-fA-F]+)"></span>`)
	lineBreakPattern   = regexp.MustCompile(`<br\s*/?>`)
)

// Decode classifies a raw record. It never fails: unrecognized tags
// and unparseable payloads produce KindUnknown with the record in Raw.
func Decode(raw messaging.RawMessage) Message {
	message := Message{
		ID:         raw.MsgID,
		Type:       Type(raw.MsgType),
		From:       raw.FromUserName,
		To:         raw.ToUserName,
		Sender:     raw.FromUserName,
		RawContent: raw.Content,
		Raw:        raw.Raw,
	}
	if message.ID == "" && raw.NewMsgID != 0 {
		message.ID = strconv.FormatInt(raw.NewMsgID, 10)
	}
	if raw.CreateTime != 0 {
		message.CreatedAt = time.Unix(raw.CreateTime, 0)
	}

	body := raw.Content
	if isGroupName(raw.FromUserName) {
		if match := groupPrefixPattern.FindStringSubmatch(body); match != nil {
			message.Sender = match[1]
			body = match[2]
		}
	}

	switch message.Type {
	case TypeText:
		message.Kind = KindText
		message.Content = NormalizeText(body)
		// Shared locations arrive as text records with a map URL.
		if raw.SubMsgType == int(TypeLocation) && raw.URL != "" {
			message.Kind = KindLocation
			message.URL = raw.URL
		}
	case TypeImage:
		message.Kind = KindImage
		message.Media = &MediaReference{MsgID: message.ID, Kind: MediaImage}
	case TypeEmoticon:
		message.Kind = KindEmoticon
		message.Media = &MediaReference{MsgID: message.ID, Kind: MediaImage}
	case TypeVoice:
		message.Kind = KindVoice
		message.Media = &MediaReference{MsgID: message.ID, Kind: MediaVoice}
	case TypeVideo, TypeMicroVideo:
		message.Kind = KindVideo
		message.Media = &MediaReference{MsgID: message.ID, Kind: MediaVideo}
	case TypeApp:
		decodeApp(&message, raw, body)
	case TypeSystem, TypeSystemNotice:
		message.Kind = KindSystem
		message.Content = NormalizeText(body)
	case TypeRecalled:
		if recall, ok := ParseRecall(body); ok {
			message.Kind = KindRecall
			message.Recall = &recall
			message.Content = recall.ReplaceText
		} else {
			message.Content = body
		}
	case TypeVerify:
		message.Kind = KindFriendRequest
		message.Recommend = recommendation(raw.RecommendInfo)
		message.Content = raw.RecommendInfo.Content
	case TypeShareCard, TypePossibleFriend:
		message.Kind = KindCard
		message.Recommend = recommendation(raw.RecommendInfo)
		message.Content = NormalizeText(body)
	case TypeLocation:
		message.Kind = KindLocation
		message.Content = NormalizeText(body)
		message.URL = raw.URL
	case TypeStatusNotify:
		message.Kind = KindStatusNotify
	case TypeVoIPMessage, TypeVoIPNotify, TypeVoIPInvite:
		message.Kind = KindVoIP
	default:
		message.Kind = KindUnknown
		message.Content = body
	}
	return message
}

func decodeApp(message *Message, raw messaging.RawMessage, body string) {
	message.AppType = AppType(raw.AppMsgType)
	detail := parseAppDetail(body)
	if detail.AppID == "" {
		detail.AppID = raw.AppInfo.AppID
	}
	message.App = &detail
	message.Content = detail.Title
	message.URL = raw.URL
	if message.URL == "" {
		message.URL = detail.URL
	}

	switch message.AppType {
	case AppTypeAttachment:
		message.Kind = KindFile
		message.FileName = raw.FileName
		if message.FileName == "" {
			message.FileName = detail.Title
		}
		message.FileSize = detail.TotalLen
		if size, err := strconv.ParseInt(raw.FileSize, 10, 64); err == nil {
			message.FileSize = size
		}
		mediaID := raw.MediaID
		if mediaID == "" {
			mediaID = detail.AttachID
		}
		message.Media = &MediaReference{
			MsgID:    message.ID,
			Kind:     MediaFile,
			Owner:    raw.FromUserName,
			MediaID:  mediaID,
			FileName: message.FileName,
		}
	case AppTypeTransfer:
		message.Kind = KindTransfer
		if detail.Transfer == nil {
			detail.Transfer = &Transfer{}
		}
		if message.Content == "" {
			message.Content = detail.Transfer.FeeDescription
		}
	default:
		if message.AppType.Known() {
			message.Kind = KindApp
		} else {
			message.Kind = KindUnknown
		}
	}
}

func recommendation(info messaging.RecommendInfo) *Recommendation {
	return &Recommendation{
		UserName:  info.UserName,
		NickName:  info.NickName,
		Alias:     info.Alias,
		Content:   info.Content,
		Signature: info.Signature,
		Province:  info.Province,
		City:      info.City,
		Sex:       info.Sex,
		Scene:     info.Scene,
		Ticket:    info.Ticket,
	}
}

// NormalizeText converts server message markup to plain text: line
// breaks become newlines, emoji spans become runes, and HTML entities
// are unescaped.
func NormalizeText(content string) string {
	content = lineBreakPattern.ReplaceAllString(content, "\n")
	content = emojiPattern.ReplaceAllStringFunc(content, func(span string) string {
		code := emojiPattern.FindStringSubmatch(span)[1]
		if decoded, ok := decodeEmoji(code); ok {
			return decoded
		}
		return span
	})
	return html.UnescapeString(content)
}

// decodeEmoji turns an emoji class code into runes. Codes are one code
// point, or several five-digit code points run together (flags).
func decodeEmoji(code string) (string, bool) {
	if len(code) <= 5 {
		value, err := strconv.ParseUint(code, 16, 32)
		if err != nil {
			return "", false
		}
		return string(rune(value)), true
	}
	if len(code)%5 != 0 {
		return "", false
	}
	var builder strings.Builder
	for start := 0; start < len(code); start += 5 {
		value, err := strconv.ParseUint(code[start:start+5], 16, 32)
		if err != nil {
			return "", false
		}
		builder.WriteRune(rune(value))
	}
	return builder.String(), true
}

func isGroupName(userName string) bool {
	return strings.HasPrefix(userName, "@@")
}
