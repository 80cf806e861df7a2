// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package contact maintains the directory of contacts known to a
// session: friends, groups, official accounts, and group members seen
// in messages.
//
// A [Directory] maps user names to [Contact] records. A full refresh
// replaces the mapping; an incremental refresh merges only the records
// the server returned and never removes anything. Records leave the
// directory only through [Directory.Clear], which the engine calls on
// logout.
package contact

import (
	"strings"

	"github.com/bureau-foundation/wxweb/messaging"
)

// Contact is a directory entry.
type Contact struct {
	UserName   string
	NickName   string
	RemarkName string
	AvatarURL  string
	Signature  string
	Province   string
	City       string
	Alias      string
	Sex        int
	VerifyFlag int
	// ContactFlag is the server's friendship bitmask.
	ContactFlag int
	// Members lists the member user names of a group, in server order.
	// Nil for non-groups and for groups whose members have not been
	// fetched.
	Members []string
	// MemberDisplayNames maps a member's user name to the name the
	// member set for itself in this group. A member's record elsewhere
	// in the directory never carries it.
	MemberDisplayNames map[string]string
	// EncryChatRoomID is needed to fetch member details of a group.
	EncryChatRoomID string
}

// Special accounts built into the server.
var specialUserNames = map[string]bool{
	"newsapp": true, "filehelper": true, "weibo": true, "qqmail": true,
	"fmessage": true, "tmessage": true, "qmessage": true, "qqsync": true,
	"floatbottle": true, "lbsapp": true, "shakeapp": true, "medianote": true,
	"qqfriend": true, "readerapp": true, "blogapp": true, "facebookapp": true,
	"masssendapp": true, "meishiapp": true, "feedsapp": true, "voip": true,
	"blogappweixin": true, "brandsessionholder": true, "weixin": true,
	"weixinreminder": true, "officialaccounts": true, "wxitil": true,
	"notification_messages": true, "wxid_novlwrv3lqwv11": true, "gh_22b87fa7cb3c": true,
	"userexperience_alarm": true,
}

// verifyFlagOfficial is set on the VerifyFlag of official accounts.
const verifyFlagOfficial = 8

// FromWire converts a server contact record.
func FromWire(wire messaging.Contact) Contact {
	contact := Contact{
		UserName:        wire.UserName,
		NickName:        wire.NickName,
		RemarkName:      wire.RemarkName,
		AvatarURL:       wire.HeadImgURL,
		Signature:       wire.Signature,
		Province:        wire.Province,
		City:            wire.City,
		Alias:           wire.Alias,
		Sex:             wire.Sex,
		VerifyFlag:      wire.VerifyFlag,
		ContactFlag:     wire.ContactFlag,
		EncryChatRoomID: wire.EncryChatRoomID,
	}
	if len(wire.MemberList) > 0 {
		contact.Members = make([]string, len(wire.MemberList))
		for i, member := range wire.MemberList {
			contact.Members[i] = member.UserName
			if member.DisplayName != "" {
				if contact.MemberDisplayNames == nil {
					contact.MemberDisplayNames = make(map[string]string)
				}
				contact.MemberDisplayNames[member.UserName] = member.DisplayName
			}
		}
	}
	return contact
}

// FromMember converts a group member record. The member's group
// display name stays on the group; see [Contact.MemberDisplayNames].
func FromMember(member messaging.Member) Contact {
	return Contact{
		UserName: member.UserName,
		NickName: member.NickName,
	}
}

// IsGroup reports whether the contact is a group chat.
func (c Contact) IsGroup() bool {
	return strings.HasPrefix(c.UserName, "@@")
}

// IsSpecial reports whether the contact is one of the server's
// built-in accounts (file helper, news, and similar).
func (c Contact) IsSpecial() bool {
	return specialUserNames[c.UserName]
}

// IsOfficial reports whether the contact is an official account.
func (c Contact) IsOfficial() bool {
	return c.VerifyFlag&verifyFlagOfficial != 0
}

// Name returns the name to show for the contact: the remark name the
// account owner set, then its nickname, then its user name.
func (c Contact) Name() string {
	switch {
	case c.RemarkName != "":
		return c.RemarkName
	case c.NickName != "":
		return c.NickName
	default:
		return c.UserName
	}
}

// merge overlays the non-empty fields of update onto c. Incremental
// records (group members, batch fetches) often omit fields the full
// record carried.
func (c Contact) merge(update Contact) Contact {
	merged := update
	if merged.NickName == "" {
		merged.NickName = c.NickName
	}
	if merged.RemarkName == "" {
		merged.RemarkName = c.RemarkName
	}
	if merged.AvatarURL == "" {
		merged.AvatarURL = c.AvatarURL
	}
	if merged.Signature == "" {
		merged.Signature = c.Signature
	}
	if merged.Province == "" {
		merged.Province = c.Province
	}
	if merged.City == "" {
		merged.City = c.City
	}
	if merged.Alias == "" {
		merged.Alias = c.Alias
	}
	// A record with a member list replaces the group's member names.
	if merged.Members == nil {
		merged.Members = c.Members
		merged.MemberDisplayNames = c.MemberDisplayNames
	}
	if merged.EncryChatRoomID == "" {
		merged.EncryChatRoomID = c.EncryChatRoomID
	}
	if merged.ContactFlag == 0 {
		merged.ContactFlag = c.ContactFlag
	}
	if merged.VerifyFlag == 0 {
		merged.VerifyFlag = c.VerifyFlag
	}
	if merged.Sex == 0 {
		merged.Sex = c.Sex
	}
	return merged
}
