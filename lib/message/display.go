// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package message

import "time"

// DisplayTime formats the message timestamp relative to now: the time
// of day for messages from today, month and day for this year, the
// full date otherwise. The result is in now's location.
func (m Message) DisplayTime(now time.Time) string {
	if m.CreatedAt.IsZero() {
		return ""
	}
	created := m.CreatedAt.In(now.Location())
	switch {
	case sameDay(created, now):
		return created.Format("15:04")
	case created.Year() == now.Year():
		return created.Format("01-02 15:04")
	default:
		return created.Format("2006-01-02 15:04")
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// NameResolver maps a user name to a display name.
type NameResolver interface {
	DisplayName(userName string) string
}

// MemberNameResolver is implemented by resolvers that know the names
// members set for themselves in a group.
type MemberNameResolver interface {
	MemberName(group, userName string) string
}

// SenderName returns the display name of the message's author. In a
// group chat the member's name is qualified with the group's, and a
// MemberNameResolver supplies the member's name in that group.
func (m Message) SenderName(names NameResolver) string {
	if !isGroupName(m.From) || m.Sender == m.From {
		return names.DisplayName(m.Sender)
	}
	sender := names.DisplayName(m.Sender)
	if members, ok := names.(MemberNameResolver); ok {
		sender = members.MemberName(m.From, m.Sender)
	}
	return sender + " @ " + names.DisplayName(m.From)
}
