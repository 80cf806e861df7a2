// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bureau-foundation/wxweb/messaging"
)

// ErrNotFound is returned by Resolve for a user name the directory has
// not seen yet. Callers refresh and try again.
var ErrNotFound = errors.New("contact: not yet known")

// Source is the server side of the directory. *messaging.Session
// implements it.
type Source interface {
	GetContacts(ctx context.Context) ([]messaging.Contact, error)
	BatchGetContacts(ctx context.Context, requests []messaging.ContactRequest) ([]messaging.Contact, error)
	VerifyUser(ctx context.Context, userName, ticket string) error
}

// Directory maps user names to contacts. It is safe for concurrent
// use: the sync loop writes while event subscribers read.
type Directory struct {
	logger *slog.Logger

	mu       sync.RWMutex
	contacts map[string]Contact
}

// NewDirectory returns an empty directory. If logger is nil,
// slog.Default() is used.
func NewDirectory(logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{logger: logger, contacts: make(map[string]Contact)}
}

// Replace discards every entry and installs contacts.
func (d *Directory) Replace(contacts []Contact) {
	replacement := make(map[string]Contact, len(contacts))
	for _, contact := range contacts {
		if contact.UserName == "" {
			continue
		}
		if existing, ok := replacement[contact.UserName]; ok {
			contact = existing.merge(contact)
		}
		replacement[contact.UserName] = contact
	}
	d.mu.Lock()
	d.contacts = replacement
	d.mu.Unlock()
}

// Merge inserts or updates contacts, leaving every other entry alone,
// and returns the stored records.
func (d *Directory) Merge(contacts []Contact) []Contact {
	d.mu.Lock()
	defer d.mu.Unlock()
	merged := make([]Contact, 0, len(contacts))
	for _, contact := range contacts {
		if contact.UserName == "" {
			continue
		}
		if existing, ok := d.contacts[contact.UserName]; ok {
			contact = existing.merge(contact)
		}
		d.contacts[contact.UserName] = contact
		merged = append(merged, contact)
	}
	return merged
}

// Apply merges server records, such as webwxinit's ContactList or a
// sync delta's ModContactList, and returns the updated contacts.
// Members of group records are added when the directory does not know
// them yet, so that group senders resolve.
func (d *Directory) Apply(wire []messaging.Contact) []Contact {
	contacts := make([]Contact, 0, len(wire))
	var members []Contact
	for _, record := range wire {
		contacts = append(contacts, FromWire(record))
		for _, member := range record.MemberList {
			members = append(members, FromMember(member))
		}
	}
	updated := d.Merge(contacts)
	d.addMissing(members)
	return updated
}

func (d *Directory) addMissing(contacts []Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, contact := range contacts {
		if contact.UserName == "" {
			continue
		}
		if _, ok := d.contacts[contact.UserName]; !ok {
			d.contacts[contact.UserName] = contact
		}
	}
}

// Refresh updates the directory from the server. A full refresh
// fetches the whole contact list, fetches member lists for the groups
// in it, and replaces the directory with the result. An incremental
// refresh fetches only userNames and merges them. Refresh returns the
// contacts it stored.
func (d *Directory) Refresh(ctx context.Context, source Source, full bool, userNames ...string) ([]Contact, error) {
	if !full {
		return d.refreshIncremental(ctx, source, userNames)
	}

	wire, err := source.GetContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("contact: fetching contact list: %w", err)
	}

	var groups []messaging.ContactRequest
	for _, record := range wire {
		if FromWire(record).IsGroup() {
			groups = append(groups, messaging.ContactRequest{UserName: record.UserName})
		}
	}
	if len(groups) > 0 {
		detailed, err := source.BatchGetContacts(ctx, groups)
		if err != nil {
			return nil, fmt.Errorf("contact: fetching group members: %w", err)
		}
		wire = append(wire, detailed...)
	}

	contacts := make([]Contact, 0, len(wire))
	var members []Contact
	for _, record := range wire {
		contacts = append(contacts, FromWire(record))
		for _, member := range record.MemberList {
			members = append(members, FromMember(member))
		}
	}
	d.Replace(contacts)
	d.addMissing(members)

	d.logger.Debug("contact directory replaced", "contacts", len(wire), "groups", len(groups))
	return d.All(), nil
}

func (d *Directory) refreshIncremental(ctx context.Context, source Source, userNames []string) ([]Contact, error) {
	if len(userNames) == 0 {
		return nil, nil
	}
	requests := make([]messaging.ContactRequest, 0, len(userNames))
	seen := make(map[string]bool, len(userNames))
	for _, userName := range userNames {
		if userName == "" || seen[userName] {
			continue
		}
		seen[userName] = true
		request := messaging.ContactRequest{UserName: userName}
		if existing, ok := d.Lookup(userName); ok {
			request.EncryChatRoomID = existing.EncryChatRoomID
		}
		requests = append(requests, request)
	}

	wire, err := source.BatchGetContacts(ctx, requests)
	if err != nil {
		return nil, fmt.Errorf("contact: fetching %d contacts: %w", len(requests), err)
	}
	updated := d.Apply(wire)
	d.logger.Debug("contact directory merged", "requested", len(requests), "returned", len(wire))
	return updated, nil
}

// Lookup returns the contact for userName.
func (d *Directory) Lookup(userName string) (Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	contact, ok := d.contacts[userName]
	return contact, ok
}

// Resolve returns the contact for userName, or ErrNotFound.
func (d *Directory) Resolve(userName string) (Contact, error) {
	if contact, ok := d.Lookup(userName); ok {
		return contact, nil
	}
	return Contact{}, fmt.Errorf("%w: %s", ErrNotFound, userName)
}

// Missing returns the user names the directory does not hold, in the
// order given, without duplicates or empty names.
func (d *Directory) Missing(userNames ...string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var missing []string
	seen := make(map[string]bool)
	for _, userName := range userNames {
		if userName == "" || seen[userName] {
			continue
		}
		seen[userName] = true
		if _, ok := d.contacts[userName]; !ok {
			missing = append(missing, userName)
		}
	}
	return missing
}

// DisplayName returns the display name for userName, or userName
// itself when the contact is not known.
func (d *Directory) DisplayName(userName string) string {
	if contact, ok := d.Lookup(userName); ok {
		return contact.Name()
	}
	return userName
}

// MemberName returns the name to show for userName as a member of
// group: the remark name, then the name the member set in that group,
// then the nickname, then the user name.
func (d *Directory) MemberName(group, userName string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	member, known := d.contacts[userName]
	if member.RemarkName != "" {
		return member.RemarkName
	}
	if name := d.contacts[group].MemberDisplayNames[userName]; name != "" {
		return name
	}
	if known {
		return member.Name()
	}
	return userName
}

// All returns every contact, ordered by user name.
func (d *Directory) All() []Contact {
	d.mu.RLock()
	contacts := make([]Contact, 0, len(d.contacts))
	for _, contact := range d.contacts {
		contacts = append(contacts, contact)
	}
	d.mu.RUnlock()
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].UserName < contacts[j].UserName })
	return contacts
}

// Len returns the number of contacts.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.contacts)
}

// Clear removes every contact.
func (d *Directory) Clear() {
	d.mu.Lock()
	d.contacts = make(map[string]Contact)
	d.mu.Unlock()
}

// VerifyFriend accepts a friend request and merges the new friend
// into the directory. The returned contact is the stored record.
func (d *Directory) VerifyFriend(ctx context.Context, source Source, userName, ticket string) (Contact, error) {
	if userName == "" || ticket == "" {
		return Contact{}, errors.New("contact: verify requires a user name and a ticket")
	}
	if err := source.VerifyUser(ctx, userName, ticket); err != nil {
		return Contact{}, fmt.Errorf("contact: accepting friend request from %s: %w", userName, err)
	}

	updated, err := d.refreshIncremental(ctx, source, []string{userName})
	if err != nil {
		// The request was accepted; record what is known so the new
		// friend resolves until the next refresh fills in the details.
		d.logger.Warn("fetching new friend failed", "user_name", userName, "error", err)
	}
	for _, contact := range updated {
		if contact.UserName == userName {
			return contact, nil
		}
	}
	return d.Merge([]Contact{{UserName: userName}})[0], nil
}
