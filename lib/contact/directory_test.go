// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contact

import (
	"context"
	"errors"
	"testing"

	"github.com/bureau-foundation/wxweb/messaging"
)

// fakeSource serves a fixed roster.
type fakeSource struct {
	roster     []messaging.Contact
	detail     map[string]messaging.Contact
	verifyErr  error
	batchErr   error
	batchCalls [][]messaging.ContactRequest
	verified   []string
}

func (f *fakeSource) GetContacts(ctx context.Context) ([]messaging.Contact, error) {
	return f.roster, nil
}

func (f *fakeSource) BatchGetContacts(ctx context.Context, requests []messaging.ContactRequest) ([]messaging.Contact, error) {
	f.batchCalls = append(f.batchCalls, requests)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	var found []messaging.Contact
	for _, request := range requests {
		if contact, ok := f.detail[request.UserName]; ok {
			found = append(found, contact)
		}
	}
	return found, nil
}

func (f *fakeSource) VerifyUser(ctx context.Context, userName, ticket string) error {
	if f.verifyErr != nil {
		return f.verifyErr
	}
	f.verified = append(f.verified, userName+"/"+ticket)
	return nil
}

func TestFullRefreshReplaces(t *testing.T) {
	directory := NewDirectory(nil)
	directory.Merge([]Contact{{UserName: "@stale", NickName: "Stale"}})

	source := &fakeSource{
		roster: []messaging.Contact{
			{UserName: "@alice", NickName: "Alice"},
			{UserName: "@@team", NickName: "Team"},
		},
		detail: map[string]messaging.Contact{
			"@@team": {
				UserName:    "@@team",
				NickName:    "Team",
				MemberCount: 2,
				MemberList: []messaging.Member{
					{UserName: "@alice", NickName: "Alice (member)"},
					{UserName: "@bob", NickName: "Bob", DisplayName: "Bobby"},
				},
			},
		},
	}
	contacts, err := directory.Refresh(context.Background(), source, true)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(contacts) != 3 || directory.Len() != 3 {
		t.Fatalf("directory has %d contacts (%d returned), want 3", directory.Len(), len(contacts))
	}
	if _, err := directory.Resolve("@stale"); !errors.Is(err, ErrNotFound) {
		t.Errorf("full refresh kept @stale: err = %v", err)
	}

	team, err := directory.Resolve("@@team")
	if err != nil {
		t.Fatalf("Resolve(@@team) failed: %v", err)
	}
	if !team.IsGroup() || len(team.Members) != 2 {
		t.Errorf("team = %+v, want group with 2 members", team)
	}
	if alice, _ := directory.Lookup("@alice"); alice.NickName != "Alice" {
		t.Errorf("member record overwrote friend: %+v", alice)
	}
	if got := directory.DisplayName("@bob"); got != "Bob" {
		t.Errorf("DisplayName(@bob) = %q, want Bob", got)
	}
	if got := directory.MemberName("@@team", "@bob"); got != "Bobby" {
		t.Errorf("MemberName(@@team, @bob) = %q, want Bobby", got)
	}
	if len(source.batchCalls) != 1 || len(source.batchCalls[0]) != 1 {
		t.Errorf("batch calls = %+v, want one call for the group", source.batchCalls)
	}
}

func TestIncrementalRefreshPreserves(t *testing.T) {
	directory := NewDirectory(nil)
	directory.Replace([]Contact{
		{UserName: "@alice", NickName: "Alice", RemarkName: "Al"},
		{UserName: "@carol", NickName: "Carol"},
	})

	source := &fakeSource{detail: map[string]messaging.Contact{
		"@alice": {UserName: "@alice", NickName: "Alice Renamed"},
		"@dave":  {UserName: "@dave", NickName: "Dave"},
	}}
	updated, err := directory.Refresh(context.Background(), source, false, "@alice", "@dave", "@dave", "")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(updated) != 2 {
		t.Errorf("updated %d contacts, want 2", len(updated))
	}
	if directory.Len() != 3 {
		t.Errorf("Len = %d, want 3 (incremental refresh removed or lost entries)", directory.Len())
	}
	alice, _ := directory.Lookup("@alice")
	if alice.NickName != "Alice Renamed" || alice.RemarkName != "Al" {
		t.Errorf("alice = %+v, want new nickname and kept remark", alice)
	}
	if _, ok := directory.Lookup("@carol"); !ok {
		t.Error("incremental refresh removed @carol")
	}
	if len(source.batchCalls[0]) != 2 {
		t.Errorf("requested %+v, want deduplicated @alice and @dave", source.batchCalls[0])
	}

	if updated, err := directory.Refresh(context.Background(), source, false); err != nil || updated != nil {
		t.Errorf("empty incremental refresh = %v, %v", updated, err)
	}
}

func TestApplyAddsUnknownMembersOnly(t *testing.T) {
	directory := NewDirectory(nil)
	directory.Merge([]Contact{{UserName: "@alice", NickName: "Alice"}})

	updated := directory.Apply([]messaging.Contact{{
		UserName: "@@g",
		NickName: "Group",
		MemberList: []messaging.Member{
			{UserName: "@alice", NickName: "ignored"},
			{UserName: "@erin", NickName: "Erin"},
		},
	}})
	if len(updated) != 1 || updated[0].UserName != "@@g" {
		t.Errorf("updated = %+v", updated)
	}
	if alice, _ := directory.Lookup("@alice"); alice.NickName != "Alice" {
		t.Errorf("alice overwritten: %+v", alice)
	}
	if _, ok := directory.Lookup("@erin"); !ok {
		t.Error("member @erin not added")
	}
}

func TestMissing(t *testing.T) {
	directory := NewDirectory(nil)
	directory.Merge([]Contact{{UserName: "@a"}})
	missing := directory.Missing("@a", "@b", "", "@b", "@c")
	if len(missing) != 2 || missing[0] != "@b" || missing[1] != "@c" {
		t.Errorf("Missing = %v, want [@b @c]", missing)
	}
}

func TestVerifyFriend(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		directory := NewDirectory(nil)
		source := &fakeSource{detail: map[string]messaging.Contact{
			"@new": {UserName: "@new", NickName: "New Friend"},
		}}
		contact, err := directory.VerifyFriend(context.Background(), source, "@new", "v2_ticket")
		if err != nil {
			t.Fatalf("VerifyFriend failed: %v", err)
		}
		if contact.NickName != "New Friend" {
			t.Errorf("contact = %+v", contact)
		}
		if len(source.verified) != 1 || source.verified[0] != "@new/v2_ticket" {
			t.Errorf("verified = %v", source.verified)
		}
		if _, ok := directory.Lookup("@new"); !ok {
			t.Error("new friend not merged")
		}
	})

	t.Run("detail fetch fails", func(t *testing.T) {
		directory := NewDirectory(nil)
		source := &fakeSource{batchErr: errors.New("boom")}
		contact, err := directory.VerifyFriend(context.Background(), source, "@new", "v2_ticket")
		if err != nil {
			t.Fatalf("VerifyFriend failed: %v", err)
		}
		if contact.UserName != "@new" {
			t.Errorf("contact = %+v", contact)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		directory := NewDirectory(nil)
		source := &fakeSource{verifyErr: &messaging.ProtocolError{Op: "webwxverifyuser", Ret: -1}}
		_, err := directory.VerifyFriend(context.Background(), source, "@new", "bad")
		var protocolErr *messaging.ProtocolError
		if !errors.As(err, &protocolErr) {
			t.Errorf("error = %v, want wrapped *ProtocolError", err)
		}
		if directory.Len() != 0 {
			t.Error("rejected friend merged into directory")
		}
	})

	t.Run("missing ticket", func(t *testing.T) {
		if _, err := NewDirectory(nil).VerifyFriend(context.Background(), &fakeSource{}, "@new", ""); err == nil {
			t.Error("expected error without ticket")
		}
	})
}

func TestClear(t *testing.T) {
	directory := NewDirectory(nil)
	directory.Merge([]Contact{{UserName: "@a"}, {UserName: "@b"}})
	directory.Clear()
	if directory.Len() != 0 || len(directory.All()) != 0 {
		t.Error("Clear left contacts behind")
	}
}

func TestGroupDisplayNameStaysInGroup(t *testing.T) {
	directory := NewDirectory(nil)
	directory.Apply([]messaging.Contact{{
		UserName:   "@@team",
		NickName:   "Team",
		MemberList: []messaging.Member{{UserName: "@dave", NickName: "Dave", DisplayName: "Team Lead"}},
	}})
	if got := directory.DisplayName("@dave"); got != "Dave" {
		t.Errorf("DisplayName(@dave) = %q, want Dave", got)
	}

	source := &fakeSource{detail: map[string]messaging.Contact{
		"@dave": {UserName: "@dave", NickName: "Dave", ContactFlag: 3},
	}}
	if _, err := directory.VerifyFriend(context.Background(), source, "@dave", "ticket"); err != nil {
		t.Fatalf("VerifyFriend failed: %v", err)
	}
	if got := directory.DisplayName("@dave"); got != "Dave" {
		t.Errorf("after VerifyFriend DisplayName(@dave) = %q, want Dave", got)
	}
	if got := directory.MemberName("@@team", "@dave"); got != "Team Lead" {
		t.Errorf("MemberName(@@team, @dave) = %q, want Team Lead", got)
	}

	directory.Merge([]Contact{{UserName: "@dave", RemarkName: "D"}})
	if got := directory.MemberName("@@team", "@dave"); got != "D" {
		t.Errorf("MemberName with remark = %q, want D", got)
	}
	if got := directory.MemberName("@@team", "@nobody"); got != "@nobody" {
		t.Errorf("MemberName of unknown = %q", got)
	}
}
