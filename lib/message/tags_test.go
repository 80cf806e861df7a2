// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package message

import "testing"

func TestConstantsTables(t *testing.T) {
	types := Types()
	if len(types) != 18 {
		t.Errorf("Types has %d entries, want 18", len(types))
	}
	for i, tag := range types {
		if !Type(tag.Value).Known() || tag.Name == "" {
			t.Errorf("entry %+v is not a known named type", tag)
		}
		if i > 0 && types[i-1].Value >= tag.Value {
			t.Errorf("Types not ordered at %d", i)
		}
	}

	appTypes := AppTypes()
	if len(appTypes) != 17 {
		t.Errorf("AppTypes has %d entries, want 17", len(appTypes))
	}
	for i, tag := range appTypes {
		if i > 0 && appTypes[i-1].Value >= tag.Value {
			t.Errorf("AppTypes not ordered at %d", i)
		}
	}

	// Tables are copies: modifying one does not affect the next call.
	types[0].Name = "changed"
	if Types()[0].Name != "text" {
		t.Error("Types returned shared storage")
	}
}

func TestTagStrings(t *testing.T) {
	if TypeMicroVideo.String() != "micro-video" {
		t.Errorf("TypeMicroVideo = %q", TypeMicroVideo.String())
	}
	if Type(5).String() != "type(5)" {
		t.Errorf("Type(5) = %q", Type(5).String())
	}
	if AppTypeTransfer.String() != "transfer" {
		t.Errorf("AppTypeTransfer = %q", AppTypeTransfer.String())
	}
	if AppType(11).Known() {
		t.Error("AppType 11 reported as known")
	}
	if KindFriendRequest.String() != "friend-request" || Kind(99).String() != "unknown" {
		t.Error("Kind names wrong")
	}
}
