// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestSyncKeyMerge(t *testing.T) {
	current := SyncKey{Count: 3, List: []SyncKeyPair{{Key: 1, Val: 10}, {Key: 2, Val: 20}, {Key: 3, Val: 30}}}

	t.Run("advances", func(t *testing.T) {
		next := SyncKey{Count: 2, List: []SyncKeyPair{{Key: 2, Val: 25}, {Key: 1, Val: 11}}}
		merged := current.Merge(next)
		if got, want := merged.String(), "1_11|2_25|3_30"; got != want {
			t.Errorf("Merge = %s, want %s", got, want)
		}
		if merged.Count != 3 {
			t.Errorf("Count = %d, want 3", merged.Count)
		}
	})

	t.Run("never rewinds", func(t *testing.T) {
		older := SyncKey{Count: 1, List: []SyncKeyPair{{Key: 1, Val: 5}}}
		if got := current.Merge(older).String(); got != current.String() {
			t.Errorf("Merge with older key = %s, want %s", got, current.String())
		}
	})

	t.Run("new component", func(t *testing.T) {
		extra := SyncKey{Count: 1, List: []SyncKeyPair{{Key: 1000, Val: 1}}}
		if got, want := current.Merge(extra).String(), "1_10|2_20|3_30|1000_1"; got != want {
			t.Errorf("Merge = %s, want %s", got, want)
		}
	})

	t.Run("from empty", func(t *testing.T) {
		if got := (SyncKey{}).Merge(current).String(); got != current.String() {
			t.Errorf("Merge into empty = %s", got)
		}
		if !(SyncKey{}).IsEmpty() {
			t.Error("zero SyncKey is not empty")
		}
	})
}

func TestRawMessageKeepsInput(t *testing.T) {
	input := `{"MsgId":"42","MsgType":99999,"Content":"hi","FutureField":{"x":1}}`
	var message RawMessage
	if err := json.Unmarshal([]byte(input), &message); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if message.MsgID != "42" || message.MsgType != 99999 || message.Content != "hi" {
		t.Errorf("decoded = %+v", message)
	}
	if string(message.Raw) != input {
		t.Errorf("Raw = %s, want input", message.Raw)
	}
}

func TestParseLoginStatus(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		want     LoginStatus
		protocol bool
	}{
		{"pending", "window.code=408;", LoginStatus{State: LoginPending}, false},
		{"scanned", "window.code=201;window.userAvatar = 'data:img/jpg;base64,AAAA';", LoginStatus{State: LoginScanned, AvatarDataURL: "data:img/jpg;base64,AAAA"}, false},
		{"scanned without avatar", "window.code=201;", LoginStatus{State: LoginScanned}, false},
		{"confirmed", "window.code=200;\nwindow.redirect_uri=\"https://wx2.qq.com/cgi-bin/mmwebwx-bin/webwxnewloginpage?ticket=T\";",
			LoginStatus{State: LoginConfirmed, RedirectURL: "https://wx2.qq.com/cgi-bin/mmwebwx-bin/webwxnewloginpage?ticket=T"}, false},
		{"expired", "window.code=400;", LoginStatus{State: LoginExpired}, false},
		{"canceled", "window.code=402;", LoginStatus{State: LoginCanceled}, false},
		{"confirmed without redirect", "window.code=200;", LoginStatus{}, true},
		{"unknown code", "window.code=500;", LoginStatus{}, true},
		{"garbage", "<html></html>", LoginStatus{}, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := parseLoginStatus(test.body)
			if test.protocol {
				var protocolErr *ProtocolError
				if !errors.As(err, &protocolErr) {
					t.Fatalf("error = %v, want *ProtocolError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseLoginStatus failed: %v", err)
			}
			if got != test.want {
				t.Errorf("got %+v, want %+v", got, test.want)
			}
		})
	}
}

func TestCheckRet(t *testing.T) {
	if err := checkRet("op", 0, ""); err != nil {
		t.Errorf("ret 0 = %v, want nil", err)
	}
	for _, ret := range []int{RetLoggedOut, RetLoggedOutElsewhere, RetCookieInvalid} {
		err := checkRet("op", ret, "")
		if !errors.Is(err, ErrSessionInvalid) {
			t.Errorf("ret %d = %v, want ErrSessionInvalid", ret, err)
		}
	}
	err := checkRet("op", 1205, "frequency limit")
	var protocolErr *ProtocolError
	if !errors.As(err, &protocolErr) || protocolErr.Ret != 1205 {
		t.Errorf("ret 1205 = %v, want *ProtocolError", err)
	}
	if IsRetryable(err) {
		t.Error("protocol error reported as retryable")
	}
}
