// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/wxweb/engine"
	"github.com/bureau-foundation/wxweb/lib/contact"
	"github.com/bureau-foundation/wxweb/lib/message"
	"github.com/bureau-foundation/wxweb/lib/testutil"
	"github.com/bureau-foundation/wxweb/messaging"
	"github.com/bureau-foundation/wxweb/messaging/messagingtest"
)

const timeout = 5 * time.Second

// recorder captures every event an engine emits.
type recorder struct {
	uuids       chan engine.UUIDEvent
	avatars     chan string
	logins      chan struct{}
	logouts     chan struct{}
	contacts    chan []contact.Contact
	messages    chan message.Message
	checkpoints chan struct{}
	errors      chan error
}

func newRecorder() *recorder {
	return &recorder{
		uuids:       make(chan engine.UUIDEvent, 16),
		avatars:     make(chan string, 16),
		logins:      make(chan struct{}, 16),
		logouts:     make(chan struct{}, 16),
		contacts:    make(chan []contact.Contact, 64),
		messages:    make(chan message.Message, 64),
		checkpoints: make(chan struct{}, 64),
		errors:      make(chan error, 64),
	}
}

func (r *recorder) observer() engine.Observer {
	return engine.Observer{
		OnUUID:            func(event engine.UUIDEvent) { r.uuids <- event },
		OnUserAvatar:      func(dataURL string) { r.avatars <- dataURL },
		OnLogin:           func() { r.logins <- struct{}{} },
		OnLogout:          func() { r.logouts <- struct{}{} },
		OnContactsUpdated: func(changed []contact.Contact) { r.contacts <- changed },
		OnMessage:         func(decoded message.Message) { r.messages <- decoded },
		OnCheckpoint:      func() { r.checkpoints <- struct{}{} },
		OnError:           func(err error) { r.errors <- err },
	}
}

type harness struct {
	engine *engine.Engine
	events *recorder
	done   chan error
}

type options struct {
	snapshot      *messaging.Snapshot
	loginAttempts int
}

// start creates an engine against server and runs it in the
// background. Cleanup stops it and waits for Run to return.
func start(t *testing.T, server *messagingtest.Server, opts options) *harness {
	t.Helper()
	client, err := messaging.NewClient(messaging.ClientConfig{
		LoginURL:        server.URL(),
		RequestTimeout:  timeout,
		LongPollTimeout: timeout,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	instance, err := engine.New(engine.Config{
		Client: client,
		Retry: engine.RetryPolicy{
			InitialInterval: 5 * time.Millisecond,
			MaxInterval:     20 * time.Millisecond,
			Multiplier:      2,
			MaxAttempts:     3,
		},
		LoginAttempts: opts.loginAttempts,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	h := &harness{engine: instance, events: newRecorder(), done: make(chan error, 1)}
	instance.Subscribe(h.events.observer())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.done <- instance.Run(ctx, opts.snapshot) }()
	t.Cleanup(func() {
		instance.Stop()
		cancel()
		select {
		case <-h.done:
		case <-time.After(timeout): //nolint:realclock test hang prevention
			t.Error("Run did not return after Stop")
		}
	})
	return h
}

// wait returns Run's result.
func (h *harness) wait(t *testing.T) error {
	t.Helper()
	err := testutil.RequireReceive(t, h.done, timeout, "waiting for Run to return")
	h.done <- err
	return err
}

// login scripts an immediate confirmation and waits for the login and
// initial contacts events.
func login(t *testing.T, server *messagingtest.Server) *harness {
	t.Helper()
	server.ScriptLogin(messagingtest.StepScanned, messagingtest.StepConfirmed)
	h := start(t, server, options{})
	testutil.RequireReceive(t, h.events.logins, timeout, "waiting for login")
	testutil.RequireReceive(t, h.events.contacts, timeout, "waiting for initial contacts")
	return h
}

func textMessage(id, from, content string) messaging.RawMessage {
	return messaging.RawMessage{
		MsgID:        id,
		FromUserName: from,
		ToUserName:   messagingtest.SelfUserName,
		MsgType:      int(message.TypeText),
		Content:      content,
		CreateTime:   1760000000,
	}
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := engine.New(engine.Config{}); err == nil {
		t.Fatal("expected an error without a client")
	}
}

func TestQRLogin(t *testing.T) {
	server := messagingtest.New(t)
	server.AddContacts(
		messaging.Contact{UserName: "@alice", NickName: "Alice", ContactFlag: 3},
		messaging.Contact{UserName: "@@room", NickName: "Room", MemberList: []messaging.Member{
			{UserName: "@bob", NickName: "Bob"},
		}},
	)
	server.ScriptLogin(messagingtest.StepScanned, messagingtest.StepConfirmed)
	h := start(t, server, options{})

	uuid := testutil.RequireReceive(t, h.events.uuids, timeout, "waiting for uuid")
	if uuid.UUID.Value != "fake-uuid-1" {
		t.Errorf("uuid = %q", uuid.UUID.Value)
	}
	if uuid.QRCodeContent != server.URL()+"/l/fake-uuid-1" {
		t.Errorf("QRCodeContent = %q", uuid.QRCodeContent)
	}
	avatar := testutil.RequireReceive(t, h.events.avatars, timeout, "waiting for avatar")
	if !strings.HasPrefix(avatar, "data:img/jpg;base64,") {
		t.Errorf("avatar = %q", avatar)
	}
	testutil.RequireReceive(t, h.events.logins, timeout, "waiting for login")
	changed := testutil.RequireReceive(t, h.events.contacts, timeout, "waiting for contacts")
	if len(changed) == 0 {
		t.Error("contacts-updated carried no contacts")
	}

	if state := h.engine.State(); state != engine.StateLoggedIn {
		t.Errorf("State = %v, want %v", state, engine.StateLoggedIn)
	}
	directory := h.engine.Contacts()
	for _, userName := range []string{"@alice", "@@room", "@bob", messagingtest.SelfUserName} {
		if _, ok := directory.Lookup(userName); !ok {
			t.Errorf("directory is missing %s", userName)
		}
	}

	server.QueueBatch(messagingtest.Batch{Messages: []messaging.RawMessage{textMessage("m1", "@alice", "hello")}})
	received := testutil.RequireReceive(t, h.events.messages, timeout, "waiting for message")
	if received.Kind != message.KindText || received.Content != "hello" || received.From != "@alice" {
		t.Errorf("message = %+v", received)
	}
	testutil.RequireReceive(t, h.events.checkpoints, timeout, "waiting for checkpoint")

	h.engine.Stop()
	if err := h.wait(t); err != nil {
		t.Errorf("Run returned %v after Stop", err)
	}
	select {
	case <-h.events.errors:
		t.Error("unexpected error event")
	default:
	}
}

func TestLoginTerminalStates(t *testing.T) {
	tests := []struct {
		name  string
		step  messagingtest.LoginStep
		want  error
		state engine.State
	}{
		{"expired", messagingtest.StepExpired, messaging.ErrLoginExpired, engine.StateExpired},
		{"canceled", messagingtest.StepCanceled, messaging.ErrLoginCanceled, engine.StateFailed},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			server := messagingtest.New(t)
			server.ScriptLogin(test.step)
			h := start(t, server, options{})

			testutil.RequireReceive(t, h.events.uuids, timeout, "waiting for uuid")
			if err := h.wait(t); !errors.Is(err, test.want) {
				t.Fatalf("Run returned %v, want %v", err, test.want)
			}
			reported := testutil.RequireReceive(t, h.events.errors, timeout, "waiting for error event")
			if !errors.Is(reported, test.want) {
				t.Errorf("error event = %v, want %v", reported, test.want)
			}
			if state := h.engine.State(); state != test.state {
				t.Errorf("State = %v, want %v", state, test.state)
			}
			testutil.RequireNoReceive(t, h.events.logins, 50*time.Millisecond, "no login expected")
		})
	}
}

func TestLoginRestartsAfterExpiry(t *testing.T) {
	server := messagingtest.New(t)
	server.ScriptLogin(messagingtest.StepExpired, messagingtest.StepConfirmed)
	h := start(t, server, options{loginAttempts: 2})

	first := testutil.RequireReceive(t, h.events.uuids, timeout, "waiting for first uuid")
	second := testutil.RequireReceive(t, h.events.uuids, timeout, "waiting for second uuid")
	if first.UUID.Value == second.UUID.Value {
		t.Errorf("restart reused uuid %q", first.UUID.Value)
	}
	testutil.RequireReceive(t, h.events.logins, timeout, "waiting for login")
}

func TestForcedLogout(t *testing.T) {
	server := messagingtest.New(t)
	h := login(t, server)

	server.ForceLogout()
	testutil.RequireReceive(t, h.events.logouts, timeout, "waiting for logout")
	if err := h.wait(t); err != nil {
		t.Errorf("Run returned %v, want nil", err)
	}
	if h.engine.Contacts().Len() != 0 {
		t.Errorf("directory still holds %d contacts", h.engine.Contacts().Len())
	}
	if state := h.engine.State(); state != engine.StateIdle {
		t.Errorf("State = %v, want %v", state, engine.StateIdle)
	}
	if _, err := h.engine.Snapshot(); !errors.Is(err, engine.ErrNotLoggedIn) {
		t.Errorf("Snapshot after logout = %v, want ErrNotLoggedIn", err)
	}

	server.QueueBatch(messagingtest.Batch{Messages: []messaging.RawMessage{textMessage("late", "@alice", "late")}})
	testutil.RequireNoReceive(t, h.events.messages, 100*time.Millisecond, "no message after logout")
	testutil.RequireNoReceive(t, h.events.logouts, 50*time.Millisecond, "logout emitted once")
}

func TestLogout(t *testing.T) {
	server := messagingtest.New(t)
	h := login(t, server)

	// A subscriber added mid-session sees the logout too.
	loggedOut := make(chan struct{})
	var once sync.Once
	h.engine.Subscribe(engine.Observer{OnLogout: func() { once.Do(func() { close(loggedOut) }) }})

	if err := h.engine.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	testutil.RequireClosed(t, loggedOut, timeout, "waiting for late subscriber's logout")
	testutil.RequireReceive(t, h.events.logouts, timeout, "waiting for logout")
	if err := h.wait(t); err != nil {
		t.Errorf("Run returned %v, want nil", err)
	}
	if server.Logouts() != 1 {
		t.Errorf("server saw %d logouts, want 1", server.Logouts())
	}
	testutil.RequireNoReceive(t, h.events.logouts, 100*time.Millisecond, "logout emitted once")

	if err := h.engine.Logout(context.Background()); !errors.Is(err, engine.ErrNotLoggedIn) {
		t.Errorf("second Logout = %v, want ErrNotLoggedIn", err)
	}
	if _, err := h.engine.FetchImage(context.Background(), "m1"); !errors.Is(err, engine.ErrNotLoggedIn) {
		t.Errorf("FetchImage after logout = %v, want ErrNotLoggedIn", err)
	}
}

func TestUnknownSendersResolveBeforeDelivery(t *testing.T) {
	server := messagingtest.New(t)
	h := login(t, server)

	server.AddContacts(
		messaging.Contact{UserName: "@stranger", NickName: "Stranger"},
		messaging.Contact{UserName: "@@club", NickName: "Club", MemberList: []messaging.Member{
			{UserName: "@carol", NickName: "Carol"},
		}},
	)
	group := textMessage("m2", "@@club", "@carol:<br/>hi all")
	server.QueueBatch(messagingtest.Batch{Messages: []messaging.RawMessage{
		textMessage("m1", "@stranger", "hi"),
		group,
		textMessage("m3", "@ghost", "boo"),
	}})

	changed := testutil.RequireReceive(t, h.events.contacts, timeout, "waiting for contacts-updated")
	names := make(map[string]contact.Contact)
	for _, updated := range changed {
		names[updated.UserName] = updated
	}
	if names["@stranger"].NickName != "Stranger" {
		t.Errorf("stranger not fetched: %+v", names["@stranger"])
	}
	if _, ok := names["@ghost"]; !ok {
		t.Error("unresolvable sender got no placeholder")
	}

	var received []message.Message
	for range 3 {
		received = append(received, testutil.RequireReceive(t, h.events.messages, timeout, "waiting for messages"))
	}
	if received[0].ID != "m1" || received[1].ID != "m2" || received[2].ID != "m3" {
		t.Errorf("messages out of order: %s %s %s", received[0].ID, received[1].ID, received[2].ID)
	}
	if received[1].Sender != "@carol" || received[1].Content != "hi all" {
		t.Errorf("group message = sender %q content %q", received[1].Sender, received[1].Content)
	}
	if got := received[1].SenderName(h.engine.Contacts()); got != "Carol @ Club" {
		t.Errorf("group sender name = %q, want Carol @ Club", got)
	}
}

func TestContactChangesApplied(t *testing.T) {
	server := messagingtest.New(t)
	server.AddContacts(messaging.Contact{UserName: "@alice", NickName: "Alice"})
	h := login(t, server)

	server.QueueBatch(messagingtest.Batch{ModContacts: []messaging.Contact{
		{UserName: "@alice", NickName: "Alice", RemarkName: "Al"},
	}})
	changed := testutil.RequireReceive(t, h.events.contacts, timeout, "waiting for contacts-updated")
	if len(changed) != 1 || changed[0].Name() != "Al" {
		t.Errorf("changed = %+v", changed)
	}
	if got := h.engine.Contacts().DisplayName("@alice"); got != "Al" {
		t.Errorf("DisplayName = %q, want Al", got)
	}
}

func TestTransportFailuresAreReportedAndSurvived(t *testing.T) {
	server := messagingtest.New(t)
	h := login(t, server)

	server.FailNext("synccheck", 503, 3)
	reported := testutil.RequireReceive(t, h.events.errors, timeout, "waiting for error event")
	var transportErr *messaging.TransportError
	if !errors.As(reported, &transportErr) || transportErr.StatusCode != 503 {
		t.Errorf("error event = %v, want a 503 TransportError", reported)
	}

	id := testutil.UniqueID("msg")
	server.QueueBatch(messagingtest.Batch{Messages: []messaging.RawMessage{textMessage(id, messagingtest.SelfUserName, "still here")}})
	received := testutil.RequireReceive(t, h.events.messages, timeout, "waiting for message after recovery")
	if received.ID != id || received.Content != "still here" {
		t.Errorf("Content = %q", received.Content)
	}
	testutil.RequireNoReceive(t, h.events.logouts, 10*time.Millisecond, "transport failures must not end the session")
}

func TestResumeFromSnapshot(t *testing.T) {
	server := messagingtest.New(t)
	first := login(t, server)

	server.QueueBatch(messagingtest.Batch{Messages: []messaging.RawMessage{textMessage("m1", messagingtest.SelfUserName, "before")}})
	testutil.RequireReceive(t, first.events.messages, timeout, "waiting for first message")
	first.engine.Stop()
	if err := first.wait(t); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	snapshot, err := first.engine.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	encoded, err := messaging.EncodeSnapshot(snapshot)
	if err != nil {
		t.Fatalf("EncodeSnapshot failed: %v", err)
	}
	decoded, err := messaging.DecodeSnapshot(encoded)
	if err != nil {
		t.Fatalf("DecodeSnapshot failed: %v", err)
	}
	again, _ := messaging.EncodeSnapshot(decoded)
	if !bytes.Equal(encoded, again) {
		t.Error("snapshot encoding is not stable")
	}

	second := start(t, server, options{snapshot: decoded})
	testutil.RequireReceive(t, second.events.logins, timeout, "waiting for resumed login")
	testutil.RequireNoReceive(t, second.events.uuids, 10*time.Millisecond, "resume must not request a QR code")

	server.QueueBatch(messagingtest.Batch{Messages: []messaging.RawMessage{textMessage("m2", messagingtest.SelfUserName, "after")}})
	received := testutil.RequireReceive(t, second.events.messages, timeout, "waiting for message after resume")
	if received.ID != "m2" {
		t.Errorf("first message after resume = %s, want m2", received.ID)
	}
	if server.Requests("jslogin") != 1 {
		t.Errorf("jslogin requests = %d, want 1", server.Requests("jslogin"))
	}
	if server.Requests("webwxinit") != 1 {
		t.Errorf("webwxinit requests = %d, want 1", server.Requests("webwxinit"))
	}
}

func TestCheckpointFollowsDeliveredBatch(t *testing.T) {
	server := messagingtest.New(t)
	first := login(t, server)

	// Messages of a batch are delivered before its checkpoint.
	var order []string
	var orderMu sync.Mutex
	checkpointed := make(chan struct{}, 4)
	first.engine.Subscribe(engine.Observer{
		OnMessage: func(decoded message.Message) {
			orderMu.Lock()
			order = append(order, decoded.ID)
			orderMu.Unlock()
		},
		OnCheckpoint: func() {
			orderMu.Lock()
			order = append(order, "checkpoint")
			orderMu.Unlock()
			checkpointed <- struct{}{}
		},
	})

	server.QueueBatch(messagingtest.Batch{Messages: []messaging.RawMessage{
		textMessage("m1", messagingtest.SelfUserName, "one"),
		textMessage("m2", messagingtest.SelfUserName, "two"),
	}})
	testutil.RequireReceive(t, checkpointed, timeout, "waiting for checkpoint")
	orderMu.Lock()
	got := strings.Join(order, ",")
	orderMu.Unlock()
	if got != "m1,m2,checkpoint" {
		t.Errorf("event order = %s, want m1,m2,checkpoint", got)
	}

	// A snapshot taken at the checkpoint, with no clean shutdown after
	// it, resumes past the delivered batch.
	snapshot, err := first.engine.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	first.engine.Stop()
	if err := first.wait(t); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	second := start(t, server, options{snapshot: snapshot})
	testutil.RequireReceive(t, second.events.logins, timeout, "waiting for resumed login")
	server.QueueBatch(messagingtest.Batch{Messages: []messaging.RawMessage{textMessage("m3", messagingtest.SelfUserName, "three")}})
	received := testutil.RequireReceive(t, second.events.messages, timeout, "waiting for message after resume")
	if received.ID != "m3" {
		t.Errorf("first message after resume = %s, want m3", received.ID)
	}
}

func TestInvalidSnapshotFallsBackToQR(t *testing.T) {
	server := messagingtest.New(t)
	first := login(t, server)
	snapshot, err := first.engine.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if err := first.engine.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	first.wait(t)

	server.ScriptLogin(messagingtest.StepConfirmed)
	second := start(t, server, options{snapshot: snapshot})
	testutil.RequireReceive(t, second.events.uuids, timeout, "waiting for QR fallback")
	testutil.RequireReceive(t, second.events.logins, timeout, "waiting for login")
	testutil.RequireNoReceive(t, second.events.logouts, 10*time.Millisecond, "a rejected snapshot is not a logout")
}

func TestFetchMedia(t *testing.T) {
	server := messagingtest.New(t)
	h := login(t, server)
	payload := []byte("\x89PNG\r\n\x1a\nfake image")
	server.SetMedia("webwxgetmsgimg", "m1", payload, "image/png")

	media, err := h.engine.FetchMedia(context.Background(), message.MediaReference{MsgID: "m1", Kind: message.MediaImage})
	if err != nil {
		t.Fatalf("FetchMedia failed: %v", err)
	}
	if !bytes.Equal(media.Data, payload) || media.ContentType != "image/png" {
		t.Errorf("media = %q %q", media.Data, media.ContentType)
	}

	_, err = h.engine.FetchMedia(context.Background(), message.MediaReference{MsgID: "gone", Kind: message.MediaVoice})
	if !errors.Is(err, messaging.ErrMediaUnavailable) {
		t.Errorf("missing voice = %v, want ErrMediaUnavailable", err)
	}
	if state := h.engine.State(); state != engine.StateLoggedIn {
		t.Errorf("State = %v after a media failure", state)
	}
}

func TestVerifyFriend(t *testing.T) {
	server := messagingtest.New(t)
	h := login(t, server)

	friend, err := h.engine.VerifyFriend(context.Background(), "@newfriend", "ticket-1")
	if err != nil {
		t.Fatalf("VerifyFriend failed: %v", err)
	}
	if friend.NickName != "friend @newfriend" {
		t.Errorf("friend = %+v", friend)
	}
	verified := server.Verified()
	if len(verified) != 1 || verified[0].Ticket != "ticket-1" {
		t.Errorf("server verified %+v", verified)
	}
	if _, ok := h.engine.Contacts().Lookup("@newfriend"); !ok {
		t.Error("new friend missing from directory")
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	server := messagingtest.New(t)
	h := login(t, server)
	if err := h.engine.Run(context.Background(), nil); !errors.Is(err, engine.ErrAlreadyRunning) {
		t.Errorf("second Run = %v, want ErrAlreadyRunning", err)
	}
}
