// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/wxweb/engine"
	"github.com/bureau-foundation/wxweb/lib/contact"
	"github.com/bureau-foundation/wxweb/lib/message"
	"github.com/bureau-foundation/wxweb/lib/sessionstore"
	"github.com/bureau-foundation/wxweb/messaging"
)

// checkpointInterval is the least time between session saves on sync
// checkpoints. A crash re-delivers at most the batches since the last
// save.
const checkpointInterval = 10 * time.Second

type styles struct {
	header lipgloss.Style
	time   lipgloss.Style
	name   lipgloss.Style
	notice lipgloss.Style
}

// newStyles returns transcript styles. Without a terminal every style
// renders plain text.
func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{header: plain, time: plain, name: plain, notice: plain}
	}
	return styles{
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		time:   lipgloss.NewStyle().Faint(true),
		name:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		notice: lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("8")),
	}
}

// subscriber prints engine events and acts on them. Callbacks run on
// the engine's goroutine, so media downloads and friend acceptance are
// handed to goroutines tracked by pending.
type subscriber struct {
	ctx           context.Context
	engine        *engine.Engine
	store         *sessionstore.File
	history       *message.History
	mediaDir      string
	acceptFriends bool
	output        io.Writer
	styles        styles
	logger        *slog.Logger
	now           func() time.Time

	mu      sync.Mutex
	pending sync.WaitGroup

	saveMu    sync.Mutex
	lastSaved time.Time
}

func (s *subscriber) observer() engine.Observer {
	return engine.Observer{
		OnUUID:       s.onUUID,
		OnUserAvatar: func(string) { s.notice("Scanned. Confirm the login on your phone.") },
		OnLogin:      s.onLogin,
		OnLogout:     s.onLogout,
		OnContactsUpdated: func(changed []contact.Contact) {
			s.logger.Debug("contacts updated", "changed", len(changed), "total", s.engine.Contacts().Len())
		},
		OnMessage:    s.onMessage,
		OnCheckpoint: s.onCheckpoint,
		OnError: func(err error) {
			s.logger.Error("engine error", "error", err)
		},
	}
}

func (s *subscriber) println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.output, line)
}

func (s *subscriber) notice(text string) {
	s.println(s.styles.notice.Render(text))
}

func (s *subscriber) onUUID(event engine.UUIDEvent) {
	s.println(s.styles.header.Render("Scan this QR code with the phone app to log in:"))
	s.println("  " + event.QRCodeURL)
	s.println("  (code content: " + event.QRCodeContent + ")")
}

func (s *subscriber) onLogin() {
	s.println(s.styles.header.Render("Logged in."))
	s.persist()
}

func (s *subscriber) onLogout() {
	s.println(s.styles.header.Render("Logged out."))
	if s.store == nil {
		return
	}
	if err := s.store.Delete(); err != nil {
		s.logger.Warn("removing session file failed", "error", err)
	}
}

func (s *subscriber) currentTime() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// onCheckpoint saves the advanced sync position, unless the session
// was saved less than checkpointInterval ago.
func (s *subscriber) onCheckpoint() {
	s.saveMu.Lock()
	recent := !s.lastSaved.IsZero() && s.currentTime().Sub(s.lastSaved) < checkpointInterval
	s.saveMu.Unlock()
	if !recent {
		s.persist()
	}
}

// persist saves the current session, if any.
func (s *subscriber) persist() {
	if s.store == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	snapshot, err := s.engine.Snapshot()
	if errors.Is(err, engine.ErrNotLoggedIn) {
		return
	}
	if err != nil {
		s.logger.Warn("snapshotting session failed", "error", err)
		return
	}
	if err := s.store.Save(snapshot); err != nil {
		s.logger.Warn("saving session failed", "path", s.store.Path, "error", err)
		return
	}
	s.lastSaved = s.currentTime()
}

func (s *subscriber) onMessage(decoded message.Message) {
	line := s.format(decoded)
	if s.history != nil {
		s.history.Add(decoded)
	}
	if line != "" {
		s.println(line)
	}

	if decoded.Media != nil && s.mediaDir != "" {
		reference := *decoded.Media
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			s.saveMedia(decoded.ID, reference)
		}()
	}
	if decoded.Kind == message.KindFriendRequest && s.acceptFriends && decoded.Recommend != nil {
		recommend := *decoded.Recommend
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			s.acceptFriend(recommend)
		}()
	}
}

// format renders one transcript line. Client-state records render as
// an empty string and are not printed.
func (s *subscriber) format(decoded message.Message) string {
	var body string
	switch decoded.Kind {
	case message.KindText, message.KindSystem:
		body = decoded.Content
	case message.KindLocation:
		body = "[location] " + decoded.Content
		if decoded.URL != "" {
			body += " " + decoded.URL
		}
	case message.KindImage, message.KindEmoticon, message.KindVoice, message.KindVideo:
		body = "[" + decoded.Kind.String() + "]"
	case message.KindFile:
		body = fmt.Sprintf("[file] %s (%d bytes)", decoded.FileName, decoded.FileSize)
	case message.KindTransfer:
		body = "[transfer] " + decoded.Content
		if decoded.App != nil && decoded.App.Transfer != nil {
			body += " " + decoded.App.Transfer.FeeDescription
		}
	case message.KindApp:
		body = "[" + decoded.AppType.String() + "] " + decoded.Content
		if decoded.URL != "" {
			body += " " + decoded.URL
		}
	case message.KindRecall:
		body = s.formatRecall(decoded)
	case message.KindFriendRequest:
		body = "[friend request] " + decoded.Content
	case message.KindCard:
		if decoded.Recommend != nil {
			body = "[card] " + decoded.Recommend.NickName
		} else {
			body = "[card]"
		}
	case message.KindVoIP:
		body = "[call]"
	case message.KindStatusNotify:
		return ""
	default:
		body = fmt.Sprintf("[unsupported message type %d]", int(decoded.Type))
	}

	now := s.currentTime()
	name := decoded.SenderName(s.engine.Contacts())
	return strings.TrimSpace(fmt.Sprintf("%s %s: %s",
		s.styles.time.Render(decoded.DisplayTime(now)),
		s.styles.name.Render(name),
		body,
	))
}

func (s *subscriber) formatRecall(notice message.Message) string {
	if s.history != nil {
		if original, ok := s.history.Recalled(notice); ok && original.Content != "" {
			return fmt.Sprintf("recalled %q", original.Content)
		}
	}
	if notice.Content != "" {
		return notice.Content
	}
	return "recalled a message"
}

func (s *subscriber) saveMedia(msgID string, reference message.MediaReference) {
	media, err := s.engine.FetchMedia(s.ctx, reference)
	if errors.Is(err, messaging.ErrMediaUnavailable) {
		s.logger.Warn("media unavailable", "msg_id", msgID, "kind", reference.Kind)
		return
	}
	if err != nil {
		s.logger.Warn("fetching media failed", "msg_id", msgID, "kind", reference.Kind, "error", err)
		return
	}

	path := filepath.Join(s.mediaDir, mediaFileName(media))
	if err := os.WriteFile(path, media.Data, 0600); err != nil {
		s.logger.Warn("writing media failed", "path", path, "error", err)
		return
	}
	s.notice(fmt.Sprintf("saved %s %s (%d bytes)", reference.Kind, path, len(media.Data)))
}

// mediaFileName names a payload by its content digest, so a payload
// fetched twice lands in the same file.
func mediaFileName(media *messaging.Media) string {
	extension := filepath.Ext(media.FileName)
	if extension == "" {
		mediaType, _, _ := mime.ParseMediaType(media.ContentType)
		if extensions, err := mime.ExtensionsByType(mediaType); err == nil && len(extensions) > 0 {
			extension = extensions[0]
		}
	}
	return media.Digest()[:32] + extension
}

func (s *subscriber) acceptFriend(recommend message.Recommendation) {
	friend, err := s.engine.VerifyFriend(s.ctx, recommend.UserName, recommend.Ticket)
	if err != nil {
		s.logger.Warn("accepting friend request failed", "user_name", recommend.UserName, "error", err)
		return
	}
	s.notice("accepted friend request from " + friend.Name())
}

// wait blocks until background media and friend work has finished.
func (s *subscriber) wait() {
	s.pending.Wait()
}
