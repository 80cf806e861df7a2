// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/wxweb/lib/clock"
	"github.com/bureau-foundation/wxweb/lib/contact"
	"github.com/bureau-foundation/wxweb/lib/message"
	"github.com/bureau-foundation/wxweb/messaging"
)

// Engine owns one session's lifecycle. Create one with New.
type Engine struct {
	client        *messaging.Client
	directory     *contact.Directory
	retry         RetryPolicy
	loginAttempts int
	clock         clock.Clock
	logger        *slog.Logger

	events bus

	mu      sync.RWMutex
	session *messaging.Session
	state   State

	running  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
}

// New creates an Engine.
func New(config Config) (*Engine, error) {
	if config.Client == nil {
		return nil, errors.New("engine: Config.Client is required")
	}
	engine := &Engine{
		client:        config.Client,
		directory:     config.Directory,
		retry:         config.Retry.withDefaults(),
		loginAttempts: max(config.LoginAttempts, 1),
		clock:         config.Clock,
		logger:        config.Logger,
		stop:          make(chan struct{}),
	}
	if engine.clock == nil {
		engine.clock = config.Client.Clock()
	}
	if engine.logger == nil {
		engine.logger = slog.Default()
	}
	if engine.directory == nil {
		engine.directory = contact.NewDirectory(engine.logger)
	}
	return engine, nil
}

// Subscribe registers an observer and returns a function that removes
// it. Events emitted after Subscribe returns reach the observer.
func (e *Engine) Subscribe(observer Observer) (unsubscribe func()) {
	return e.events.subscribe(observer)
}

// Run establishes a session and runs the sync loop.
//
// If snapshot is non-nil, Run restores it and checks that the server
// still accepts it by fetching the contact list; when that fails it
// falls back to QR login. Run returns nil when the session ends
// (logout on either side) or Stop is called, the context's error when
// ctx is canceled, and the login error when login fails.
func (e *Engine) Run(ctx context.Context, snapshot *messaging.Snapshot) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	session, err := e.establish(ctx, snapshot)
	if err != nil {
		if e.stopped() {
			return nil
		}
		return err
	}
	return e.syncLoop(ctx, session)
}

func (e *Engine) establish(ctx context.Context, snapshot *messaging.Snapshot) (*messaging.Session, error) {
	if snapshot != nil {
		session, err := e.resume(ctx, snapshot)
		if err == nil {
			return session, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("persisted session rejected, falling back to QR login", "error", err)
	}

	for attempt := 1; ; attempt++ {
		err := e.Login(ctx)
		if err == nil {
			return e.currentSession(), nil
		}
		retryable := errors.Is(err, messaging.ErrLoginExpired) || errors.Is(err, messaging.ErrLoginCanceled)
		if !retryable || attempt >= e.loginAttempts || e.stopped() {
			return nil, err
		}
		e.logger.Info("restarting login", "attempt", attempt+1, "max_attempts", e.loginAttempts)
	}
}

// Stop asks the sync loop to finish. The loop checks between
// iterations, so an in-flight long-poll completes or times out first.
// Stop is safe to call more than once and from callbacks.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func (e *Engine) stopped() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

// State returns the current login state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(state State) {
	e.mu.Lock()
	previous := e.state
	e.state = state
	e.mu.Unlock()
	if previous != state {
		e.logger.Debug("login state changed", "from", previous, "to", state)
	}
}

// Contacts returns the contact directory. It stays valid across
// sessions; logout clears it.
func (e *Engine) Contacts() *contact.Directory {
	return e.directory
}

func (e *Engine) currentSession() *messaging.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session
}

func (e *Engine) requireSession() (*messaging.Session, error) {
	session := e.currentSession()
	if session == nil {
		return nil, ErrNotLoggedIn
	}
	return session, nil
}

// install makes session the engine's session and announces the login.
func (e *Engine) install(session *messaging.Session) {
	e.mu.Lock()
	e.session = session
	e.state = StateLoggedIn
	e.mu.Unlock()
	e.directory.Merge([]contact.Contact{contact.FromWire(session.User())})
	e.logger.Info("logged in", "user_name", session.UserName(), "nick_name", session.User().NickName)
	e.events.login()
}

// endSession drops session if it is still current: clears the
// directory and emits logout. It reports whether it did anything, so
// that a session ended by Logout is not announced twice.
func (e *Engine) endSession(session *messaging.Session, reason error) bool {
	e.mu.Lock()
	if e.session != session || session == nil {
		e.mu.Unlock()
		return false
	}
	e.session = nil
	e.state = StateIdle
	e.mu.Unlock()

	e.directory.Clear()
	session.Client().CloseIdleConnections()
	e.logger.Info("logged out", "reason", reason)
	e.events.logout()
	return true
}

// Snapshot returns the serializable state of the current session.
func (e *Engine) Snapshot() (*messaging.Snapshot, error) {
	session, err := e.requireSession()
	if err != nil {
		return nil, err
	}
	return session.Snapshot(), nil
}

// Logout ends the session on the server, clears the directory, emits
// logout, and makes the sync loop finish. A server-side failure is
// returned after the local session has been ended anyway.
func (e *Engine) Logout(ctx context.Context) error {
	session, err := e.requireSession()
	if err != nil {
		return err
	}
	logoutErr := session.Logout(ctx)
	e.endSession(session, errors.New("logout requested"))
	if logoutErr != nil {
		return fmt.Errorf("engine: server logout: %w", logoutErr)
	}
	return nil
}

// FetchImage downloads the image of an image or emoticon message.
func (e *Engine) FetchImage(ctx context.Context, msgID string) (*messaging.Media, error) {
	session, err := e.requireSession()
	if err != nil {
		return nil, err
	}
	return session.FetchImage(ctx, msgID)
}

// FetchVoice downloads the audio of a voice message.
func (e *Engine) FetchVoice(ctx context.Context, msgID string) (*messaging.Media, error) {
	session, err := e.requireSession()
	if err != nil {
		return nil, err
	}
	return session.FetchVoice(ctx, msgID)
}

// FetchVideo downloads the video of a video or micro-video message.
func (e *Engine) FetchVideo(ctx context.Context, msgID string) (*messaging.Media, error) {
	session, err := e.requireSession()
	if err != nil {
		return nil, err
	}
	return session.FetchVideo(ctx, msgID)
}

// FetchFile downloads a file attachment.
func (e *Engine) FetchFile(ctx context.Context, owner, mediaID, fileName string) (*messaging.Media, error) {
	session, err := e.requireSession()
	if err != nil {
		return nil, err
	}
	return session.FetchFile(ctx, owner, mediaID, fileName)
}

// FetchMedia downloads the payload a decoded message refers to.
func (e *Engine) FetchMedia(ctx context.Context, reference message.MediaReference) (*messaging.Media, error) {
	switch reference.Kind {
	case message.MediaImage:
		return e.FetchImage(ctx, reference.MsgID)
	case message.MediaVoice:
		return e.FetchVoice(ctx, reference.MsgID)
	case message.MediaVideo:
		return e.FetchVideo(ctx, reference.MsgID)
	case message.MediaFile:
		return e.FetchFile(ctx, reference.Owner, reference.MediaID, reference.FileName)
	default:
		return nil, fmt.Errorf("engine: no media of kind %v", reference.Kind)
	}
}

// VerifyFriend accepts a friend request. userName and ticket come
// from the request message's Recommendation. The new friend is merged
// into the directory and returned.
func (e *Engine) VerifyFriend(ctx context.Context, userName, ticket string) (contact.Contact, error) {
	session, err := e.requireSession()
	if err != nil {
		return contact.Contact{}, err
	}
	return e.directory.VerifyFriend(ctx, session, userName, ticket)
}
