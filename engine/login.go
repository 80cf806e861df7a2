// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/wxweb/lib/contact"
	"github.com/bureau-foundation/wxweb/messaging"
)

// errStopped ends a login when Stop is called mid-flow.
var errStopped = errors.New("engine: stopped")

// Login runs one QR login: it obtains a login UUID, emits it, and
// polls until the phone confirms, the code expires, or the user
// cancels. On confirmation it exchanges the ticket, initializes the
// session, loads the contact directory, and emits login followed by
// contacts-updated.
//
// Expiry and cancellation return errors matching
// messaging.ErrLoginExpired and messaging.ErrLoginCanceled after
// emitting them on the error event. Login does not start the sync
// loop; Run does.
func (e *Engine) Login(ctx context.Context) error {
	if e.currentSession() != nil {
		return errors.New("engine: already logged in")
	}

	e.setState(StateUUIDRequested)
	uuid, err := retryCall(ctx, e, "login uuid", func() (messaging.LoginUUID, error) {
		return e.client.RequestUUID(ctx)
	})
	if err != nil {
		return e.loginFailed(StateFailed, err)
	}
	e.logger.Info("login code issued", "uuid", uuid.Value)
	e.setState(StateAwaitingScan)
	e.events.uuid(UUIDEvent{
		UUID:          uuid,
		QRCodeURL:     e.client.QRCodeURL(uuid),
		QRCodeContent: e.client.QRCodeContent(uuid),
	})

	redirectURL, err := e.awaitConfirmation(ctx, uuid)
	if err != nil {
		switch {
		case errors.Is(err, messaging.ErrLoginExpired):
			return e.loginFailed(StateExpired, err)
		case errors.Is(err, errStopped), ctx.Err() != nil:
			e.setState(StateIdle)
			return err
		default:
			return e.loginFailed(StateFailed, err)
		}
	}

	session, err := e.client.ExchangeTicket(ctx, redirectURL)
	if err != nil {
		return e.loginFailed(StateFailed, err)
	}
	initResponse, err := retryCall(ctx, e, "init", func() (*messaging.InitResponse, error) {
		return session.Init(ctx)
	})
	if err != nil {
		return e.loginFailed(StateFailed, err)
	}
	if err := session.StatusNotify(ctx); err != nil {
		e.logger.Warn("status notify failed", "error", err)
	}

	e.install(session)
	e.loadContacts(ctx, session, initResponse.ContactList)
	return nil
}

// awaitConfirmation polls the login status until the phone confirms
// and returns the redirect URL carrying the ticket.
func (e *Engine) awaitConfirmation(ctx context.Context, uuid messaging.LoginUUID) (string, error) {
	scanned := false
	for {
		if e.stopped() {
			return "", errStopped
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		status, err := retryCall(ctx, e, "login poll", func() (messaging.LoginStatus, error) {
			return e.client.PollLogin(ctx, uuid, !scanned)
		})
		if err != nil {
			return "", err
		}

		switch status.State {
		case messaging.LoginPending:
		case messaging.LoginScanned:
			if !scanned {
				scanned = true
				e.setState(StateAwaitingConfirmation)
				e.logger.Info("login code scanned")
				e.events.userAvatar(status.AvatarDataURL)
			}
		case messaging.LoginConfirmed:
			return status.RedirectURL, nil
		case messaging.LoginExpired:
			return "", messaging.ErrLoginExpired
		case messaging.LoginCanceled:
			return "", messaging.ErrLoginCanceled
		default:
			return "", fmt.Errorf("engine: unexpected login state %v", status.State)
		}
	}
}

func (e *Engine) loginFailed(state State, err error) error {
	e.setState(state)
	e.logger.Warn("login failed", "state", state, "error", err)
	e.events.reportError(err)
	return err
}

// loadContacts fills the directory after login. The full refresh is
// best effort: when it fails the init contacts are still usable and
// unknown names are fetched as messages reference them.
func (e *Engine) loadContacts(ctx context.Context, session *messaging.Session, initial []messaging.Contact) {
	_, err := retryCall(ctx, e, "contact list", func() ([]contact.Contact, error) {
		return e.directory.Refresh(ctx, session, true)
	})
	if err != nil {
		e.logger.Warn("loading contact list failed", "error", err)
	}
	e.directory.Apply(initial)
	e.directory.Merge([]contact.Contact{contact.FromWire(session.User())})
	e.logger.Info("contact directory loaded", "contacts", e.directory.Len())
	e.events.contactsUpdated(e.directory.All())
}

// resume restores a persisted session and checks that the server
// still honors it by loading the contact list. No login handshake or
// init call is made, so the sync cursor carries on where the snapshot
// left it.
func (e *Engine) resume(ctx context.Context, snapshot *messaging.Snapshot) (*messaging.Session, error) {
	session, err := e.client.RestoreSession(snapshot)
	if err != nil {
		return nil, err
	}
	_, err = retryCall(ctx, e, "contact list", func() ([]contact.Contact, error) {
		return e.directory.Refresh(ctx, session, true)
	})
	if err != nil {
		e.directory.Clear()
		return nil, fmt.Errorf("engine: validating restored session: %w", err)
	}
	e.logger.Info("session restored", "user_name", session.UserName())

	e.install(session)
	e.events.contactsUpdated(e.directory.All())
	return session, nil
}
