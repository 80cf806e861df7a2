// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/wxweb/lib/contact"
	"github.com/bureau-foundation/wxweb/lib/message"
	"github.com/bureau-foundation/wxweb/messaging"
)

// syncLoop long-polls for changes until the session ends, Stop is
// called, or ctx is canceled. Transport failures are retried with
// backoff indefinitely; every MaxAttempts consecutive failures are
// reported on the error event. The loop survives them.
func (e *Engine) syncLoop(ctx context.Context, session *messaging.Session) error {
	policy := e.newBackOff()
	failures := 0

	for {
		if e.stopped() || e.currentSession() != session {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := e.syncOnce(ctx, session)
		if err == nil {
			failures = 0
			policy.Reset()
			continue
		}

		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, messaging.ErrSessionInvalid):
			e.endSession(session, err)
			return nil
		case messaging.IsRetryable(err):
			session.Client().CloseIdleConnections()
			failures++
			e.logger.Warn("sync failed", "attempt", failures, "error", err)
			if failures >= e.retry.MaxAttempts {
				e.events.reportError(fmt.Errorf("engine: sync failed %d consecutive times: %w", failures, err))
				failures = 0
			}
		default:
			e.logger.Error("sync rejected", "error", err)
			e.events.reportError(err)
		}

		select {
		case <-e.clock.After(policy.NextBackOff()):
		case <-e.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// syncOnce runs one synccheck and, when it reports changes, drains
// them. The cursor is committed only after a batch has been delivered.
func (e *Engine) syncOnce(ctx context.Context, session *messaging.Session) error {
	check, err := session.SyncCheck(ctx)
	if err != nil {
		return err
	}
	if !check.Selector.HasChanges() {
		return nil
	}

	for {
		response, err := session.Sync(ctx)
		if err != nil {
			return err
		}
		if err := e.deliver(ctx, session, response); err != nil {
			return err
		}
		session.CommitSync(response)
		if e.currentSession() != session {
			return nil
		}
		e.events.checkpoint()
		if response.ContinueFlag == 0 {
			return nil
		}
	}
}

// deliver applies a sync batch: contact changes first, then a lookup
// of any names the messages reference that the directory lacks, then
// the messages in server order.
func (e *Engine) deliver(ctx context.Context, session *messaging.Session, response *messaging.SyncResponse) error {
	var changed []contact.Contact
	if len(response.ModContactList) > 0 {
		changed = append(changed, e.directory.Apply(response.ModContactList)...)
	}

	decoded := make([]message.Message, 0, len(response.AddMsgList))
	var unknown, refresh []string
	for _, raw := range response.AddMsgList {
		decodedMessage := message.Decode(raw)
		decoded = append(decoded, decodedMessage)
		for _, userName := range e.directory.Missing(decodedMessage.From, decodedMessage.Sender) {
			unknown = append(unknown, userName)
			// Members arrive with the group record.
			if userName == decodedMessage.Sender && decodedMessage.IsGroup() {
				userName = decodedMessage.From
			}
			refresh = append(refresh, userName)
		}
	}

	if len(refresh) > 0 {
		fetched, err := e.directory.Refresh(ctx, session, false, refresh...)
		switch {
		case errors.Is(err, messaging.ErrSessionInvalid):
			return err
		case err != nil:
			e.logger.Warn("fetching unknown contacts failed", "user_names", refresh, "error", err)
		}
		changed = append(changed, fetched...)

		var placeholders []contact.Contact
		for _, userName := range e.directory.Missing(unknown...) {
			placeholders = append(placeholders, contact.Contact{UserName: userName})
		}
		changed = append(changed, e.directory.Merge(placeholders)...)
	}
	if len(changed) > 0 {
		e.events.contactsUpdated(changed)
	}

	for _, decodedMessage := range decoded {
		if e.currentSession() != session {
			return nil
		}
		e.logger.Debug("message received",
			"id", decodedMessage.ID,
			"kind", decodedMessage.Kind,
			"from", decodedMessage.From,
		)
		e.events.message(decodedMessage)
	}
	return nil
}
