// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"sync"

	"github.com/bureau-foundation/wxweb/lib/contact"
	"github.com/bureau-foundation/wxweb/lib/message"
	"github.com/bureau-foundation/wxweb/messaging"
)

// UUIDEvent announces a login uuid for the user to scan.
type UUIDEvent struct {
	UUID messaging.LoginUUID
	// QRCodeURL is the URL of the QR code image.
	QRCodeURL string
	// QRCodeContent is the text the QR code encodes.
	QRCodeContent string
}

// Observer receives engine events. Nil fields are skipped. Callbacks
// run on the engine's goroutine and must not block for long.
type Observer struct {
	OnUUID            func(UUIDEvent)
	OnUserAvatar      func(dataURL string)
	OnLogin           func()
	OnLogout          func()
	OnContactsUpdated func(changed []contact.Contact)
	OnMessage         func(message.Message)
	// OnCheckpoint follows the messages of each delivered sync batch,
	// once the session's cursor has moved past them. A snapshot saved
	// here resumes after that batch.
	OnCheckpoint func()
	OnError      func(error)
}

// bus fans events out to observers in registration order.
type bus struct {
	mu        sync.RWMutex
	nextID    int
	observers []registration
}

type registration struct {
	id       int
	observer Observer
}

func (b *bus) subscribe(observer Observer) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.observers = append(b.observers, registration{id: id, observer: observer})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, entry := range b.observers {
				if entry.id == id {
					b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// snapshot returns the current observers so callbacks run without the
// lock held; a callback may subscribe or unsubscribe.
func (b *bus) snapshot() []Observer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	observers := make([]Observer, len(b.observers))
	for i, entry := range b.observers {
		observers[i] = entry.observer
	}
	return observers
}

func (b *bus) uuid(event UUIDEvent) {
	for _, observer := range b.snapshot() {
		if observer.OnUUID != nil {
			observer.OnUUID(event)
		}
	}
}

func (b *bus) userAvatar(dataURL string) {
	for _, observer := range b.snapshot() {
		if observer.OnUserAvatar != nil {
			observer.OnUserAvatar(dataURL)
		}
	}
}

func (b *bus) login() {
	for _, observer := range b.snapshot() {
		if observer.OnLogin != nil {
			observer.OnLogin()
		}
	}
}

func (b *bus) logout() {
	for _, observer := range b.snapshot() {
		if observer.OnLogout != nil {
			observer.OnLogout()
		}
	}
}

func (b *bus) contactsUpdated(changed []contact.Contact) {
	for _, observer := range b.snapshot() {
		if observer.OnContactsUpdated != nil {
			observer.OnContactsUpdated(changed)
		}
	}
}

func (b *bus) message(decoded message.Message) {
	for _, observer := range b.snapshot() {
		if observer.OnMessage != nil {
			observer.OnMessage(decoded)
		}
	}
}

func (b *bus) checkpoint() {
	for _, observer := range b.snapshot() {
		if observer.OnCheckpoint != nil {
			observer.OnCheckpoint()
		}
	}
}

func (b *bus) reportError(err error) {
	for _, observer := range b.snapshot() {
		if observer.OnError != nil {
			observer.OnError(err)
		}
	}
}
