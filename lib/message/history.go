// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package message

import "sync"

// History keeps the most recent messages by id, for callers that look
// up the target of a recall notice. It holds at most its capacity;
// adding beyond that evicts the oldest. History is safe for concurrent
// use.
type History struct {
	mu       sync.Mutex
	capacity int
	ring     []string
	next     int
	byID     map[string]Message
}

// NewHistory returns a History holding up to capacity messages. A
// capacity below 1 is treated as 1.
func NewHistory(capacity int) *History {
	capacity = max(capacity, 1)
	return &History{
		capacity: capacity,
		ring:     make([]string, 0, capacity),
		byID:     make(map[string]Message, capacity),
	}
}

// Add records a message. Messages without an id are ignored; adding
// an id already present replaces the stored message without changing
// its eviction position.
func (h *History) Add(message Message) {
	if message.ID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.byID[message.ID]; exists {
		h.byID[message.ID] = message
		return
	}
	if len(h.ring) < h.capacity {
		h.ring = append(h.ring, message.ID)
	} else {
		delete(h.byID, h.ring[h.next])
		h.ring[h.next] = message.ID
		h.next = (h.next + 1) % h.capacity
	}
	h.byID[message.ID] = message
}

// Get returns the message with the given id.
func (h *History) Get(id string) (Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	message, ok := h.byID[id]
	return message, ok
}

// Recalled returns the message a recall notice withdraws, if it is
// still held.
func (h *History) Recalled(notice Message) (Message, bool) {
	if notice.Recall == nil {
		return Message{}, false
	}
	return h.Get(notice.Recall.MsgID)
}

// Len returns the number of messages held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byID)
}
