package server

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

const directKeySep = "-"

// DirectChannelKey returns the channel shared by two users, with the
// smaller id first.
func DirectChannelKey(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return strconv.Itoa(a) + directKeySep + strconv.Itoa(b)
}

// ParseDirectChannelKey accepts "a-b" in either order and returns both ids
// ascending.
func ParseDirectChannelKey(key string) (int, int, error) {
	left, right, ok := strings.Cut(key, directKeySep)
	if !ok {
		return 0, 0, fmt.Errorf("%w: malformed direct channel %q", ErrInvalidPayload, key)
	}

	a, errA := strconv.Atoi(left)
	b, errB := strconv.Atoi(right)
	if errA != nil || errB != nil || a <= 0 || b <= 0 || a == b {
		return 0, 0, fmt.Errorf("%w: malformed direct channel %q", ErrInvalidPayload, key)
	}

	if a > b {
		a, b = b, a
	}
	return a, b, nil
}

// ChannelTable holds the subscribers of every named channel.
type ChannelTable struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Client]struct{}
	byClient    map[*Client]map[string]struct{}
}

func NewChannelTable() *ChannelTable {
	return &ChannelTable{
		subscribers: make(map[string]map[*Client]struct{}),
		byClient:    make(map[*Client]map[string]struct{}),
	}
}

// Subscribe adds c to the channel. It reports false if c was already
// subscribed.
func (t *ChannelTable) Subscribe(name string, c *Client) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	subs, ok := t.subscribers[name]
	if !ok {
		subs = make(map[*Client]struct{})
		t.subscribers[name] = subs
	}
	if _, ok := subs[c]; ok {
		return false
	}
	subs[c] = struct{}{}

	names, ok := t.byClient[c]
	if !ok {
		names = make(map[string]struct{})
		t.byClient[c] = names
	}
	names[name] = struct{}{}

	return true
}

// Unsubscribe removes c from the channel. It reports false if c was not
// subscribed.
func (t *ChannelTable) Unsubscribe(name string, c *Client) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unsubscribeLocked(name, c)
}

func (t *ChannelTable) unsubscribeLocked(name string, c *Client) bool {
	subs, ok := t.subscribers[name]
	if !ok {
		return false
	}
	if _, ok := subs[c]; !ok {
		return false
	}

	delete(subs, c)
	if len(subs) == 0 {
		delete(t.subscribers, name)
	}

	if names, ok := t.byClient[c]; ok {
		delete(names, name)
		if len(names) == 0 {
			delete(t.byClient, c)
		}
	}

	return true
}

// UnsubscribeAll drops every subscription held by c and returns the
// channel names it was removed from.
func (t *ChannelTable) UnsubscribeAll(c *Client) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.byClient[c]))
	for name := range t.byClient[c] {
		names = append(names, name)
	}
	for _, name := range names {
		t.unsubscribeLocked(name, c)
	}

	return names
}

// Publish queues msg to every subscriber of the channel except skip and
// returns the number of clients it was queued to.
func (t *ChannelTable) Publish(name string, msg *ServerMessage, skip *Client) int {
	t.mu.RLock()
	targets := make([]*Client, 0, len(t.subscribers[name]))
	for c := range t.subscribers[name] {
		if c != skip {
			targets = append(targets, c)
		}
	}
	t.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.queueMessage(msg) {
			delivered++
		}
	}

	return delivered
}

// Close removes the channel and returns its former subscribers.
func (t *ChannelTable) Close(name string) []*Client {
	t.mu.Lock()
	defer t.mu.Unlock()

	subs := make([]*Client, 0, len(t.subscribers[name]))
	for c := range t.subscribers[name] {
		subs = append(subs, c)
	}
	for _, c := range subs {
		t.unsubscribeLocked(name, c)
	}

	return subs
}

// Rename moves every subscriber of from to the channel to.
func (t *ChannelTable) Rename(from, to string) {
	if from == to {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	subs := make([]*Client, 0, len(t.subscribers[from]))
	for c := range t.subscribers[from] {
		subs = append(subs, c)
	}
	for _, c := range subs {
		t.unsubscribeLocked(from, c)
		if _, ok := t.subscribers[to]; !ok {
			t.subscribers[to] = make(map[*Client]struct{})
		}
		t.subscribers[to][c] = struct{}{}
		if _, ok := t.byClient[c]; !ok {
			t.byClient[c] = make(map[string]struct{})
		}
		t.byClient[c][to] = struct{}{}
	}
}

func (t *ChannelTable) IsSubscribed(name string, c *Client) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.subscribers[name][c]
	return ok
}

// Count returns the total number of subscriptions.
func (t *ChannelTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, subs := range t.subscribers {
		n += len(subs)
	}
	return n
}
