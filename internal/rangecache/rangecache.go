// Package rangecache stores normalized event lists by visible window.
//
// Entries never expire and are never evicted: a cache belongs to one widget
// session, the session only ever asks for windows the user navigated to, and
// the whole cache is dropped with the session.
package rangecache

import (
	"slices"
	"sync"

	"calview/internal/model"
)

// Cache maps window keys (model.Window.Key) to merged event lists.
type Cache struct {
	mu      sync.RWMutex
	entries map[string][]model.DisplayEvent
}

func New() *Cache {
	return &Cache{entries: make(map[string][]model.DisplayEvent)}
}

// Get returns a copy of the cached list for key, or nil and false on miss.
func (c *Cache) Get(key string) ([]model.DisplayEvent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	events, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(events), true
}

// Put stores a copy of events under key, replacing any previous list.
func (c *Cache) Put(key string, events []model.DisplayEvent) {
	stored := make([]model.DisplayEvent, len(events))
	copy(stored, events)
	c.mu.Lock()
	c.entries[key] = stored
	c.mu.Unlock()
}

// Find returns the first cached event with id across all windows.
func (c *Cache) Find(id string) (model.DisplayEvent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, events := range c.entries {
		if i := slices.IndexFunc(events, func(ev model.DisplayEvent) bool { return ev.ID == id }); i >= 0 {
			return events[i], true
		}
	}
	return model.DisplayEvent{}, false
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
