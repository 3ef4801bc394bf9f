// Package pathcache maps absolute paths to inode blocks so that path
// resolution can skip walking the directory tree. Keys are compared as
// strings after path.Clean.
package pathcache

import (
	"path"
	"strings"
	"sync"

	. "github.com/weberc2/blockfs/pkg/types"
)

type Cache struct {
	mutex   sync.RWMutex
	entries map[string]Block
}

func New() *Cache {
	return &Cache{entries: make(map[string]Block)}
}

// Cacheable reports whether `p` may be a key: absolute and not the root.
func Cacheable(p string) bool {
	return strings.HasPrefix(p, "/") && path.Clean(p) != "/"
}

func (c *Cache) Lookup(p string) (Block, bool) {
	if !Cacheable(p) {
		return BlockNil, false
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	block, found := c.entries[path.Clean(p)]
	return block, found
}

// Insert adds an entry, leaving an existing entry for `p` untouched and
// reporting false.
func (c *Cache) Insert(p string, block Block) bool {
	if !Cacheable(p) {
		return false
	}
	key := path.Clean(p)
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, found := c.entries[key]; found {
		return false
	}
	c.entries[key] = block
	return true
}

// Remove deletes the entry for `p`, reporting false if there was none.
func (c *Cache) Remove(p string) bool {
	if !Cacheable(p) {
		return false
	}
	key := path.Clean(p)
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, found := c.entries[key]; !found {
		return false
	}
	delete(c.entries, key)
	return true
}

// RemoveTree deletes the entry for `p` and every entry below it, returning
// how many were removed.
func (c *Cache) RemoveTree(p string) int {
	if !Cacheable(p) {
		return 0
	}
	key := path.Clean(p)
	prefix := key + "/"
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var removed int
	for entry := range c.entries {
		if entry == key || strings.HasPrefix(entry, prefix) {
			delete(c.entries, entry)
			removed++
		}
	}
	return removed
}

func (c *Cache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries = make(map[string]Block)
}
