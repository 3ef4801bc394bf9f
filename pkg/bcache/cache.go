// Package bcache is a fixed-size write-back cache of device blocks.
//
// Lines are recycled with the clock (second-chance) algorithm. A line whose
// block is listed in Options.Pinned is never chosen as a victim, and neither
// is a line that some caller is still copying through. Every operation bumps
// a counter; when it reaches the write-back threshold all dirty lines are
// written to the store before the operation proceeds.
//
// Lock order is directory lock, then line lock. A goroutine holding a line
// lock never waits on the directory lock.
package bcache

import (
	"fmt"
	"log"
	"sync"

	"github.com/weberc2/blockfs/pkg/blockstore"
	. "github.com/weberc2/blockfs/pkg/types"
)

const (
	DefaultLines              = 64
	DefaultWriteBackThreshold = 400

	OutOfBoundsErr ConstError = "access crosses block boundary"
	ClosedErr      ConstError = "cache closed"

	AllLinesPinnedErr ConstError = "every cache line holds a pinned block"
)

type Options struct {
	Lines              int
	WriteBackThreshold int
	Pinned             []Block
}

func DefaultOptions() Options {
	return Options{
		Lines:              DefaultLines,
		WriteBackThreshold: DefaultWriteBackThreshold,
		Pinned:             []Block{SuperblockBlock},
	}
}

type Stats struct {
	Lines      int `json:"lines"`
	Resident   int `json:"resident"`
	Dirty      int `json:"dirty"`
	Hits       int `json:"hits"`
	Misses     int `json:"misses"`
	Evictions  int `json:"evictions"`
	WriteBacks int `json:"writeBacks"`
	Sweeps     int `json:"sweeps"`
}

type line struct {
	// guarded by Cache.mutex
	block      Block
	resident   bool
	referenced bool
	pinned     bool
	pins       int

	// guarded by mutex
	mutex sync.Mutex
	valid bool
	dirty bool
	data  [BlockSize]byte
}

type Cache struct {
	store     blockstore.BlockStore
	threshold int
	pinned    map[Block]struct{}

	mutex     sync.Mutex
	available *sync.Cond
	lines     []line
	lookup    map[Block]int
	hand      int
	ops       int
	closed    bool
	stats     Stats
}

func New(store blockstore.BlockStore, options Options) *Cache {
	if options.Lines < 1 {
		options.Lines = DefaultLines
	}
	if options.WriteBackThreshold < 1 {
		options.WriteBackThreshold = DefaultWriteBackThreshold
	}
	c := &Cache{
		store:     store,
		threshold: options.WriteBackThreshold,
		pinned:    make(map[Block]struct{}, len(options.Pinned)),
		lines:     make([]line, options.Lines),
		lookup:    make(map[Block]int, options.Lines),
	}
	for _, block := range options.Pinned {
		c.pinned[block] = struct{}{}
	}
	c.available = sync.NewCond(&c.mutex)
	return c
}

// Read copies len(p) bytes starting at `offset` within `block` into `p`.
func (c *Cache) Read(block Block, offset Byte, p []byte) error {
	if err := checkBounds(offset, p); err != nil {
		return fmt.Errorf("reading block `%d`: %w", block, err)
	}

	ln, err := c.acquire(block)
	if err != nil {
		return fmt.Errorf("reading block `%d`: %w", block, err)
	}
	defer c.release(ln)

	ln.mutex.Lock()
	defer ln.mutex.Unlock()
	if err := c.load(ln, block); err != nil {
		return fmt.Errorf("reading block `%d`: %w", block, err)
	}
	copy(p, ln.data[offset:])
	return nil
}

// Write copies `p` into `block` at `offset` and marks the line dirty. The
// device copy is only loaded first when `p` doesn't cover the whole block.
func (c *Cache) Write(block Block, offset Byte, p []byte) error {
	if err := checkBounds(offset, p); err != nil {
		return fmt.Errorf("writing block `%d`: %w", block, err)
	}

	ln, err := c.acquire(block)
	if err != nil {
		return fmt.Errorf("writing block `%d`: %w", block, err)
	}
	defer c.release(ln)

	ln.mutex.Lock()
	defer ln.mutex.Unlock()
	if offset == 0 && Byte(len(p)) == BlockSize {
		ln.valid = true
	} else if err := c.load(ln, block); err != nil {
		return fmt.Errorf("writing block `%d`: %w", block, err)
	}
	copy(ln.data[offset:], p)
	ln.dirty = true
	return nil
}

func checkBounds(offset Byte, p []byte) error {
	if offset < 0 || offset+Byte(len(p)) > BlockSize {
		return fmt.Errorf(
			"copying `%d` bytes at offset `%d`: %w",
			len(p),
			offset,
			OutOfBoundsErr,
		)
	}
	return nil
}

// load fills the line from the store unless it already holds valid data.
// The caller holds the line lock.
func (c *Cache) load(ln *line, block Block) error {
	if ln.valid {
		return nil
	}
	if err := c.store.ReadBlock(block, &ln.data); err != nil {
		return err
	}
	ln.valid = true
	return nil
}

// acquire returns the line for `block`, selecting and recycling a victim on
// a miss. The returned line is held (pins > 0) until release.
func (c *Cache) acquire(block Block) (*line, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return nil, ClosedErr
	}

	c.ops++
	if c.ops >= c.threshold {
		c.ops = 0
		c.stats.Sweeps++
		if err := c.flushAll(); err != nil {
			return nil, fmt.Errorf("write-back sweep: %w", err)
		}
	}

	for {
		if i, found := c.lookup[block]; found {
			ln := &c.lines[i]
			ln.referenced = true
			ln.pins++
			c.stats.Hits++
			return ln, nil
		}

		i, ok := c.victim()
		if !ok {
			if c.inUse() == 0 {
				log.Printf(
					"WARN block cache: all `%d` lines hold pinned blocks; "+
						"cannot load block `%d`",
					len(c.lines),
					block,
				)
				return nil, AllLinesPinnedErr
			}
			// another caller's release will make a line evictable
			c.available.Wait()
			continue
		}

		ln := &c.lines[i]
		if ln.resident {
			if err := c.evict(ln); err != nil {
				return nil, err
			}
		}

		ln.block = block
		ln.resident = true
		ln.referenced = true
		_, ln.pinned = c.pinned[block]
		ln.pins = 1
		// payload is filled lazily under the line lock
		ln.valid = false
		ln.dirty = false
		c.lookup[block] = i
		c.stats.Misses++
		return ln, nil
	}
}

func (c *Cache) release(ln *line) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ln.pins--
	if ln.pins == 0 {
		c.available.Broadcast()
	}
}

// victim runs the clock hand. Lines with the reference bit set get their
// bit cleared and a second chance. Empty lines are taken immediately.
// Reports false if no line is evictable.
func (c *Cache) victim() (int, bool) {
	// two sweeps clear every reference bit
	for n := 0; n < 2*len(c.lines); n++ {
		i := c.hand
		c.hand = (c.hand + 1) % len(c.lines)

		ln := &c.lines[i]
		if !ln.resident {
			return i, true
		}
		if ln.pinned || ln.pins > 0 {
			continue
		}
		if ln.referenced {
			ln.referenced = false
			continue
		}
		return i, true
	}
	return 0, false
}

// evict writes the victim back if dirty and forgets its block. The caller
// holds the directory lock, so nobody can look the old block up until the
// write-back has reached the store.
func (c *Cache) evict(ln *line) error {
	ln.mutex.Lock()
	defer ln.mutex.Unlock()
	if ln.dirty {
		if err := c.store.WriteBlock(ln.block, &ln.data); err != nil {
			return fmt.Errorf(
				"writing back evicted block `%d`: %w",
				ln.block,
				err,
			)
		}
		ln.dirty = false
		c.stats.WriteBacks++
	}
	delete(c.lookup, ln.block)
	ln.resident = false
	ln.valid = false
	c.stats.Evictions++
	return nil
}

// flushAll writes every dirty line to the store. The caller holds the
// directory lock.
func (c *Cache) flushAll() error {
	for i := range c.lines {
		ln := &c.lines[i]
		if !ln.resident {
			continue
		}
		if err := c.flushLine(ln); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) flushLine(ln *line) error {
	ln.mutex.Lock()
	defer ln.mutex.Unlock()
	if !ln.dirty {
		return nil
	}
	if err := c.store.WriteBlock(ln.block, &ln.data); err != nil {
		return fmt.Errorf("flushing block `%d`: %w", ln.block, err)
	}
	ln.dirty = false
	c.stats.WriteBacks++
	return nil
}

// Flush writes every dirty line to the store.
func (c *Cache) Flush() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.flushAll()
}

// Close flushes every dirty line; later reads and writes fail with
// ClosedErr.
func (c *Cache) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return nil
	}
	if err := c.flushAll(); err != nil {
		return fmt.Errorf("closing block cache: %w", err)
	}
	c.closed = true
	return nil
}

func (c *Cache) inUse() int {
	n := 0
	for i := range c.lines {
		if c.lines[i].pins > 0 {
			n++
		}
	}
	return n
}

func (c *Cache) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	stats := c.stats
	stats.Lines = len(c.lines)
	for i := range c.lines {
		ln := &c.lines[i]
		if !ln.resident {
			continue
		}
		stats.Resident++
		ln.mutex.Lock()
		if ln.dirty {
			stats.Dirty++
		}
		ln.mutex.Unlock()
	}
	return stats
}
