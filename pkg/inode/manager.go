// Package inode manages on-disk inode records and the in-memory handles that
// share them. Every open inode has exactly one Handle; repeated opens of the
// same block return it with a bumped open count, and a handle marked removed
// gives its blocks back to the allocator on its last close.
package inode

import (
	"fmt"
	"sync"

	"github.com/weberc2/blockfs/pkg/alloc"
	"github.com/weberc2/blockfs/pkg/encode"
	"github.com/weberc2/blockfs/pkg/inode/physical"
	"github.com/weberc2/blockfs/pkg/math"
	. "github.com/weberc2/blockfs/pkg/types"
)

type BlockCache = physical.BlockCache

type Manager struct {
	cache      BlockCache
	allocator  alloc.Allocator
	translator *physical.Translator

	// mutex guards `open` and every handle's open count, removed flag and
	// deny-write count.
	mutex sync.Mutex
	open  map[Block]*Handle
}

func NewManager(cache BlockCache, allocator alloc.Allocator) *Manager {
	return &Manager{
		cache:      cache,
		allocator:  allocator,
		translator: physical.NewTranslator(cache, allocator),
		open:       make(map[Block]*Handle),
	}
}

// Create writes a fresh record to `block` with room for `length` bytes, all
// zero. The data blocks are allocated before the record is persisted; if any
// allocation fails the blocks allocated so far are released and nothing is
// written.
func (m *Manager) Create(block Block, length Byte, isDir bool) error {
	record := NewInode(isDir)
	if err := m.extend(&record, length); err != nil {
		if _, releaseErr := m.translator.Release(&record); releaseErr != nil {
			return fmt.Errorf(
				"creating inode `%d`: %v; rolling back: %w",
				block,
				err,
				releaseErr,
			)
		}
		return fmt.Errorf("creating inode `%d`: %w", block, err)
	}
	if err := m.writeRecord(block, &record); err != nil {
		return fmt.Errorf("creating inode `%d`: %w", block, err)
	}
	return nil
}

// Open returns the handle for the inode stored at `block`, creating it if
// no other opener holds it.
func (m *Manager) Open(block Block) (*Handle, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if h, found := m.open[block]; found {
		h.openCount++
		return h, nil
	}

	var record Inode
	if err := m.readRecord(block, &record); err != nil {
		return nil, fmt.Errorf("opening inode `%d`: %w", block, err)
	}

	h := &Handle{manager: m, block: block, openCount: 1}
	m.open[block] = h
	return h, nil
}

// Close drops one reference to `h`. The last close forgets the handle and,
// if the inode was removed, releases every block it owns followed by the
// record's own block.
func (m *Manager) Close(h *Handle) error {
	m.mutex.Lock()
	if h.openCount < 1 {
		m.mutex.Unlock()
		panic(fmt.Sprintf("closing inode `%d`: handle already closed", h.block))
	}
	h.openCount--
	if h.denyWriteCount > h.openCount {
		m.mutex.Unlock()
		panic(fmt.Sprintf(
			"closing inode `%d`: deny-write count `%d` exceeds `%d` openers",
			h.block,
			h.denyWriteCount,
			h.openCount,
		))
	}
	if h.openCount > 0 {
		m.mutex.Unlock()
		return nil
	}
	delete(m.open, h.block)
	removed := h.removed
	m.mutex.Unlock()

	if !removed {
		return nil
	}

	var record Inode
	if err := m.readRecord(h.block, &record); err != nil {
		return fmt.Errorf("deleting inode `%d`: %w", h.block, err)
	}
	if _, err := m.translator.Release(&record); err != nil {
		return fmt.Errorf("deleting inode `%d`: %w", h.block, err)
	}
	m.allocator.Release(h.block, 1)
	return nil
}

// Discard releases every data block of the record at `block`, leaving the
// record's own block to the caller. Nobody may hold the inode open.
func (m *Manager) Discard(block Block) error {
	m.mutex.Lock()
	_, open := m.open[block]
	m.mutex.Unlock()
	if open {
		panic(fmt.Sprintf("discarding inode `%d`: inode is open", block))
	}

	var record Inode
	if err := m.readRecord(block, &record); err != nil {
		return fmt.Errorf("discarding inode `%d`: %w", block, err)
	}
	if _, err := m.translator.Release(&record); err != nil {
		return fmt.Errorf("discarding inode `%d`: %w", block, err)
	}
	return nil
}

// OpenHandles returns the number of distinct inodes currently open.
func (m *Manager) OpenHandles() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.open)
}

// extend grows `record` to `length` one block at a time: each new block is
// allocated, zeroed and registered, and only then does the record's length
// advance over it. On failure the record reflects exactly the blocks that
// were committed.
func (m *Manager) extend(record *Inode, length Byte) error {
	var zeros [BlockSize]byte
	for record.Length < length {
		// the tail of a partially used last block is already zero
		if tail := record.Length % BlockSize; tail != 0 {
			record.Length = math.Min(record.Length+BlockSize-tail, length)
			continue
		}

		loc := physical.Locate(record.Length)
		if loc.Tier == physical.TierOutOfRange {
			return fmt.Errorf(
				"extending to `%d` bytes: %w",
				length,
				FileTooLargeErr,
			)
		}

		block, err := m.allocator.Allocate(1)
		if err != nil {
			return fmt.Errorf("extending to `%d` bytes: %w", length, err)
		}
		if err := m.cache.Write(block, 0, zeros[:]); err != nil {
			m.allocator.Release(block, 1)
			return fmt.Errorf(
				"extending to `%d` bytes: zeroing block `%d`: %w",
				length,
				block,
				err,
			)
		}
		if err := m.translator.Register(record, block, loc); err != nil {
			m.allocator.Release(block, 1)
			return fmt.Errorf("extending to `%d` bytes: %w", length, err)
		}
		record.Length = math.Min(record.Length+BlockSize, length)
	}
	return nil
}

func (m *Manager) readRecord(block Block, record *Inode) error {
	var b [BlockSize]byte
	if err := m.cache.Read(block, 0, b[:]); err != nil {
		return fmt.Errorf("reading inode record `%d`: %w", block, err)
	}
	if err := encode.DecodeInode(record, &b); err != nil {
		return fmt.Errorf("reading inode record `%d`: %w", block, err)
	}
	return nil
}

func (m *Manager) writeRecord(block Block, record *Inode) error {
	var b [BlockSize]byte
	encode.EncodeInode(record, &b)
	if err := m.cache.Write(block, 0, b[:]); err != nil {
		return fmt.Errorf("writing inode record `%d`: %w", block, err)
	}
	return nil
}
