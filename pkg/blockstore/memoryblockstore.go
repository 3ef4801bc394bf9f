package blockstore

import (
	"fmt"
	"sync"

	. "github.com/weberc2/blockfs/pkg/types"
)

// MemoryBlockStore keeps blocks in a map. It counts device reads and writes
// so callers can observe how much traffic reaches the device.
type MemoryBlockStore struct {
	mutex  sync.Mutex
	blocks map[Block]*[BlockSize]byte
	count  Block
	reads  int
	writes int
}

func NewMemoryBlockStore(count Block) *MemoryBlockStore {
	return &MemoryBlockStore{
		blocks: make(map[Block]*[BlockSize]byte),
		count:  count,
	}
}

func (store *MemoryBlockStore) ReadBlock(block Block, p *[BlockSize]byte) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if block >= store.count {
		return fmt.Errorf("reading block `%d`: %w", block, BlockOutOfRangeErr)
	}
	store.reads++
	if data, found := store.blocks[block]; found {
		*p = *data
		return nil
	}
	*p = [BlockSize]byte{}
	return nil
}

func (store *MemoryBlockStore) WriteBlock(block Block, p *[BlockSize]byte) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if block >= store.count {
		return fmt.Errorf("writing block `%d`: %w", block, BlockOutOfRangeErr)
	}
	store.writes++
	data := *p
	store.blocks[block] = &data
	return nil
}

// Counts returns the number of device reads and writes so far.
func (store *MemoryBlockStore) Counts() (reads, writes int) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.reads, store.writes
}

func (store *MemoryBlockStore) Count() Block { return store.count }

var _ BlockStore = (*MemoryBlockStore)(nil)
