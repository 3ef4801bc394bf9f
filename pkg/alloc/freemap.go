package alloc

import (
	"fmt"
	"sync"

	. "github.com/weberc2/blockfs/pkg/types"
)

type BitmapStore interface {
	Put(Bitmap) error
}

// FreeMap tracks which blocks of a volume are in use. Changes are kept in
// memory until Flush writes the bitmap to its store.
type FreeMap struct {
	mutex  sync.Mutex
	bitmap Bitmap
	store  BitmapStore
	dirty  bool
}

func NewFreeMap(count Block, store BitmapStore) *FreeMap {
	return &FreeMap{bitmap: New(int(count)), store: store, dirty: true}
}

func LoadFreeMap(bitmap Bitmap, store BitmapStore) *FreeMap {
	return &FreeMap{bitmap: bitmap, store: store}
}

// Allocate marks the first run of `count` free blocks as used and returns
// the first block of the run.
func (fm *FreeMap) Allocate(count int) (Block, error) {
	fm.mutex.Lock()
	defer fm.mutex.Unlock()
	start, ok := fm.bitmap.Scan(count)
	if !ok {
		return BlockNil, fmt.Errorf(
			"allocating `%d` blocks: %w",
			count,
			OutOfBlocksErr,
		)
	}
	for i := start; i < start+count; i++ {
		fm.bitmap.Set(i)
	}
	fm.dirty = true
	return Block(start), nil
}

// Release returns `count` blocks starting at `block` to the free pool.
// Releasing a block that isn't allocated is a programming error.
func (fm *FreeMap) Release(block Block, count int) {
	fm.mutex.Lock()
	defer fm.mutex.Unlock()
	for i := int(block); i < int(block)+count; i++ {
		if !fm.bitmap.Test(i) {
			panic(fmt.Sprintf("releasing free block `%d`", i))
		}
	}
	for i := int(block); i < int(block)+count; i++ {
		fm.bitmap.Clear(i)
	}
	fm.dirty = true
}

// Reserve marks blocks as used without searching, e.g. the regions laid out
// at format time.
func (fm *FreeMap) Reserve(block Block, count int) {
	fm.mutex.Lock()
	defer fm.mutex.Unlock()
	for i := int(block); i < int(block)+count; i++ {
		fm.bitmap.Set(i)
	}
	fm.dirty = true
}

func (fm *FreeMap) InUse(block Block) bool {
	fm.mutex.Lock()
	defer fm.mutex.Unlock()
	return fm.bitmap.Test(int(block))
}

// Free returns the number of unallocated blocks.
func (fm *FreeMap) Free() int {
	fm.mutex.Lock()
	defer fm.mutex.Unlock()
	return fm.bitmap.Size() - fm.bitmap.Count()
}

func (fm *FreeMap) Flush() error {
	fm.mutex.Lock()
	defer fm.mutex.Unlock()
	if fm.dirty {
		if err := fm.store.Put(fm.bitmap); err != nil {
			return fmt.Errorf("flushing free map: %w", err)
		}
		fm.dirty = false
	}
	return nil
}
