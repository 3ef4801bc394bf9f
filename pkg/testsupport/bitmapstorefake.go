package testsupport

import (
	"github.com/weberc2/blockfs/pkg/alloc"
	"github.com/weberc2/blockfs/pkg/bcache"
	"github.com/weberc2/blockfs/pkg/blockstore"
	. "github.com/weberc2/blockfs/pkg/types"
)

type BitmapStoreFake struct {
	Puts int
	Last []byte
}

func (store *BitmapStoreFake) Put(bitmap alloc.Bitmap) error {
	store.Puts++
	store.Last = append([]byte(nil), bitmap.Bytes()...)
	return nil
}

// Volume bundles an in-memory device with a cache and free map over it.
// Block 0 is reserved so that no allocation ever returns BlockNil.
type Volume struct {
	Store   *blockstore.MemoryBlockStore
	Cache   *bcache.Cache
	FreeMap *alloc.FreeMap
}

func NewVolume(count Block) *Volume {
	store := blockstore.NewMemoryBlockStore(count)
	freeMap := alloc.NewFreeMap(count, &BitmapStoreFake{})
	freeMap.Reserve(0, 1)
	return &Volume{
		Store:   store,
		Cache:   bcache.New(store, bcache.DefaultOptions()),
		FreeMap: freeMap,
	}
}
