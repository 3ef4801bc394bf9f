package alloc

import . "github.com/weberc2/blockfs/pkg/types"

// Allocator hands out runs of contiguous free blocks.
type Allocator interface {
	Allocate(count int) (Block, error)
	Release(block Block, count int)
}

var _ Allocator = (*FreeMap)(nil)
