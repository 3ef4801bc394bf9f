package alloc

import (
	"testing"

	. "github.com/weberc2/blockfs/pkg/types"
)

type blocksFake map[Block]*[BlockSize]byte

func (blocks blocksFake) Read(block Block, offset Byte, p []byte) error {
	b, found := blocks[block]
	if !found {
		b = new([BlockSize]byte)
	}
	copy(p, b[offset:])
	return nil
}

func (blocks blocksFake) Write(block Block, offset Byte, p []byte) error {
	b, found := blocks[block]
	if !found {
		b = new([BlockSize]byte)
		blocks[block] = b
	}
	copy(b[offset:], p)
	return nil
}

func TestBlockBitmapStore_RoundTrip(t *testing.T) {
	// more bits than fit in one block
	const size = Block(BlockSize*8 + 100)
	if n := BitmapBlocks(size); n != 2 {
		t.Fatalf("BitmapBlocks(): wanted `2`; found `%d`", n)
	}

	blocks := blocksFake{}
	fm := NewFreeMap(size, BlockBitmapStore{Writer: blocks, Start: 3})
	fm.Reserve(0, 1)
	fm.Reserve(size-1, 1)
	if err := fm.Flush(); err != nil {
		t.Fatalf("Flush(): unexpected err: %v", err)
	}

	bitmap, err := ReadBitmap(blocks, 3, size)
	if err != nil {
		t.Fatalf("ReadBitmap(): unexpected err: %v", err)
	}
	if !bitmap.Test(0) || !bitmap.Test(int(size)-1) || bitmap.Count() != 2 {
		t.Fatalf("ReadBitmap(): wanted bits `0` and `%d` set", size-1)
	}
}
