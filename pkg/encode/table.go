package encode

import . "github.com/weberc2/blockfs/pkg/types"

// Table is an indirection table: one block of block pointers.
type Table [PointersPerBlock]Block

func EncodeTable(table *Table, b *[BlockSize]byte) {
	p := b[:]
	for i := range table {
		putBlock(p, Byte(i)*BlockPointerSize, table[i])
	}
}

func DecodeTable(table *Table, b *[BlockSize]byte) {
	p := b[:]
	for i := range table {
		table[i] = getBlock(p, Byte(i)*BlockPointerSize)
	}
}

// TableSlotOffset returns the byte offset of slot `index` within a table
// block.
func TableSlotOffset(index int) Byte {
	return Byte(index) * BlockPointerSize
}
