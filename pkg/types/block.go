package types

// Byte is a count or offset measured in bytes.
type Byte int64

// Block is a block number on the underlying store. On disk it is stored as a
// 4-byte little-endian pointer.
type Block uint32

const (
	BlockSize        Byte = 512
	BlockPointerSize Byte = 4

	// BlockNil marks an unallocated pointer slot. Block 0 always holds the
	// superblock so it can never be a file's data block.
	BlockNil Block = 0

	// PointersPerBlock is the number of slots in an indirection table.
	PointersPerBlock = int(BlockSize / BlockPointerSize)
)

type ConstError string

func (err ConstError) Error() string { return string(err) }
