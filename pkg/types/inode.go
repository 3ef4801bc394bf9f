package types

const (
	// DirectBlocksCount is sized so the encoded record fills a block exactly.
	DirectBlocksCount = 123

	InodeMagic uint32 = 0x494e4f44

	// MaxFileBlocks is the number of data blocks addressable through the
	// direct, singly indirect and doubly indirect tiers.
	MaxFileBlocks = DirectBlocksCount +
		PointersPerBlock +
		PointersPerBlock*PointersPerBlock

	MaxFileSize = Byte(MaxFileBlocks) * BlockSize
)

// Inode is the on-disk inode record. Its encoded form occupies exactly one
// block and the inode number is the block that holds it.
type Inode struct {
	Length         Byte
	Magic          uint32
	Direct         [DirectBlocksCount]Block
	Indirect       Block
	DoubleIndirect Block
	IsDir          bool
}

// NewInode returns an empty record stamped with the inode magic.
func NewInode(isDir bool) Inode {
	return Inode{Magic: InodeMagic, IsDir: isDir}
}
