package types

import "github.com/google/uuid"

const (
	SuperblockMagic uint32 = 0x424c4b46

	// SuperblockBlock is the block the superblock lives in. It is the block
	// the cache pins.
	SuperblockBlock Block = 0

	// VolumeNameMax is the longest volume name the superblock stores.
	VolumeNameMax = 64
)

type Superblock struct {
	Magic         uint32
	UUID          uuid.UUID
	BlockCount    Block
	FreeMapStart  Block
	FreeMapBlocks Block
	RootDir       Block
	VolumeName    string
}
