package encode

import (
	"fmt"

	. "github.com/weberc2/blockfs/pkg/types"
)

func EncodeSuperblock(sb *Superblock, b *[BlockSize]byte) {
	p := b[:]
	for i := range p {
		p[i] = 0
	}
	putU32(p, sbMagicStart, sb.Magic)
	copy(p[sbUUIDStart:sbUUIDEnd], sb.UUID[:])
	putBlock(p, sbBlockCountStart, sb.BlockCount)
	putBlock(p, sbFreeMapStartStart, sb.FreeMapStart)
	putBlock(p, sbFreeMapBlocksStart, sb.FreeMapBlocks)
	putBlock(p, sbRootDirStart, sb.RootDir)
	name := sb.VolumeName
	if len(name) > VolumeNameMax {
		name = name[:VolumeNameMax]
	}
	putU8(p, sbNameLenStart, uint8(len(name)))
	copy(p[sbNameStart:sbNameEnd], name)
}

func DecodeSuperblock(sb *Superblock, b *[BlockSize]byte) error {
	p := b[:]
	if magic := getU32(p, sbMagicStart); magic != SuperblockMagic {
		return fmt.Errorf(
			"decoding superblock: wanted magic `%#x`; found `%#x`: %w",
			SuperblockMagic,
			magic,
			BadSuperblockErr,
		)
	}
	nameLen := Byte(getU8(p, sbNameLenStart))
	if nameLen > VolumeNameMax {
		return fmt.Errorf(
			"decoding superblock: volume name length `%d` exceeds `%d`: %w",
			nameLen,
			VolumeNameMax,
			BadSuperblockErr,
		)
	}

	sb.Magic = SuperblockMagic
	copy(sb.UUID[:], p[sbUUIDStart:sbUUIDEnd])
	sb.BlockCount = getBlock(p, sbBlockCountStart)
	sb.FreeMapStart = getBlock(p, sbFreeMapStartStart)
	sb.FreeMapBlocks = getBlock(p, sbFreeMapBlocksStart)
	sb.RootDir = getBlock(p, sbRootDirStart)
	sb.VolumeName = string(p[sbNameStart : sbNameStart+nameLen])
	return nil
}

const (
	sbMagicStart = 0
	sbMagicEnd   = sbMagicStart + 4

	sbUUIDStart = sbMagicEnd
	sbUUIDEnd   = sbUUIDStart + 16

	sbBlockCountStart = sbUUIDEnd
	sbBlockCountEnd   = sbBlockCountStart + BlockPointerSize

	sbFreeMapStartStart = sbBlockCountEnd
	sbFreeMapStartEnd   = sbFreeMapStartStart + BlockPointerSize

	sbFreeMapBlocksStart = sbFreeMapStartEnd
	sbFreeMapBlocksEnd   = sbFreeMapBlocksStart + BlockPointerSize

	sbRootDirStart = sbFreeMapBlocksEnd
	sbRootDirEnd   = sbRootDirStart + BlockPointerSize

	sbNameLenStart = sbRootDirEnd
	sbNameStart    = sbNameLenStart + 1
	sbNameEnd      = sbNameStart + VolumeNameMax
)
