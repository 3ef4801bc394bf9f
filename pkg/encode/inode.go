package encode

import (
	"fmt"

	. "github.com/weberc2/blockfs/pkg/types"
)

func EncodeInode(inode *Inode, b *[BlockSize]byte) {
	p := b[:]

	putU32(p, inodeLengthStart, uint32(inode.Length))
	putU32(p, inodeMagicStart, inode.Magic)
	for i := range inode.Direct {
		putBlock(p, inodeDirectStart+Byte(i)*BlockPointerSize, inode.Direct[i])
	}
	putBlock(p, inodeIndirectStart, inode.Indirect)
	putBlock(p, inodeDoubleIndirectStart, inode.DoubleIndirect)
	if inode.IsDir {
		putU32(p, inodeIsDirStart, 1)
	} else {
		putU32(p, inodeIsDirStart, 0)
	}
}

// DecodeInode decodes the record in `b` into `inode`, leaving `inode`
// untouched if the magic doesn't match.
func DecodeInode(inode *Inode, b *[BlockSize]byte) error {
	p := b[:]

	if magic := getU32(p, inodeMagicStart); magic != InodeMagic {
		return fmt.Errorf(
			"decoding inode: wanted magic `%#x`; found `%#x`: %w",
			InodeMagic,
			magic,
			BadMagicErr,
		)
	}

	inode.Length = Byte(getU32(p, inodeLengthStart))
	inode.Magic = InodeMagic
	for i := range inode.Direct {
		inode.Direct[i] = getBlock(p, inodeDirectStart+Byte(i)*BlockPointerSize)
	}
	inode.Indirect = getBlock(p, inodeIndirectStart)
	inode.DoubleIndirect = getBlock(p, inodeDoubleIndirectStart)
	inode.IsDir = getU32(p, inodeIsDirStart) != 0
	return nil
}

const (
	inodeLengthStart = 0
	inodeLengthSize  = 4
	inodeLengthEnd   = inodeLengthStart + inodeLengthSize

	inodeMagicStart = inodeLengthEnd
	inodeMagicSize  = 4
	inodeMagicEnd   = inodeMagicStart + inodeMagicSize

	inodeDirectStart = inodeMagicEnd
	inodeDirectSize  = Byte(DirectBlocksCount) * BlockPointerSize
	inodeDirectEnd   = inodeDirectStart + inodeDirectSize

	inodeIndirectStart = inodeDirectEnd
	inodeIndirectSize  = BlockPointerSize
	inodeIndirectEnd   = inodeIndirectStart + inodeIndirectSize

	inodeDoubleIndirectStart = inodeIndirectEnd
	inodeDoubleIndirectSize  = BlockPointerSize
	inodeDoubleIndirectEnd   = inodeDoubleIndirectStart + inodeDoubleIndirectSize

	inodeIsDirStart = inodeDoubleIndirectEnd
	inodeIsDirSize  = 4
	inodeIsDirEnd   = inodeIsDirStart + inodeIsDirSize

	// the record must fill the block exactly; this fails to compile if the
	// layout drifts in either direction.
	_ uint = uint(inodeIsDirEnd - BlockSize)
	_ uint = uint(BlockSize - inodeIsDirEnd)
)
