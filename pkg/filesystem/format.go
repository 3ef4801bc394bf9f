package filesystem

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/weberc2/blockfs/pkg/alloc"
	"github.com/weberc2/blockfs/pkg/bcache"
	"github.com/weberc2/blockfs/pkg/blockstore"
	"github.com/weberc2/blockfs/pkg/directory"
	"github.com/weberc2/blockfs/pkg/encode"
	"github.com/weberc2/blockfs/pkg/inode"
	"github.com/weberc2/blockfs/pkg/math"
	. "github.com/weberc2/blockfs/pkg/types"
)

const VolumeTooSmallErr ConstError = "volume too small"

type FormatOptions struct {
	Blocks     Block
	VolumeName string

	// UUID identifies the volume; a random one is generated if nil.
	UUID uuid.UUID
}

// MinBlocks returns the smallest volume Format accepts: the superblock,
// the free map, the root directory record and its first data block.
func MinBlocks(blocks Block) Block {
	return 1 + alloc.BitmapBlocks(blocks) + 1 + Block(math.DivRoundUp(
		directory.InitialEntries*DirEntrySize,
		BlockSize,
	))
}

// Format lays out an empty file system on `store`: the superblock in block
// 0, the free map in the blocks after it and the root directory after that.
func Format(store blockstore.BlockStore, options FormatOptions) (Superblock, error) {
	if options.Blocks < MinBlocks(options.Blocks) {
		return Superblock{}, fmt.Errorf(
			"formatting volume of `%d` blocks: need at least `%d`: %w",
			options.Blocks,
			MinBlocks(options.Blocks),
			VolumeTooSmallErr,
		)
	}
	if len(options.VolumeName) > VolumeNameMax {
		return Superblock{}, fmt.Errorf(
			"formatting volume `%s`: %w",
			options.VolumeName,
			NameTooLongErr,
		)
	}
	id := options.UUID
	if id == uuid.Nil {
		id = uuid.New()
	}

	sb := Superblock{
		Magic:         SuperblockMagic,
		UUID:          id,
		BlockCount:    options.Blocks,
		FreeMapStart:  SuperblockBlock + 1,
		FreeMapBlocks: alloc.BitmapBlocks(options.Blocks),
		VolumeName:    options.VolumeName,
	}

	cache := bcache.New(store, bcache.DefaultOptions())
	freeMap := alloc.NewFreeMap(
		options.Blocks,
		alloc.BlockBitmapStore{Writer: cache, Start: sb.FreeMapStart},
	)
	freeMap.Reserve(SuperblockBlock, 1+int(sb.FreeMapBlocks))

	root, err := freeMap.Allocate(1)
	if err != nil {
		return Superblock{}, fmt.Errorf("formatting volume: root directory: %w", err)
	}
	sb.RootDir = root
	if err := directory.Create(
		inode.NewManager(cache, freeMap),
		root,
		root,
		directory.InitialEntries,
	); err != nil {
		return Superblock{}, fmt.Errorf("formatting volume: %w", err)
	}

	if err := writeSuperblock(cache, &sb); err != nil {
		return Superblock{}, fmt.Errorf("formatting volume: %w", err)
	}
	if err := freeMap.Flush(); err != nil {
		return Superblock{}, fmt.Errorf("formatting volume: %w", err)
	}
	if err := cache.Close(); err != nil {
		return Superblock{}, fmt.Errorf("formatting volume: %w", err)
	}

	log.Printf(
		"INFO formatted volume `%s` (%s): `%d` blocks; free map at `%d` "+
			"(`%d` blocks); root directory at `%d`",
		sb.VolumeName,
		sb.UUID,
		sb.BlockCount,
		sb.FreeMapStart,
		sb.FreeMapBlocks,
		sb.RootDir,
	)
	return sb, nil
}

func writeSuperblock(cache *bcache.Cache, sb *Superblock) error {
	var b [BlockSize]byte
	encode.EncodeSuperblock(sb, &b)
	if err := cache.Write(SuperblockBlock, 0, b[:]); err != nil {
		return fmt.Errorf("writing superblock: %w", err)
	}
	return nil
}

func readSuperblock(cache *bcache.Cache, sb *Superblock) error {
	var b [BlockSize]byte
	if err := cache.Read(SuperblockBlock, 0, b[:]); err != nil {
		return fmt.Errorf("reading superblock: %w", err)
	}
	if err := encode.DecodeSuperblock(sb, &b); err != nil {
		return fmt.Errorf("reading superblock: %w", err)
	}
	return nil
}
