package physical

import (
	"errors"
	"testing"

	"github.com/weberc2/blockfs/pkg/testsupport"
	. "github.com/weberc2/blockfs/pkg/types"
)

func TestLocate(t *testing.T) {
	for _, testCase := range []struct {
		offset Byte
		wanted Location
	}{
		{0, Location{Tier: TierDirect}},
		{511, Location{Tier: TierDirect}},
		{122*BlockSize + 511, Location{Tier: TierDirect, Index1: 122}},
		{123 * BlockSize, Location{Tier: TierSingly}},
		{250*BlockSize + 511, Location{Tier: TierSingly, Index1: 127}},
		{251 * BlockSize, Location{Tier: TierDoubly}},
		{(251 + 129) * BlockSize, Location{Tier: TierDoubly, Index1: 1, Index2: 1}},
		{
			(251+16384)*BlockSize - 1,
			Location{Tier: TierDoubly, Index1: 127, Index2: 127},
		},
		{(251 + 16384) * BlockSize, Location{Tier: TierOutOfRange}},
		{-1, Location{Tier: TierOutOfRange}},
	} {
		if found := Locate(testCase.offset); found != testCase.wanted {
			t.Errorf(
				"Locate(%d): wanted `%+v`; found `%+v`",
				testCase.offset,
				testCase.wanted,
				found,
			)
		}
	}
}

func TestTranslator_RegisterResolve(t *testing.T) {
	volume := testsupport.NewVolume(1024)
	translator := NewTranslator(volume.Cache, volume.FreeMap)
	inode := NewInode(false)

	offsets := []Byte{
		0,
		122 * BlockSize,
		123 * BlockSize,
		250 * BlockSize,
		251 * BlockSize,
		(251 + 16384 - 1) * BlockSize,
	}
	wanted := map[Byte]Block{}
	for _, offset := range offsets {
		block, err := volume.FreeMap.Allocate(1)
		if err != nil {
			t.Fatalf("Allocate(): unexpected err: %v", err)
		}
		if err := translator.Register(&inode, block, Locate(offset)); err != nil {
			t.Fatalf("Register(%d): unexpected err: %v", offset, err)
		}
		wanted[offset] = block
	}
	inode.Length = MaxFileSize

	for _, offset := range offsets {
		found, err := translator.Resolve(&inode, offset)
		if err != nil {
			t.Fatalf("Resolve(%d): unexpected err: %v", offset, err)
		}
		if found != wanted[offset] {
			t.Fatalf(
				"Resolve(%d): wanted `%d`; found `%d`",
				offset,
				wanted[offset],
				found,
			)
		}
	}

	// holes resolve to nil
	if found, err := translator.Resolve(&inode, 300*BlockSize); err != nil {
		t.Fatalf("Resolve(): unexpected err: %v", err)
	} else if found != BlockNil {
		t.Fatalf("Resolve(): wanted nil block for hole; found `%d`", found)
	}
}

func TestTranslator_ResolveBeyondLength(t *testing.T) {
	volume := testsupport.NewVolume(64)
	translator := NewTranslator(volume.Cache, volume.FreeMap)
	inode := NewInode(false)
	if err := translator.Register(&inode, 7, Locate(0)); err != nil {
		t.Fatalf("Register(): unexpected err: %v", err)
	}
	inode.Length = 100

	for _, offset := range []Byte{100, BlockSize, -1} {
		found, err := translator.Resolve(&inode, offset)
		if err != nil {
			t.Fatalf("Resolve(%d): unexpected err: %v", offset, err)
		}
		if found != BlockNil {
			t.Fatalf("Resolve(%d): wanted nil block; found `%d`", offset, found)
		}
	}
}

func TestTranslator_DoublyAllocatesAllTables(t *testing.T) {
	volume := testsupport.NewVolume(1024)
	translator := NewTranslator(volume.Cache, volume.FreeMap)
	inode := NewInode(false)

	before := volume.FreeMap.Free()
	if err := translator.Register(
		&inode,
		900,
		Locate(251*BlockSize),
	); err != nil {
		t.Fatalf("Register(): unexpected err: %v", err)
	}
	if used := before - volume.FreeMap.Free(); used != 1+PointersPerBlock {
		t.Fatalf(
			"Register(): wanted `%d` tables allocated; found `%d`",
			1+PointersPerBlock,
			used,
		)
	}

	// every second-level table already exists
	before = volume.FreeMap.Free()
	if err := translator.Register(
		&inode,
		901,
		Locate((251+16383)*BlockSize),
	); err != nil {
		t.Fatalf("Register(): unexpected err: %v", err)
	}
	if used := before - volume.FreeMap.Free(); used != 0 {
		t.Fatalf("Register(): wanted `0` tables allocated; found `%d`", used)
	}
}

func TestTranslator_RegisterRollsBackOnExhaustion(t *testing.T) {
	volume := testsupport.NewVolume(64)
	translator := NewTranslator(volume.Cache, volume.FreeMap)
	inode := NewInode(false)

	before := volume.FreeMap.Free()
	err := translator.Register(&inode, 9, Locate(251*BlockSize))
	if !errors.Is(err, OutOfBlocksErr) {
		t.Fatalf("Register(): wanted `%v`; found `%v`", OutOfBlocksErr, err)
	}
	if after := volume.FreeMap.Free(); after != before {
		t.Fatalf(
			"Register(): wanted `%d` free blocks after rollback; found `%d`",
			before,
			after,
		)
	}
	if inode.DoubleIndirect != BlockNil {
		t.Fatalf(
			"Register(): wanted nil doubly indirect table; found `%d`",
			inode.DoubleIndirect,
		)
	}
}

type cacheFake struct {
	BlockCache
	writes    int
	failAfter int
}

const cacheWriteErr ConstError = "cache write failed"

func (c *cacheFake) Write(block Block, offset Byte, p []byte) error {
	c.writes++
	if c.writes > c.failAfter {
		return cacheWriteErr
	}
	return c.BlockCache.Write(block, offset, p)
}

func TestTranslator_RegisterRollsBackOnWriteFailure(t *testing.T) {
	volume := testsupport.NewVolume(64)
	cache := &cacheFake{BlockCache: volume.Cache, failAfter: 1}
	translator := NewTranslator(cache, volume.FreeMap)
	inode := NewInode(false)

	// the table is zeroed, then writing its slot fails
	before := volume.FreeMap.Free()
	err := translator.Register(&inode, 9, Locate(123*BlockSize))
	if !errors.Is(err, cacheWriteErr) {
		t.Fatalf("Register(): wanted `%v`; found `%v`", cacheWriteErr, err)
	}
	if after := volume.FreeMap.Free(); after != before {
		t.Fatalf(
			"Register(): wanted `%d` free blocks after rollback; found `%d`",
			before,
			after,
		)
	}
	if inode.Indirect != BlockNil {
		t.Fatalf(
			"Register(): wanted nil indirect table; found `%d`",
			inode.Indirect,
		)
	}
}

func TestTranslator_Release(t *testing.T) {
	volume := testsupport.NewVolume(1024)
	translator := NewTranslator(volume.Cache, volume.FreeMap)
	inode := NewInode(false)
	baseline := volume.FreeMap.Free()

	// slot 0 is left empty so that a walk stopping at the first hole would
	// leak everything after it
	for _, offset := range []Byte{
		5 * BlockSize,
		130 * BlockSize,
		(251 + 200) * BlockSize,
	} {
		block, err := volume.FreeMap.Allocate(1)
		if err != nil {
			t.Fatalf("Allocate(): unexpected err: %v", err)
		}
		if err := translator.Register(&inode, block, Locate(offset)); err != nil {
			t.Fatalf("Register(%d): unexpected err: %v", offset, err)
		}
	}

	released, err := translator.Release(&inode)
	if err != nil {
		t.Fatalf("Release(): unexpected err: %v", err)
	}
	if wanted := 3 + 1 + 1 + PointersPerBlock; released != wanted {
		t.Fatalf("Release(): wanted `%d` blocks; found `%d`", wanted, released)
	}
	if free := volume.FreeMap.Free(); free != baseline {
		t.Fatalf("Release(): wanted `%d` free blocks; found `%d`", baseline, free)
	}
}
