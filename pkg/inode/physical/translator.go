package physical

import (
	"fmt"

	"github.com/weberc2/blockfs/pkg/alloc"
	"github.com/weberc2/blockfs/pkg/encode"
	. "github.com/weberc2/blockfs/pkg/types"
)

type BlockCache interface {
	Read(block Block, offset Byte, p []byte) error
	Write(block Block, offset Byte, p []byte) error
}

// Translator maps file offsets to device blocks through an inode record's
// direct slots and indirection tables. Tables are read and written through
// the block cache. Callers serialize access per record.
type Translator struct {
	cache     BlockCache
	allocator alloc.Allocator
}

func NewTranslator(cache BlockCache, allocator alloc.Allocator) *Translator {
	return &Translator{cache: cache, allocator: allocator}
}

// Resolve returns the block holding `offset`, or BlockNil if `offset` lies
// at or beyond the end of the file.
func (t *Translator) Resolve(inode *Inode, offset Byte) (Block, error) {
	if offset < 0 || offset >= inode.Length {
		return BlockNil, nil
	}

	loc := Locate(offset)
	switch loc.Tier {
	case TierDirect:
		return inode.Direct[loc.Index1], nil
	case TierSingly:
		block, err := t.readSlot(inode.Indirect, loc.Index1)
		if err != nil {
			return BlockNil, fmt.Errorf(
				"resolving offset `%d`: traversing %s table: %w",
				offset,
				loc.Tier,
				err,
			)
		}
		return block, nil
	case TierDoubly:
		table, err := t.readSlot(inode.DoubleIndirect, loc.Index1)
		if err != nil {
			return BlockNil, fmt.Errorf(
				"resolving offset `%d`: traversing %s table: %w",
				offset,
				loc.Tier,
				err,
			)
		}
		block, err := t.readSlot(table, loc.Index2)
		if err != nil {
			return BlockNil, fmt.Errorf(
				"resolving offset `%d`: traversing second-level table `%d`: %w",
				offset,
				table,
				err,
			)
		}
		return block, nil
	default:
		return BlockNil, fmt.Errorf(
			"resolving offset `%d`: %w",
			offset,
			FileTooLargeErr,
		)
	}
}

// Register installs `block` at `loc`, allocating any missing indirection
// tables first. The first use of the doubly indirect tier allocates the
// top-level table together with all of its second-level tables. If any
// allocation or write fails, the blocks this call allocated are released
// and `inode` is left as it was.
func (t *Translator) Register(inode *Inode, block Block, loc Location) error {
	switch loc.Tier {
	case TierDirect:
		inode.Direct[loc.Index1] = block
		return nil

	case TierSingly:
		table := inode.Indirect
		var allocated []Block
		if table == BlockNil {
			var err error
			if table, err = t.newTable(nil); err != nil {
				return fmt.Errorf(
					"registering block `%d` at %s slot `%d`: %w",
					block,
					loc.Tier,
					loc.Index1,
					err,
				)
			}
			allocated = append(allocated, table)
		}
		if err := t.writeSlot(table, loc.Index1, block); err != nil {
			t.release(allocated)
			return fmt.Errorf(
				"registering block `%d` at %s slot `%d`: %w",
				block,
				loc.Tier,
				loc.Index1,
				err,
			)
		}
		inode.Indirect = table
		return nil

	case TierDoubly:
		top := inode.DoubleIndirect
		var allocated []Block
		if top == BlockNil {
			var err error
			if top, allocated, err = t.newDoublyTables(); err != nil {
				return fmt.Errorf(
					"registering block `%d` at %s slot `%d/%d`: %w",
					block,
					loc.Tier,
					loc.Index1,
					loc.Index2,
					err,
				)
			}
		}
		second, err := t.readSlot(top, loc.Index1)
		if err == nil && second == BlockNil {
			// a top-level table written by an older layout with holes;
			// fill the hole.
			if second, err = t.newTable(nil); err == nil {
				allocated = append(allocated, second)
				err = t.writeSlot(top, loc.Index1, second)
			}
		}
		if err == nil {
			err = t.writeSlot(second, loc.Index2, block)
		}
		if err != nil {
			t.release(allocated)
			return fmt.Errorf(
				"registering block `%d` at %s slot `%d/%d`: %w",
				block,
				loc.Tier,
				loc.Index1,
				loc.Index2,
				err,
			)
		}
		inode.DoubleIndirect = top
		return nil

	default:
		return fmt.Errorf("registering block `%d`: %w", block, FileTooLargeErr)
	}
}

// newDoublyTables allocates a top-level table and all of its second-level
// tables, zeroing each second-level table and pointing the top-level table
// at them.
func (t *Translator) newDoublyTables() (Block, []Block, error) {
	allocated := make([]Block, 0, 1+PointersPerBlock)
	var top encode.Table
	for i := range top {
		table, err := t.newTable(nil)
		if err != nil {
			t.release(allocated)
			return BlockNil, nil, fmt.Errorf(
				"allocating second-level table `%d`: %w",
				i,
				err,
			)
		}
		allocated = append(allocated, table)
		top[i] = table
	}
	block, err := t.newTable(&top)
	if err != nil {
		t.release(allocated)
		return BlockNil, nil, fmt.Errorf(
			"allocating doubly indirect table: %w",
			err,
		)
	}
	return block, append(allocated, block), nil
}

// newTable allocates a block and writes `contents` (zeros if nil) to it.
func (t *Translator) newTable(contents *encode.Table) (Block, error) {
	block, err := t.allocator.Allocate(1)
	if err != nil {
		return BlockNil, err
	}
	var b [BlockSize]byte
	if contents != nil {
		encode.EncodeTable(contents, &b)
	}
	if err := t.cache.Write(block, 0, b[:]); err != nil {
		t.allocator.Release(block, 1)
		return BlockNil, fmt.Errorf("initializing table `%d`: %w", block, err)
	}
	return block, nil
}

func (t *Translator) release(blocks []Block) {
	for _, block := range blocks {
		t.allocator.Release(block, 1)
	}
}

func (t *Translator) readSlot(table Block, index int) (Block, error) {
	if table == BlockNil {
		return BlockNil, nil
	}
	var b [BlockPointerSize]byte
	if err := t.cache.Read(table, encode.TableSlotOffset(index), b[:]); err != nil {
		return BlockNil, fmt.Errorf(
			"reading slot `%d` of table `%d`: %w",
			index,
			table,
			err,
		)
	}
	return encode.DecodeBlock(&b), nil
}

func (t *Translator) writeSlot(table Block, index int, target Block) error {
	var b [BlockPointerSize]byte
	encode.EncodeBlock(target, &b)
	if err := t.cache.Write(table, encode.TableSlotOffset(index), b[:]); err != nil {
		return fmt.Errorf(
			"writing block `%d` to slot `%d` of table `%d`: %w",
			target,
			index,
			table,
			err,
		)
	}
	return nil
}

func (t *Translator) readTable(block Block, table *encode.Table) error {
	var b [BlockSize]byte
	if err := t.cache.Read(block, 0, b[:]); err != nil {
		return fmt.Errorf("reading table `%d`: %w", block, err)
	}
	encode.DecodeTable(table, &b)
	return nil
}

// Owned returns every block the record's map refers to: data blocks and
// indirection tables. Every slot is examined, holes included.
func (t *Translator) Owned(inode *Inode) ([]Block, error) {
	var owned []Block
	for _, block := range inode.Direct {
		if block != BlockNil {
			owned = append(owned, block)
		}
	}

	var table encode.Table
	if inode.Indirect != BlockNil {
		if err := t.readTable(inode.Indirect, &table); err != nil {
			return nil, err
		}
		owned = appendNonNil(owned, table[:])
		owned = append(owned, inode.Indirect)
	}

	if inode.DoubleIndirect != BlockNil {
		var top encode.Table
		if err := t.readTable(inode.DoubleIndirect, &top); err != nil {
			return nil, err
		}
		for _, second := range top {
			if second == BlockNil {
				continue
			}
			if err := t.readTable(second, &table); err != nil {
				return nil, err
			}
			owned = appendNonNil(owned, table[:])
			owned = append(owned, second)
		}
		owned = append(owned, inode.DoubleIndirect)
	}
	return owned, nil
}

// Release returns every block owned by the record to the allocator. Nothing
// is released if any table can't be read.
func (t *Translator) Release(inode *Inode) (int, error) {
	owned, err := t.Owned(inode)
	if err != nil {
		return 0, fmt.Errorf("releasing inode blocks: %w", err)
	}
	t.release(owned)
	return len(owned), nil
}

func appendNonNil(dst []Block, src []Block) []Block {
	for _, block := range src {
		if block != BlockNil {
			dst = append(dst, block)
		}
	}
	return dst
}
