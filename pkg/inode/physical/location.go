package physical

import (
	"fmt"

	. "github.com/weberc2/blockfs/pkg/types"
)

type Tier int

const (
	TierDirect Tier = iota
	TierSingly
	TierDoubly
	TierOutOfRange
)

func (tier Tier) String() string {
	switch tier {
	case TierDirect:
		return "direct"
	case TierSingly:
		return "singly indirect"
	case TierDoubly:
		return "doubly indirect"
	case TierOutOfRange:
		return "out of range"
	default:
		panic(fmt.Sprintf("invalid tier: %d", tier))
	}
}

// Location addresses a data block within an inode's block map. Index1 is
// the slot in the direct table or the top-level indirection table; Index2 is
// only meaningful for the doubly indirect tier.
type Location struct {
	Tier   Tier
	Index1 int
	Index2 int
}

// direct
// |
//
// singly
// |____
// | | |
//
// doubly
// |______________
// |____  |____  |____
// | | |  | | |  | | |
const (
	directCount       Byte = DirectBlocksCount
	directMax              = directCount - 1
	singlyCount            = Byte(PointersPerBlock)
	singlyMax              = directMax + singlyCount
	doublyCount            = singlyCount * singlyCount
	doublyMax              = singlyMax + doublyCount
	doublyIndexOffset      = singlyMax + 1
)

// Locate maps a byte offset within a file to the tier and table slots of the
// block that holds it.
func Locate(offset Byte) Location {
	if offset < 0 {
		return Location{Tier: TierOutOfRange}
	}
	index := offset / BlockSize
	switch {
	case index <= directMax:
		return Location{Tier: TierDirect, Index1: int(index)}
	case index <= singlyMax:
		return Location{Tier: TierSingly, Index1: int(index - directCount)}
	case index <= doublyMax:
		base := int(index - doublyIndexOffset)
		return Location{
			Tier:   TierDoubly,
			Index1: base / PointersPerBlock,
			Index2: base % PointersPerBlock,
		}
	default:
		return Location{Tier: TierOutOfRange}
	}
}
