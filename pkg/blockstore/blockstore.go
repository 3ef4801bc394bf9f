// Package blockstore is the boundary to the raw block device. Every backend
// reads and writes whole blocks; a block that has never been written reads
// as zeros. Errors from a backend are device errors and are never retried.
package blockstore

import . "github.com/weberc2/blockfs/pkg/types"

type BlockStore interface {
	ReadBlock(block Block, p *[BlockSize]byte) error
	WriteBlock(block Block, p *[BlockSize]byte) error
}

const (
	BlockOutOfRangeErr ConstError = "block beyond end of store"
)
