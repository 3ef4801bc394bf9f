package blockstore

import (
	"errors"
	"fmt"
	"io"
	"os"

	. "github.com/weberc2/blockfs/pkg/types"
)

type Volume interface {
	io.ReaderAt
	io.WriterAt
}

// VolumeBlockStore lays blocks out back to back in a volume, typically an
// image file. Reads past the end of a short image return zeros.
type VolumeBlockStore struct {
	volume Volume
	count  Block
}

func NewVolumeBlockStore(volume Volume, count Block) *VolumeBlockStore {
	return &VolumeBlockStore{volume: volume, count: count}
}

// OpenFile opens (creating if necessary) the image at `path` and sizes it to
// hold `count` blocks. The caller closes the returned file.
func OpenFile(path string, count Block) (*VolumeBlockStore, *os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening image `%s`: %w", path, err)
	}
	size := Byte(count) * BlockSize
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("opening image `%s`: %w", path, err)
	}
	if Byte(info.Size()) < size {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf(
				"opening image `%s`: growing to `%d` bytes: %w",
				path,
				size,
				err,
			)
		}
	}
	return NewVolumeBlockStore(f, count), f, nil
}

func (store *VolumeBlockStore) ReadBlock(block Block, p *[BlockSize]byte) error {
	if block >= store.count {
		return fmt.Errorf("reading block `%d`: %w", block, BlockOutOfRangeErr)
	}
	n, err := store.volume.ReadAt(p[:], int64(Byte(block)*BlockSize))
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading block `%d`: %w", block, err)
		}
		for i := n; i < len(p); i++ {
			p[i] = 0
		}
	}
	return nil
}

func (store *VolumeBlockStore) WriteBlock(block Block, p *[BlockSize]byte) error {
	if block >= store.count {
		return fmt.Errorf("writing block `%d`: %w", block, BlockOutOfRangeErr)
	}
	if _, err := store.volume.WriteAt(
		p[:],
		int64(Byte(block)*BlockSize),
	); err != nil {
		return fmt.Errorf("writing block `%d`: %w", block, err)
	}
	return nil
}

func (store *VolumeBlockStore) Count() Block { return store.count }

var _ BlockStore = (*VolumeBlockStore)(nil)
