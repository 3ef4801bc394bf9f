package alloc

import (
	"fmt"

	"github.com/weberc2/blockfs/pkg/math"
	. "github.com/weberc2/blockfs/pkg/types"
)

type BlockReader interface {
	Read(block Block, offset Byte, p []byte) error
}

type BlockWriter interface {
	Write(block Block, offset Byte, p []byte) error
}

// BlockBitmapStore stores a bitmap in consecutive blocks starting at
// `Start`.
type BlockBitmapStore struct {
	Writer BlockWriter
	Start  Block
}

func (store BlockBitmapStore) Put(bitmap Bitmap) error {
	data := bitmap.Bytes()
	for i := 0; Byte(i)*BlockSize < Byte(len(data)); i++ {
		chunk := data[Byte(i)*BlockSize:]
		chunk = chunk[:math.Min(Byte(len(chunk)), BlockSize)]
		block := store.Start + Block(i)
		if err := store.Writer.Write(block, 0, chunk); err != nil {
			return fmt.Errorf("storing bitmap block `%d`: %w", block, err)
		}
	}
	return nil
}

// BitmapBlocks returns the number of blocks needed to store a bitmap of
// `size` bits.
func BitmapBlocks(size Block) Block {
	return Block(math.DivRoundUp(
		math.DivRoundUp(Byte(size), bitsPerByte),
		BlockSize,
	))
}

// ReadBitmap loads a bitmap of `size` bits from the blocks starting at
// `start`.
func ReadBitmap(r BlockReader, start Block, size Block) (Bitmap, error) {
	data := make([]byte, math.DivRoundUp(Byte(size), bitsPerByte))
	for i := 0; Byte(i)*BlockSize < Byte(len(data)); i++ {
		chunk := data[Byte(i)*BlockSize:]
		chunk = chunk[:math.Min(Byte(len(chunk)), BlockSize)]
		block := start + Block(i)
		if err := r.Read(block, 0, chunk); err != nil {
			return Bitmap{}, fmt.Errorf(
				"reading bitmap block `%d`: %w",
				block,
				err,
			)
		}
	}
	return FromBytes(data, int(size)), nil
}
