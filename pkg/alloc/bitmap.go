package alloc

import (
	"github.com/weberc2/blockfs/pkg/math"
)

const bitsPerByte = 8

// Bitmap is a fixed-size set of bits, most significant bit first within each
// byte.
type Bitmap struct {
	bytes []byte
	size  int
}

func New(size int) Bitmap {
	return Bitmap{bytes: make([]byte, math.DivRoundUp(size, bitsPerByte)), size: size}
}

// FromBytes wraps an encoded bitmap of `size` bits. Bits past `size` are
// ignored.
func FromBytes(data []byte, size int) Bitmap {
	bm := New(size)
	copy(bm.bytes, data)
	return bm
}

func (bm Bitmap) Size() int { return bm.size }

func (bm Bitmap) Bytes() []byte { return bm.bytes }

func (bm Bitmap) Test(i int) bool {
	return !byteIsZero(bm.bytes[i/bitsPerByte], uint8(i%bitsPerByte))
}

func (bm Bitmap) Set(i int) {
	b := &bm.bytes[i/bitsPerByte]
	*b = byteSetHigh(*b, uint8(i%bitsPerByte))
}

func (bm Bitmap) Clear(i int) {
	b := &bm.bytes[i/bitsPerByte]
	*b = byteSetLow(*b, uint8(i%bitsPerByte))
}

// Scan returns the start of the first run of `count` clear bits.
func (bm Bitmap) Scan(count int) (int, bool) {
	run := 0
	for i := 0; i < bm.size; i++ {
		if bm.bytes[i/bitsPerByte] == 0xff {
			run = 0
			i += bitsPerByte - 1 - i%bitsPerByte
			continue
		}
		if bm.Test(i) {
			run = 0
			continue
		}
		run++
		if run == count {
			return i - count + 1, true
		}
	}
	return 0, false
}

// Count returns the number of set bits.
func (bm Bitmap) Count() int {
	n := 0
	for i := 0; i < bm.size; i++ {
		if bm.Test(i) {
			n++
		}
	}
	return n
}

func byteIsZero(byt byte, bit uint8) bool {
	return byt&(0b1000_0000>>bit) == 0
}

func byteSetHigh(byt byte, bit uint8) byte {
	return byt | (0b1000_0000 >> bit)
}

func byteSetLow(byt byte, bit uint8) byte {
	return byt & ^(0b1000_0000 >> bit)
}
