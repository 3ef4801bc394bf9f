package encode

import (
	"encoding/binary"

	. "github.com/weberc2/blockfs/pkg/types"
)

func putBlock(b []byte, start Byte, block Block) {
	putU32(b, start, uint32(block))
}

func getBlock(b []byte, start Byte) Block {
	return Block(getU32(b, start))
}

func putU32(b []byte, start Byte, u uint32) {
	binary.LittleEndian.PutUint32(b[start:start+4], u)
}

func getU32(b []byte, start Byte) uint32 {
	return binary.LittleEndian.Uint32(b[start : start+4])
}

func putU8(b []byte, start Byte, u uint8) {
	b[start] = u
}

func getU8(b []byte, start Byte) uint8 {
	return b[start]
}

func putBool(b []byte, start Byte, v bool) {
	if v {
		putU8(b, start, 1)
		return
	}
	putU8(b, start, 0)
}

func getBool(b []byte, start Byte) bool {
	return getU8(b, start) != 0
}

func EncodeBlock(block Block, b *[BlockPointerSize]byte) {
	putBlock(b[:], 0, block)
}

func DecodeBlock(b *[BlockPointerSize]byte) Block {
	return getBlock(b[:], 0)
}
