package encode

import (
	"bytes"

	. "github.com/weberc2/blockfs/pkg/types"
)

func EncodeDirEntry(entry *DirEntry, b *[DirEntrySize]byte) {
	p := b[:]
	putBlock(p, dirEntryInodeStart, entry.Inode)
	name := p[dirEntryNameStart:dirEntryNameEnd]
	for i := range name {
		name[i] = 0
	}
	copy(name[:NameMax], entry.Name)
	putBool(p, dirEntryInUseStart, entry.InUse)
}

func DecodeDirEntry(entry *DirEntry, b *[DirEntrySize]byte) {
	p := b[:]
	entry.Inode = getBlock(p, dirEntryInodeStart)
	name := p[dirEntryNameStart:dirEntryNameEnd]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	entry.Name = string(name)
	entry.InUse = getBool(p, dirEntryInUseStart)
}

const (
	dirEntryInodeStart = 0
	dirEntryInodeSize  = BlockPointerSize
	dirEntryInodeEnd   = dirEntryInodeStart + dirEntryInodeSize

	dirEntryNameStart = dirEntryInodeEnd
	dirEntryNameSize  = NameMax + 1
	dirEntryNameEnd   = dirEntryNameStart + dirEntryNameSize

	dirEntryInUseStart = dirEntryNameEnd
)
