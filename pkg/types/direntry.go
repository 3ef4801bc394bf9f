package types

const (
	// NameMax is the longest name a directory entry can hold.
	NameMax = 14

	// DirEntrySize is the encoded size of a directory entry: the inode
	// block, the NUL-padded name and the in-use flag.
	DirEntrySize Byte = 4 + NameMax + 1 + 1
)

type DirEntry struct {
	Inode Block
	Name  string
	InUse bool
}
