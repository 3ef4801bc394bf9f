package types

const (
	OutOfBlocksErr       ConstError = "out of free blocks"
	FileTooLargeErr      ConstError = "offset beyond maximum file size"
	BadMagicErr          ConstError = "bad inode magic"
	BadSuperblockErr     ConstError = "bad superblock"
	WriteDeniedErr       ConstError = "writes denied"
	NotFoundErr          ConstError = "no such file or directory"
	ExistsErr            ConstError = "file exists"
	NotDirectoryErr      ConstError = "not a directory"
	IsDirectoryErr       ConstError = "is a directory"
	DirectoryNotEmptyErr ConstError = "directory not empty"
	DirectoryBusyErr     ConstError = "directory in use"
	NameTooLongErr       ConstError = "file name too long"
	InvalidPathErr       ConstError = "invalid path"
	ShortBlockErr        ConstError = "buffer is not one block long"
)
