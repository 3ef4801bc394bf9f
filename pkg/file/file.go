package file

import (
	"errors"
	"fmt"
	"io"

	"github.com/weberc2/blockfs/pkg/inode"
	. "github.com/weberc2/blockfs/pkg/types"
)

const InvalidWhenceErr ConstError = "invalid whence"

// File is an open file with its own position. Several Files may share one
// inode handle.
type File struct {
	handle *inode.Handle
	pos    Byte
	denied bool
}

// New takes ownership of one reference to `h`; Close releases it.
func New(h *inode.Handle) *File { return &File{handle: h} }

func (f *File) Inumber() Block { return f.handle.Inumber() }

func (f *File) Handle() *inode.Handle { return f.handle }

func (f *File) Read(p []byte) (int, error) {
	n, err := f.handle.ReadAt(p, int64(f.pos))
	f.pos += Byte(n)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("reading file `%d`: %w", f.handle.Inumber(), err)
	}
	if n > 0 {
		return n, nil
	}
	return n, err
}

// Write writes at the current position and advances it. Unlike the
// underlying handle, a denied write is reported as WriteDeniedErr.
func (f *File) Write(p []byte) (int, error) {
	n, err := f.handle.WriteAt(p, int64(f.pos))
	f.pos += Byte(n)
	if err != nil {
		return n, fmt.Errorf("writing file `%d`: %w", f.handle.Inumber(), err)
	}
	if n < len(p) {
		return n, fmt.Errorf("writing file `%d`: %w", f.handle.Inumber(), WriteDeniedErr)
	}
	return n, nil
}

func (f *File) ReadAt(p []byte, offset int64) (int, error) {
	return f.handle.ReadAt(p, offset)
}

func (f *File) WriteAt(p []byte, offset int64) (int, error) {
	return f.handle.WriteAt(p, offset)
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	var base Byte
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = f.pos
	case io.SeekEnd:
		length, err := f.handle.Length()
		if err != nil {
			return int64(f.pos), fmt.Errorf(
				"seeking file `%d`: %w",
				f.handle.Inumber(),
				err,
			)
		}
		base = length
	default:
		return int64(f.pos), fmt.Errorf(
			"seeking file `%d`: whence `%d`: %w",
			f.handle.Inumber(),
			whence,
			InvalidWhenceErr,
		)
	}
	pos := base + Byte(offset)
	if pos < 0 {
		return int64(f.pos), fmt.Errorf(
			"seeking file `%d`: %w",
			f.handle.Inumber(),
			inode.NegativeOffsetErr,
		)
	}
	f.pos = pos
	return int64(pos), nil
}

func (f *File) Tell() Byte { return f.pos }

func (f *File) Length() (Byte, error) { return f.handle.Length() }

// DenyWrite blocks writes to the inode until this File allows them again
// or is closed. Repeated calls have no further effect.
func (f *File) DenyWrite() {
	if !f.denied {
		f.denied = true
		f.handle.DenyWrite()
	}
}

func (f *File) AllowWrite() {
	if f.denied {
		f.denied = false
		f.handle.AllowWrite()
	}
}

func (f *File) Close() error {
	f.AllowWrite()
	return f.handle.Close()
}
