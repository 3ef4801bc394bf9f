package inode

import (
	"fmt"
	"io"
	"sync"

	"github.com/weberc2/blockfs/pkg/math"
	. "github.com/weberc2/blockfs/pkg/types"
)

const (
	NegativeOffsetErr ConstError = "negative offset"
	UnmappedBlockErr  ConstError = "no block mapped within file length"
)

// Handle is the in-memory side of an open inode. It is shared by every
// opener of the same block.
type Handle struct {
	manager *Manager
	block   Block

	// guarded by manager.mutex
	openCount      int
	removed        bool
	denyWriteCount int

	// extendLock serializes every read-modify-write of the on-disk record
	// and is also held for plain reads of it.
	extendLock sync.Mutex
}

func (h *Handle) Inumber() Block { return h.block }

func (h *Handle) Close() error { return h.manager.Close(h) }

func (h *Handle) OpenCount() int {
	h.manager.mutex.Lock()
	defer h.manager.mutex.Unlock()
	return h.openCount
}

// Remove marks the inode for deletion once its last opener closes it.
func (h *Handle) Remove() {
	h.manager.mutex.Lock()
	defer h.manager.mutex.Unlock()
	h.removed = true
}

func (h *Handle) Removed() bool {
	h.manager.mutex.Lock()
	defer h.manager.mutex.Unlock()
	return h.removed
}

// DenyWrite blocks writes through every opener. It may be called at most
// once per opener.
func (h *Handle) DenyWrite() {
	h.manager.mutex.Lock()
	defer h.manager.mutex.Unlock()
	h.denyWriteCount++
	if h.denyWriteCount > h.openCount {
		panic(fmt.Sprintf(
			"inode `%d`: deny-write count `%d` exceeds `%d` openers",
			h.block,
			h.denyWriteCount,
			h.openCount,
		))
	}
}

// AllowWrite undoes one DenyWrite.
func (h *Handle) AllowWrite() {
	h.manager.mutex.Lock()
	defer h.manager.mutex.Unlock()
	if h.denyWriteCount < 1 {
		panic(fmt.Sprintf("inode `%d`: allow-write without deny-write", h.block))
	}
	h.denyWriteCount--
}

func (h *Handle) writeDenied() bool {
	h.manager.mutex.Lock()
	defer h.manager.mutex.Unlock()
	return h.denyWriteCount > 0
}

func (h *Handle) record(record *Inode) error {
	h.extendLock.Lock()
	defer h.extendLock.Unlock()
	return h.manager.readRecord(h.block, record)
}

func (h *Handle) Length() (Byte, error) {
	var record Inode
	if err := h.record(&record); err != nil {
		return 0, err
	}
	return record.Length, nil
}

func (h *Handle) IsDir() (bool, error) {
	var record Inode
	if err := h.record(&record); err != nil {
		return false, err
	}
	return record.IsDir, nil
}

// ReadAt reads up to `len(p)` bytes starting at `offset`, stopping at the
// end of the file. Like io.ReaderAt, a short read returns io.EOF.
func (h *Handle) ReadAt(p []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("reading inode `%d`: %w", h.block, NegativeOffsetErr)
	}

	var record Inode
	if err := h.record(&record); err != nil {
		return 0, err
	}

	start := Byte(offset)
	if start >= record.Length {
		return 0, io.EOF
	}
	end := math.Min(start+Byte(len(p)), record.Length)
	n, err := h.transfer(&record, p[:end-start], start, false)
	if err != nil {
		return n, fmt.Errorf(
			"reading `%d` bytes from inode `%d` at offset `%d`: %w",
			len(p),
			h.block,
			offset,
			err,
		)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes `p` at `offset`, extending the file first if the write
// ends past it. If writes are denied, regular files report zero bytes
// written and directories report WriteDeniedErr. If the file can only be
// partly extended, the bytes that fit are written and the short count is
// returned with the extension error. A write that starts at or past the
// maximum file size fails with FileTooLargeErr before anything is allocated.
func (h *Handle) WriteAt(p []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("writing inode `%d`: %w", h.block, NegativeOffsetErr)
	}
	if len(p) == 0 {
		return 0, nil
	}
	start := Byte(offset)
	if start >= MaxFileSize {
		return 0, fmt.Errorf(
			"writing inode `%d` at offset `%d`: %w",
			h.block,
			offset,
			FileTooLargeErr,
		)
	}
	end := start + Byte(len(p))

	h.extendLock.Lock()
	var record Inode
	if err := h.manager.readRecord(h.block, &record); err != nil {
		h.extendLock.Unlock()
		return 0, err
	}

	if h.writeDenied() {
		h.extendLock.Unlock()
		if record.IsDir {
			return 0, fmt.Errorf(
				"writing directory inode `%d`: %w",
				h.block,
				WriteDeniedErr,
			)
		}
		return 0, nil
	}

	var extendErr error
	if end > record.Length {
		before := record.Length
		extendErr = h.manager.extend(&record, end)
		if record.Length != before {
			if err := h.manager.writeRecord(h.block, &record); err != nil {
				h.extendLock.Unlock()
				return 0, fmt.Errorf("writing inode `%d`: %w", h.block, err)
			}
		}
	}
	h.extendLock.Unlock()

	// the block map only ever grows, so this snapshot stays valid
	if start >= record.Length {
		return 0, fmt.Errorf("writing inode `%d`: %w", h.block, extendErr)
	}
	stop := math.Min(end, record.Length)
	n, err := h.transfer(&record, p[:stop-start], start, true)
	if err != nil {
		return n, fmt.Errorf(
			"writing `%d` bytes to inode `%d` at offset `%d`: %w",
			len(p),
			h.block,
			offset,
			err,
		)
	}
	if extendErr != nil {
		return n, fmt.Errorf("writing inode `%d`: %w", h.block, extendErr)
	}
	return n, nil
}

// transfer copies between `p` and the file's blocks in chunks that never
// cross a block boundary. The range must lie within the record's length.
func (h *Handle) transfer(
	record *Inode,
	p []byte,
	offset Byte,
	write bool,
) (int, error) {
	var done Byte
	for done < Byte(len(p)) {
		pos := offset + done
		chunkOffset := pos % BlockSize
		chunkLength := math.Min(Byte(len(p))-done, BlockSize-chunkOffset)
		chunk := p[done : done+chunkLength]

		block, err := h.manager.translator.Resolve(record, pos)
		if err != nil {
			return int(done), err
		}
		if block == BlockNil {
			return int(done), fmt.Errorf("offset `%d`: %w", pos, UnmappedBlockErr)
		}

		if write {
			err = h.manager.cache.Write(block, chunkOffset, chunk)
		} else {
			err = h.manager.cache.Read(block, chunkOffset, chunk)
		}
		if err != nil {
			return int(done), err
		}
		done += chunkLength
	}
	return int(done), nil
}
