// Package directory stores name-to-inode mappings as fixed-size entries in
// a directory inode's data. Callers serialize mutations of a directory.
package directory

import (
	"fmt"
	"strings"

	"github.com/weberc2/blockfs/pkg/encode"
	"github.com/weberc2/blockfs/pkg/inode"
	. "github.com/weberc2/blockfs/pkg/types"
)

// InitialEntries is the number of entry slots a new directory starts with.
// Directories grow past it on demand.
const InitialEntries = 16

const (
	Self   = "."
	Parent = ".."
)

// Create writes a directory inode at `block` with `entries` free slots and
// the `.` and `..` entries, the latter pointing at `parent`. On failure the
// directory's data blocks are released; `block` itself stays with the
// caller.
func Create(m *inode.Manager, block, parent Block, entries int) error {
	if err := m.Create(block, Byte(entries)*DirEntrySize, true); err != nil {
		return fmt.Errorf("creating directory `%d`: %w", block, err)
	}
	if err := initialize(m, block, parent); err != nil {
		if discardErr := m.Discard(block); discardErr != nil {
			return fmt.Errorf(
				"creating directory `%d`: %v; rolling back: %w",
				block,
				err,
				discardErr,
			)
		}
		return fmt.Errorf("creating directory `%d`: %w", block, err)
	}
	return nil
}

func initialize(m *inode.Manager, block, parent Block) error {
	h, err := m.Open(block)
	if err != nil {
		return err
	}
	defer h.Close()

	for i, entry := range []DirEntry{
		{Inode: block, Name: Self, InUse: true},
		{Inode: parent, Name: Parent, InUse: true},
	} {
		if err := writeEntry(h, Byte(i)*DirEntrySize, &entry); err != nil {
			return err
		}
	}
	return nil
}

func ValidateName(name string) error {
	switch {
	case name == "" || name == Self || name == Parent:
		return fmt.Errorf("name `%s`: %w", name, InvalidPathErr)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("name `%s`: %w", name, InvalidPathErr)
	case len(name) > NameMax:
		return fmt.Errorf("name `%s`: %w", name, NameTooLongErr)
	}
	return nil
}

// Lookup returns the inode block of the entry called `name`.
func Lookup(dir *inode.Handle, name string) (Block, error) {
	var found Block
	if err := scan(dir, func(_ Byte, entry *DirEntry) bool {
		if entry.InUse && entry.Name == name {
			found = entry.Inode
			return true
		}
		return false
	}); err != nil {
		return BlockNil, fmt.Errorf(
			"looking up `%s` in directory `%d`: %w",
			name,
			dir.Inumber(),
			err,
		)
	}
	if found == BlockNil {
		return BlockNil, fmt.Errorf(
			"looking up `%s` in directory `%d`: %w",
			name,
			dir.Inumber(),
			NotFoundErr,
		)
	}
	return found, nil
}

// Add inserts an entry mapping `name` to `block`, reusing the first free
// slot or appending one.
func Add(dir *inode.Handle, name string, block Block) error {
	if err := ValidateName(name); err != nil {
		return fmt.Errorf(
			"adding `%s` to directory `%d`: %w",
			name,
			dir.Inumber(),
			err,
		)
	}

	free := Byte(-1)
	var end Byte
	exists := false
	if err := scan(dir, func(offset Byte, entry *DirEntry) bool {
		end = offset + DirEntrySize
		if entry.InUse {
			if entry.Name == name {
				exists = true
				return true
			}
		} else if free < 0 {
			free = offset
		}
		return false
	}); err != nil {
		return fmt.Errorf(
			"adding `%s` to directory `%d`: %w",
			name,
			dir.Inumber(),
			err,
		)
	}
	if exists {
		return fmt.Errorf(
			"adding `%s` to directory `%d`: %w",
			name,
			dir.Inumber(),
			ExistsErr,
		)
	}
	if free < 0 {
		free = end
	}

	entry := DirEntry{Inode: block, Name: name, InUse: true}
	if err := writeEntry(dir, free, &entry); err != nil {
		return fmt.Errorf(
			"adding `%s` to directory `%d`: %w",
			name,
			dir.Inumber(),
			err,
		)
	}
	return nil
}

// Remove clears the entry called `name` and returns the block it mapped.
func Remove(dir *inode.Handle, name string) (Block, error) {
	if name == Self || name == Parent {
		return BlockNil, fmt.Errorf(
			"removing `%s` from directory `%d`: %w",
			name,
			dir.Inumber(),
			InvalidPathErr,
		)
	}

	offset := Byte(-1)
	var entry DirEntry
	if err := scan(dir, func(o Byte, e *DirEntry) bool {
		if e.InUse && e.Name == name {
			offset, entry = o, *e
			return true
		}
		return false
	}); err != nil {
		return BlockNil, fmt.Errorf(
			"removing `%s` from directory `%d`: %w",
			name,
			dir.Inumber(),
			err,
		)
	}
	if offset < 0 {
		return BlockNil, fmt.Errorf(
			"removing `%s` from directory `%d`: %w",
			name,
			dir.Inumber(),
			NotFoundErr,
		)
	}

	entry.InUse = false
	if err := writeEntry(dir, offset, &entry); err != nil {
		return BlockNil, fmt.Errorf(
			"removing `%s` from directory `%d`: %w",
			name,
			dir.Inumber(),
			err,
		)
	}
	return entry.Inode, nil
}

// ReadDir returns the in-use entries other than `.` and `..` in slot
// order.
func ReadDir(dir *inode.Handle) ([]DirEntry, error) {
	var entries []DirEntry
	if err := scan(dir, func(_ Byte, entry *DirEntry) bool {
		if entry.InUse && entry.Name != Self && entry.Name != Parent {
			entries = append(entries, *entry)
		}
		return false
	}); err != nil {
		return nil, fmt.Errorf("reading directory `%d`: %w", dir.Inumber(), err)
	}
	return entries, nil
}

func IsEmpty(dir *inode.Handle) (bool, error) {
	entries, err := ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// scan calls `visit` for every slot until it returns true.
func scan(dir *inode.Handle, visit func(Byte, *DirEntry) bool) error {
	isDir, err := dir.IsDir()
	if err != nil {
		return err
	}
	if !isDir {
		return NotDirectoryErr
	}
	length, err := dir.Length()
	if err != nil {
		return err
	}

	var b [DirEntrySize]byte
	var entry DirEntry
	for offset := Byte(0); offset+DirEntrySize <= length; offset += DirEntrySize {
		if _, err := dir.ReadAt(b[:], int64(offset)); err != nil {
			return fmt.Errorf("reading entry at `%d`: %w", offset, err)
		}
		encode.DecodeDirEntry(&entry, &b)
		if visit(offset, &entry) {
			return nil
		}
	}
	return nil
}

func writeEntry(dir *inode.Handle, offset Byte, entry *DirEntry) error {
	var b [DirEntrySize]byte
	encode.EncodeDirEntry(entry, &b)
	n, err := dir.WriteAt(b[:], int64(offset))
	if err != nil {
		return fmt.Errorf("writing entry at `%d`: %w", offset, err)
	}
	if n != len(b) {
		return fmt.Errorf("writing entry at `%d`: %w", offset, WriteDeniedErr)
	}
	return nil
}
