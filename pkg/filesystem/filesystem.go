// Package filesystem ties the storage engine together into a mounted volume
// with a directory tree. Path resolution consults the path cache before
// walking directories: an exact hit is used directly, a hit on the parent
// skips the walk down to it, and anything else walks from the root (or from
// the working directory for relative paths). Paths with `.` or `..`
// components are always walked.
package filesystem

import (
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"

	"github.com/weberc2/blockfs/pkg/alloc"
	"github.com/weberc2/blockfs/pkg/bcache"
	"github.com/weberc2/blockfs/pkg/blockstore"
	"github.com/weberc2/blockfs/pkg/directory"
	"github.com/weberc2/blockfs/pkg/file"
	"github.com/weberc2/blockfs/pkg/inode"
	"github.com/weberc2/blockfs/pkg/pathcache"
	. "github.com/weberc2/blockfs/pkg/types"
)

type MountOptions struct {
	Cache bcache.Options
}

func DefaultMountOptions() MountOptions {
	return MountOptions{Cache: bcache.DefaultOptions()}
}

type FileSystem struct {
	superblock Superblock
	cache      *bcache.Cache
	freeMap    *alloc.FreeMap
	inodes     *inode.Manager
	paths      *pathcache.Cache

	// namespace is held shared for lookups and exclusively for anything
	// that changes directory contents or the working directory.
	namespace sync.RWMutex
	cwd       *inode.Handle
	cwdPath   string
	closed    bool
}

// FileInfo describes the inode a path resolves to.
type FileInfo struct {
	Name   string `json:"name"`
	Inode  Block  `json:"inode"`
	Length Byte   `json:"length"`
	IsDir  bool   `json:"isDir"`
}

// Mount validates the superblock on `store` and loads its free map. The
// superblock's block is always pinned in the cache.
func Mount(store blockstore.BlockStore, options MountOptions) (*FileSystem, error) {
	options.Cache.Pinned = append(options.Cache.Pinned, SuperblockBlock)
	cache := bcache.New(store, options.Cache)

	var sb Superblock
	if err := readSuperblock(cache, &sb); err != nil {
		return nil, fmt.Errorf("mounting volume: %w", err)
	}
	bitmap, err := alloc.ReadBitmap(cache, sb.FreeMapStart, sb.BlockCount)
	if err != nil {
		return nil, fmt.Errorf("mounting volume `%s`: %w", sb.VolumeName, err)
	}
	freeMap := alloc.LoadFreeMap(
		bitmap,
		alloc.BlockBitmapStore{Writer: cache, Start: sb.FreeMapStart},
	)
	inodes := inode.NewManager(cache, freeMap)
	root, err := inodes.Open(sb.RootDir)
	if err != nil {
		return nil, fmt.Errorf(
			"mounting volume `%s`: opening root directory: %w",
			sb.VolumeName,
			err,
		)
	}

	log.Printf(
		"INFO mounted volume `%s` (%s): `%d` blocks, `%d` free",
		sb.VolumeName,
		sb.UUID,
		sb.BlockCount,
		freeMap.Free(),
	)
	return &FileSystem{
		superblock: sb,
		cache:      cache,
		freeMap:    freeMap,
		inodes:     inodes,
		paths:      pathcache.New(),
		cwd:        root,
		cwdPath:    "/",
	}, nil
}

func (fs *FileSystem) Superblock() Superblock { return fs.superblock }

func (fs *FileSystem) CacheStats() bcache.Stats { return fs.cache.Stats() }

func (fs *FileSystem) FreeBlocks() int { return fs.freeMap.Free() }

func (fs *FileSystem) OpenInodes() int { return fs.inodes.OpenHandles() }

func (fs *FileSystem) CachedPaths() int { return fs.paths.Len() }

func (fs *FileSystem) Cwd() string {
	fs.namespace.RLock()
	defer fs.namespace.RUnlock()
	return fs.cwdPath
}

// Flush writes the free map and every dirty cache line to the store.
func (fs *FileSystem) Flush() error {
	if err := fs.freeMap.Flush(); err != nil {
		return err
	}
	return fs.cache.Flush()
}

// Close releases the working directory, flushes everything and drops the
// path cache. The file system is unusable afterwards.
func (fs *FileSystem) Close() error {
	fs.namespace.Lock()
	defer fs.namespace.Unlock()
	if fs.closed {
		return nil
	}
	fs.closed = true

	if err := fs.cwd.Close(); err != nil {
		return fmt.Errorf("unmounting volume: %w", err)
	}
	if open := fs.inodes.OpenHandles(); open > 0 {
		log.Printf("WARN unmounting volume with `%d` inodes still open", open)
	}
	if err := fs.freeMap.Flush(); err != nil {
		return fmt.Errorf("unmounting volume: %w", err)
	}
	if err := fs.cache.Close(); err != nil {
		return fmt.Errorf("unmounting volume: %w", err)
	}
	fs.paths.Clear()
	log.Printf("INFO unmounted volume `%s`", fs.superblock.VolumeName)
	return nil
}

// Create makes an empty regular file, or one of `length` zero bytes.
func (fs *FileSystem) Create(p string, length Byte) error {
	return fs.create(p, func(block, _ Block) error {
		return fs.inodes.Create(block, length, false)
	})
}

// CreateDir makes an empty directory.
func (fs *FileSystem) CreateDir(p string) error {
	return fs.create(p, func(block, parent Block) error {
		return directory.Create(fs.inodes, block, parent, directory.InitialEntries)
	})
}

func (fs *FileSystem) create(p string, initialize func(block, parent Block) error) error {
	fs.namespace.Lock()
	defer fs.namespace.Unlock()

	if canonical(p) {
		if _, found := fs.paths.Lookup(p); found {
			return fmt.Errorf("creating `%s`: %w", p, ExistsErr)
		}
	}

	parent, name, err := fs.resolveParent(p)
	if err != nil {
		return fmt.Errorf("creating `%s`: %w", p, err)
	}
	if err := directory.ValidateName(name); err != nil {
		return fmt.Errorf("creating `%s`: %w", p, err)
	}
	dir, err := fs.inodes.Open(parent)
	if err != nil {
		return fmt.Errorf("creating `%s`: %w", p, err)
	}
	defer dir.Close()

	if _, err := directory.Lookup(dir, name); err == nil {
		return fmt.Errorf("creating `%s`: %w", p, ExistsErr)
	} else if !errors.Is(err, NotFoundErr) {
		return fmt.Errorf("creating `%s`: %w", p, err)
	}

	block, err := fs.freeMap.Allocate(1)
	if err != nil {
		return fmt.Errorf("creating `%s`: %w", p, err)
	}
	if err := initialize(block, parent); err != nil {
		fs.freeMap.Release(block, 1)
		return fmt.Errorf("creating `%s`: %w", p, err)
	}
	if err := directory.Add(dir, name, block); err != nil {
		if discardErr := fs.discard(block); discardErr != nil {
			log.Printf(
				"WARN creating `%s`: discarding inode `%d`: %v",
				p,
				block,
				discardErr,
			)
		}
		return fmt.Errorf("creating `%s`: %w", p, err)
	}

	if canonical(p) {
		fs.paths.Insert(p, block)
	}
	return nil
}

// discard deletes an inode that never made it into a directory.
func (fs *FileSystem) discard(block Block) error {
	h, err := fs.inodes.Open(block)
	if err != nil {
		return err
	}
	h.Remove()
	return h.Close()
}

// Open returns the inode handle `p` resolves to. The caller closes it.
func (fs *FileSystem) Open(p string) (*inode.Handle, error) {
	fs.namespace.RLock()
	defer fs.namespace.RUnlock()
	return fs.open(p)
}

func (fs *FileSystem) open(p string) (*inode.Handle, error) {
	block, err := fs.resolve(p)
	if err != nil {
		return nil, fmt.Errorf("opening `%s`: %w", p, err)
	}
	h, err := fs.inodes.Open(block)
	if err != nil {
		return nil, fmt.Errorf("opening `%s`: %w", p, err)
	}
	return h, nil
}

// OpenFile opens a regular file for reading and writing.
func (fs *FileSystem) OpenFile(p string) (*file.File, error) {
	h, err := fs.Open(p)
	if err != nil {
		return nil, err
	}
	isDir, err := h.IsDir()
	if err == nil && isDir {
		err = IsDirectoryErr
	}
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("opening `%s`: %w", p, err)
	}
	return file.New(h), nil
}

func (fs *FileSystem) Stat(p string) (FileInfo, error) {
	h, err := fs.Open(p)
	if err != nil {
		return FileInfo{}, err
	}
	defer h.Close()
	return stat(h, path.Base(p))
}

func stat(h *inode.Handle, name string) (FileInfo, error) {
	length, err := h.Length()
	if err != nil {
		return FileInfo{}, err
	}
	isDir, err := h.IsDir()
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Name:   name,
		Inode:  h.Inumber(),
		Length: length,
		IsDir:  isDir,
	}, nil
}

// ReadDir lists the directory at `p`, excluding `.` and `..`.
func (fs *FileSystem) ReadDir(p string) ([]FileInfo, error) {
	fs.namespace.RLock()
	defer fs.namespace.RUnlock()

	dir, err := fs.open(p)
	if err != nil {
		return nil, err
	}
	defer dir.Close()

	entries, err := directory.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing `%s`: %w", p, err)
	}
	infos := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		h, err := fs.inodes.Open(entry.Inode)
		if err != nil {
			return nil, fmt.Errorf("listing `%s`: %w", p, err)
		}
		info, err := stat(h, entry.Name)
		h.Close()
		if err != nil {
			return nil, fmt.Errorf("listing `%s`: %w", p, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Remove unlinks `p`. Its blocks are reclaimed once every opener has
// closed it. Directories must be empty, and neither the root, the working
// directory nor a directory someone else has open can be removed.
func (fs *FileSystem) Remove(p string) error {
	fs.namespace.Lock()
	defer fs.namespace.Unlock()

	parent, name, err := fs.resolveParent(p)
	if err != nil {
		return fmt.Errorf("removing `%s`: %w", p, err)
	}
	if name == directory.Self || name == directory.Parent {
		return fmt.Errorf("removing `%s`: %w", p, InvalidPathErr)
	}
	dir, err := fs.inodes.Open(parent)
	if err != nil {
		return fmt.Errorf("removing `%s`: %w", p, err)
	}
	defer dir.Close()

	block, err := directory.Lookup(dir, name)
	if err != nil {
		return fmt.Errorf("removing `%s`: %w", p, err)
	}
	h, err := fs.inodes.Open(block)
	if err != nil {
		return fmt.Errorf("removing `%s`: %w", p, err)
	}
	defer h.Close()

	if err := fs.removable(h); err != nil {
		return fmt.Errorf("removing `%s`: %w", p, err)
	}
	if _, err := directory.Remove(dir, name); err != nil {
		return fmt.Errorf("removing `%s`: %w", p, err)
	}
	h.Remove()

	fs.paths.RemoveTree(fs.abs(p))
	return nil
}

func (fs *FileSystem) removable(h *inode.Handle) error {
	isDir, err := h.IsDir()
	if err != nil || !isDir {
		return err
	}
	switch {
	case h.Inumber() == fs.superblock.RootDir,
		h.Inumber() == fs.cwd.Inumber(),
		// ours plus anyone else's
		h.OpenCount() > 1:
		return DirectoryBusyErr
	}
	empty, err := directory.IsEmpty(h)
	if err != nil {
		return err
	}
	if !empty {
		return DirectoryNotEmptyErr
	}
	return nil
}

// Chdir changes the directory relative paths resolve from.
func (fs *FileSystem) Chdir(p string) error {
	fs.namespace.Lock()
	defer fs.namespace.Unlock()

	h, err := fs.open(p)
	if err != nil {
		return fmt.Errorf("changing directory: %w", err)
	}
	isDir, err := h.IsDir()
	if err == nil && !isDir {
		err = NotDirectoryErr
	}
	if err != nil {
		h.Close()
		return fmt.Errorf("changing directory to `%s`: %w", p, err)
	}

	old := fs.cwd
	fs.cwd, fs.cwdPath = h, fs.abs(p)
	return old.Close()
}

// abs returns the cleaned absolute form of `p`.
func (fs *FileSystem) abs(p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Join(fs.cwdPath, p)
}

// resolve returns the inode block `p` names.
func (fs *FileSystem) resolve(p string) (Block, error) {
	if p == "" {
		return BlockNil, InvalidPathErr
	}
	if !strings.HasPrefix(p, "/") {
		return fs.walk(fs.cwd.Inumber(), components(p))
	}
	if !canonical(p) {
		return fs.walk(fs.superblock.RootDir, components(p))
	}
	if block, found := fs.paths.Lookup(p); found {
		return block, nil
	}

	clean := path.Clean(p)
	var block Block
	var err error
	if parent, found := fs.paths.Lookup(path.Dir(clean)); found {
		block, err = fs.walk(parent, []string{path.Base(clean)})
	} else {
		block, err = fs.walk(fs.superblock.RootDir, components(clean))
	}
	if err != nil {
		return BlockNil, err
	}
	fs.paths.Insert(p, block)
	return block, nil
}

// resolveParent returns the directory that holds, or would hold, the last
// element of `p`, along with that element's name.
func (fs *FileSystem) resolveParent(p string) (Block, string, error) {
	if p == "" {
		return BlockNil, "", InvalidPathErr
	}

	var start Block
	var parts []string
	switch {
	case !strings.HasPrefix(p, "/"):
		start, parts = fs.cwd.Inumber(), components(p)
	case !canonical(p):
		start, parts = fs.superblock.RootDir, components(p)
	default:
		clean := path.Clean(p)
		if clean == "/" {
			return BlockNil, "", InvalidPathErr
		}
		dir, name := path.Dir(clean), path.Base(clean)
		if dir == "/" {
			return fs.superblock.RootDir, name, nil
		}
		if parent, found := fs.paths.Lookup(dir); found {
			return parent, name, nil
		}
		start, parts = fs.superblock.RootDir, components(clean)
	}
	if len(parts) == 0 {
		return BlockNil, "", InvalidPathErr
	}

	parent, err := fs.walk(start, parts[:len(parts)-1])
	if err != nil {
		return BlockNil, "", err
	}
	return parent, parts[len(parts)-1], nil
}

// walk looks up each name in turn starting from the directory `start`.
func (fs *FileSystem) walk(start Block, names []string) (Block, error) {
	block := start
	for _, name := range names {
		dir, err := fs.inodes.Open(block)
		if err != nil {
			return BlockNil, err
		}
		block, err = directory.Lookup(dir, name)
		dir.Close()
		if err != nil {
			return BlockNil, err
		}
	}
	return block, nil
}

// canonical reports whether no component of `p` is `.` or `..`. Only such
// paths go through the path cache; the rest are walked so that each `.` and
// `..` is looked up in the directory it names.
func canonical(p string) bool {
	for _, part := range components(p) {
		if part == directory.Self || part == directory.Parent {
			return false
		}
	}
	return true
}

func components(p string) []string {
	var parts []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
