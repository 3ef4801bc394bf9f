package bcache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/weberc2/blockfs/pkg/blockstore"
	. "github.com/weberc2/blockfs/pkg/types"
)

func fill(seed byte) []byte {
	b := make([]byte, BlockSize)
	for i := range b {
		b[i] = seed
	}
	return b
}

func TestCache_ReadWrite(t *testing.T) {
	store := blockstore.NewMemoryBlockStore(64)
	c := New(store, DefaultOptions())

	// a full-block write never touches the device
	if err := c.Write(5, 0, fill(0xAA)); err != nil {
		t.Fatalf("Write(): unexpected err: %v", err)
	}
	if reads, _ := store.Counts(); reads != 0 {
		t.Fatalf("Write(): wanted `0` device reads; found `%d`", reads)
	}

	// a partial write loads the block first
	if err := c.Write(6, 10, []byte("hello")); err != nil {
		t.Fatalf("Write(): unexpected err: %v", err)
	}
	if reads, _ := store.Counts(); reads != 1 {
		t.Fatalf("Write(): wanted `1` device read; found `%d`", reads)
	}

	out := make([]byte, 7)
	if err := c.Read(6, 9, out); err != nil {
		t.Fatalf("Read(): unexpected err: %v", err)
	}
	if !bytes.Equal(out, []byte("\x00hello\x00")) {
		t.Fatalf("Read(): wanted `\\x00hello\\x00`; found `%q`", out)
	}

	out = make([]byte, 3)
	if err := c.Read(5, BlockSize-3, out); err != nil {
		t.Fatalf("Read(): unexpected err: %v", err)
	}
	if !bytes.Equal(out, []byte{0xAA, 0xAA, 0xAA}) {
		t.Fatalf("Read(): wanted `0xAA` bytes; found `%x`", out)
	}

	// nothing reaches the device until a flush
	if _, writes := store.Counts(); writes != 0 {
		t.Fatalf("wanted `0` device writes before flush; found `%d`", writes)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush(): unexpected err: %v", err)
	}
	if _, writes := store.Counts(); writes != 2 {
		t.Fatalf("Flush(): wanted `2` device writes; found `%d`", writes)
	}
}

func TestCache_OutOfBounds(t *testing.T) {
	c := New(blockstore.NewMemoryBlockStore(8), DefaultOptions())
	for _, testCase := range []struct {
		name   string
		offset Byte
		length int
	}{
		{name: "past end", offset: BlockSize - 1, length: 2},
		{name: "negative", offset: -1, length: 1},
		{name: "too long", offset: 0, length: int(BlockSize) + 1},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			err := c.Read(1, testCase.offset, make([]byte, testCase.length))
			if !errors.Is(err, OutOfBoundsErr) {
				t.Fatalf("Read(): wanted `%v`; found `%v`", OutOfBoundsErr, err)
			}
			err = c.Write(1, testCase.offset, make([]byte, testCase.length))
			if !errors.Is(err, OutOfBoundsErr) {
				t.Fatalf("Write(): wanted `%v`; found `%v`", OutOfBoundsErr, err)
			}
		})
	}
}

func TestCache_EvictionKeepsDirtyData(t *testing.T) {
	store := blockstore.NewMemoryBlockStore(128)
	c := New(store, Options{Lines: 4, WriteBackThreshold: 1 << 20})

	for block := Block(1); block <= 40; block++ {
		if err := c.Write(block, 0, fill(byte(block))); err != nil {
			t.Fatalf("Write(%d): unexpected err: %v", block, err)
		}
	}

	out := make([]byte, BlockSize)
	for block := Block(1); block <= 40; block++ {
		if err := c.Read(block, 0, out); err != nil {
			t.Fatalf("Read(%d): unexpected err: %v", block, err)
		}
		if !bytes.Equal(out, fill(byte(block))) {
			t.Fatalf("Read(%d): lost the evicted write", block)
		}
	}

	if stats := c.Stats(); stats.WriteBacks < 36 || stats.Resident != 4 {
		data, _ := json.Marshal(stats)
		t.Fatalf("wanted at least `36` write-backs and `4` resident; found %s", data)
	}
}

func TestCache_SecondChance(t *testing.T) {
	c := New(
		blockstore.NewMemoryBlockStore(16),
		Options{Lines: 3, WriteBackThreshold: 1 << 20},
	)
	b := make([]byte, 1)
	for _, block := range []Block{1, 2, 3, 4, 2, 5} {
		if err := c.Read(block, 0, b); err != nil {
			t.Fatalf("Read(%d): unexpected err: %v", block, err)
		}
	}

	// 4 evicts 1 after a full sweep clears every reference bit; 2 is then
	// referenced again so 5 evicts 3.
	for _, testCase := range []struct {
		block    Block
		resident bool
	}{
		{1, false},
		{2, true},
		{3, false},
		{4, true},
		{5, true},
	} {
		if _, found := c.lookup[testCase.block]; found != testCase.resident {
			t.Fatalf(
				"block `%d`: wanted resident `%t`; found `%t`",
				testCase.block,
				testCase.resident,
				found,
			)
		}
	}
}

func TestCache_PinnedBlockNeverEvicted(t *testing.T) {
	store := blockstore.NewMemoryBlockStore(64)
	c := New(store, Options{Lines: 2, WriteBackThreshold: 1 << 20, Pinned: []Block{0}})

	b := make([]byte, 1)
	if err := c.Write(0, 0, []byte{7}); err != nil {
		t.Fatalf("Write(): unexpected err: %v", err)
	}
	for block := Block(1); block < 50; block++ {
		if err := c.Read(block, 0, b); err != nil {
			t.Fatalf("Read(%d): unexpected err: %v", block, err)
		}
	}
	if err := c.Read(0, 0, b); err != nil {
		t.Fatalf("Read(0): unexpected err: %v", err)
	}
	if b[0] != 7 {
		t.Fatalf("Read(0): wanted `7`; found `%d`", b[0])
	}

	// one read for the partial write of block 0, one for each of 1..49
	if reads, _ := store.Counts(); reads != 50 {
		t.Fatalf("wanted `50` device reads; found `%d`", reads)
	}
	if i := c.lookup[0]; !c.lines[i].pinned {
		t.Fatal("wanted the line holding block `0` flagged pinned")
	}
}

func TestCache_AllLinesPinned(t *testing.T) {
	c := New(
		blockstore.NewMemoryBlockStore(8),
		Options{Lines: 1, WriteBackThreshold: 1 << 20, Pinned: []Block{0}},
	)
	b := make([]byte, 1)
	if err := c.Read(0, 0, b); err != nil {
		t.Fatalf("Read(0): unexpected err: %v", err)
	}
	if err := c.Read(1, 0, b); !errors.Is(err, AllLinesPinnedErr) {
		t.Fatalf("Read(1): wanted `%v`; found `%v`", AllLinesPinnedErr, err)
	}
}

func TestCache_WriteBackThreshold(t *testing.T) {
	store := blockstore.NewMemoryBlockStore(8)
	c := New(store, Options{Lines: 8, WriteBackThreshold: 5})

	if err := c.Write(1, 0, fill(1)); err != nil {
		t.Fatalf("Write(): unexpected err: %v", err)
	}
	b := make([]byte, 1)
	for i := 0; i < 3; i++ {
		if err := c.Read(1, 0, b); err != nil {
			t.Fatalf("Read(): unexpected err: %v", err)
		}
	}
	if _, writes := store.Counts(); writes != 0 {
		t.Fatalf("wanted `0` device writes after 4 operations; found `%d`", writes)
	}

	// the fifth operation triggers the sweep before it runs
	if err := c.Read(2, 0, b); err != nil {
		t.Fatalf("Read(): unexpected err: %v", err)
	}
	if _, writes := store.Counts(); writes != 1 {
		t.Fatalf("wanted `1` device write after the sweep; found `%d`", writes)
	}
	if stats := c.Stats(); stats.Sweeps != 1 || stats.Dirty != 0 {
		data, _ := json.Marshal(stats)
		t.Fatalf("wanted `1` sweep and no dirty lines; found %s", data)
	}
}

func TestCache_Close(t *testing.T) {
	store := blockstore.NewMemoryBlockStore(8)
	c := New(store, DefaultOptions())
	if err := c.Write(3, 0, fill(3)); err != nil {
		t.Fatalf("Write(): unexpected err: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close(): unexpected err: %v", err)
	}

	var out [BlockSize]byte
	if err := store.ReadBlock(3, &out); err != nil {
		t.Fatalf("ReadBlock(): unexpected err: %v", err)
	}
	if !bytes.Equal(out[:], fill(3)) {
		t.Fatal("Close(): dirty block not flushed")
	}

	if err := c.Read(3, 0, out[:1]); !errors.Is(err, ClosedErr) {
		t.Fatalf("Read(): wanted `%v`; found `%v`", ClosedErr, err)
	}
}

type failingStore struct {
	blockstore.BlockStore
	failReads  bool
	failWrites bool
}

const deviceErr ConstError = "device on fire"

func (store *failingStore) ReadBlock(block Block, p *[BlockSize]byte) error {
	if store.failReads {
		return deviceErr
	}
	return store.BlockStore.ReadBlock(block, p)
}

func (store *failingStore) WriteBlock(block Block, p *[BlockSize]byte) error {
	if store.failWrites {
		return deviceErr
	}
	return store.BlockStore.WriteBlock(block, p)
}

func TestCache_DeviceErrorsPropagate(t *testing.T) {
	store := &failingStore{BlockStore: blockstore.NewMemoryBlockStore(8)}
	c := New(store, Options{Lines: 1, WriteBackThreshold: 1 << 20})

	store.failReads = true
	b := make([]byte, 1)
	if err := c.Read(1, 0, b); !errors.Is(err, deviceErr) {
		t.Fatalf("Read(): wanted `%v`; found `%v`", deviceErr, err)
	}

	// the failed load left nothing behind; the next reader retries the
	// device
	store.failReads = false
	if err := c.Read(1, 0, b); err != nil {
		t.Fatalf("Read(): unexpected err: %v", err)
	}

	if err := c.Write(1, 0, fill(1)); err != nil {
		t.Fatalf("Write(): unexpected err: %v", err)
	}
	store.failWrites = true
	if err := c.Read(2, 0, b); !errors.Is(err, deviceErr) {
		t.Fatalf("Read(2): wanted eviction write-back `%v`; found `%v`", deviceErr, err)
	}

	// the dirty line survived the failed eviction
	store.failWrites = false
	if err := c.Read(1, 0, b); err != nil || b[0] != 1 {
		t.Fatalf("Read(1): wanted `1`; found `%d` (err: %v)", b[0], err)
	}
}

func TestCache_ConcurrentStress(t *testing.T) {
	const (
		workers         = 8
		blocksPerWorker = 12
		iterations      = 400
	)
	store := blockstore.NewMemoryBlockStore(workers*blocksPerWorker + 1)
	c := New(store, Options{Lines: 16, WriteBackThreshold: 97, Pinned: []Block{0}})

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			base := Block(1 + w*blocksPerWorker)
			last := make(map[Block]byte)
			b := make([]byte, 8)
			for i := 0; i < iterations; i++ {
				block := base + Block(rng.Intn(blocksPerWorker))
				// everybody also reads the shared pinned block
				if err := c.Read(0, 0, b[:1]); err != nil {
					errs <- err
					return
				}
				if rng.Intn(2) == 0 {
					v := byte(rng.Intn(250) + 1)
					for j := range b {
						b[j] = v
					}
					if err := c.Write(block, Byte(8*rng.Intn(4)), b); err != nil {
						errs <- err
						return
					}
					last[block] = v
					// the write may land in any of four slots; make all
					// four agree
					for slot := Byte(0); slot < 32; slot += 8 {
						if err := c.Write(block, slot, b); err != nil {
							errs <- err
							return
						}
					}
					continue
				}
				if err := c.Read(block, 16, b); err != nil {
					errs <- err
					return
				}
				if want := last[block]; b[0] != want {
					errs <- fmt.Errorf(
						"worker `%d` block `%d`: wanted `%d`; found `%d`",
						w,
						block,
						want,
						b[0],
					)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	seen := make(map[Block]int)
	for i := range c.lines {
		ln := &c.lines[i]
		if !ln.resident {
			continue
		}
		if j, dup := seen[ln.block]; dup {
			t.Fatalf("block `%d` resident in lines `%d` and `%d`", ln.block, j, i)
		}
		seen[ln.block] = i
		if c.lookup[ln.block] != i {
			t.Fatalf("lookup for block `%d` disagrees with line `%d`", ln.block, i)
		}
		if ln.pins != 0 {
			t.Fatalf("line `%d` still held by `%d` callers", i, ln.pins)
		}
	}
	if len(seen) != len(c.lookup) {
		t.Fatalf("wanted `%d` lookup entries; found `%d`", len(seen), len(c.lookup))
	}
}
