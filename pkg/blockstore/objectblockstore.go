package blockstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"

	"github.com/weberc2/blockfs/pkg/objectstore"
	. "github.com/weberc2/blockfs/pkg/types"
	"golang.org/x/crypto/blake2b"
)

const (
	ChecksumMismatchErr ConstError = "block checksum mismatch"
)

// ObjectBlockStore stores each block as its own object. Objects carry the
// BLAKE2b-256 digest of the block ahead of the block itself and the digest
// is verified on every load.
type ObjectBlockStore struct {
	Objects objectstore.ObjectStore
	Bucket  string
	Prefix  string
}

func (store *ObjectBlockStore) key(block Block) string {
	return fmt.Sprintf("%s/blocks/%08x", store.Prefix, uint32(block))
}

func (store *ObjectBlockStore) ReadBlock(block Block, p *[BlockSize]byte) error {
	key := store.key(block)
	body, err := store.Objects.GetObject(store.Bucket, key)
	if err != nil {
		var notFound *objectstore.ObjectNotFoundErr
		if errors.As(err, &notFound) {
			*p = [BlockSize]byte{}
			return nil
		}
		return fmt.Errorf("reading block `%d`: %w", block, err)
	}
	defer body.Close()

	data, err := ioutil.ReadAll(io.LimitReader(body, int64(objectSize+1)))
	if err != nil {
		return fmt.Errorf("reading block `%d`: %w", block, err)
	}
	if len(data) != objectSize {
		return fmt.Errorf(
			"reading block `%d`: object `%s` has `%d` bytes; wanted `%d`: %w",
			block,
			key,
			len(data),
			objectSize,
			ChecksumMismatchErr,
		)
	}

	sum := blake2b.Sum256(data[blake2b.Size256:])
	if !bytes.Equal(sum[:], data[:blake2b.Size256]) {
		return fmt.Errorf(
			"reading block `%d` from object `%s`: %w",
			block,
			key,
			ChecksumMismatchErr,
		)
	}
	copy(p[:], data[blake2b.Size256:])
	return nil
}

func (store *ObjectBlockStore) WriteBlock(block Block, p *[BlockSize]byte) error {
	sum := blake2b.Sum256(p[:])
	data := make([]byte, 0, objectSize)
	data = append(data, sum[:]...)
	data = append(data, p[:]...)
	if err := store.Objects.PutObject(
		store.Bucket,
		store.key(block),
		bytes.NewReader(data),
	); err != nil {
		return fmt.Errorf("writing block `%d`: %w", block, err)
	}
	return nil
}

// Destroy deletes every block object under the store's prefix.
func (store *ObjectBlockStore) Destroy() error {
	deleted, err := store.Objects.DeletePrefix(store.Bucket, store.Prefix+"/blocks/")
	if err != nil {
		return fmt.Errorf(
			"destroying volume `%s` after `%d` blocks: %w",
			store.Prefix,
			deleted,
			err,
		)
	}
	log.Printf(
		"INFO destroyed volume `%s`: deleted `%d` block objects",
		store.Prefix,
		deleted,
	)
	return nil
}

const objectSize = blake2b.Size256 + int(BlockSize)

var _ BlockStore = (*ObjectBlockStore)(nil)
