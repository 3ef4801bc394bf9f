package objectstore

import (
	"fmt"
	"io"
)

type ObjectStore interface {
	PutObject(bucket, key string, data io.ReadSeeker) error
	GetObject(bucket, key string) (io.ReadCloser, error)
	ListObjects(bucket, prefix string) ([]string, error)
	DeleteObject(bucket, key string) error

	// DeletePrefix deletes every object whose key starts with `prefix` and
	// returns how many were deleted.
	DeletePrefix(bucket, prefix string) (int, error)
}

type ObjectNotFoundErr struct {
	Bucket string
	Key    string
}

func (err *ObjectNotFoundErr) Error() string {
	return fmt.Sprintf(
		"object not found: bucket `%s`, key `%s`",
		err.Bucket,
		err.Key,
	)
}
