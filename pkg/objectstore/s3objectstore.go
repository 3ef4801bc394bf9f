package objectstore

import (
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

type S3ObjectStore struct {
	Client s3iface.S3API
}

func (os *S3ObjectStore) PutObject(bucket, key string, data io.ReadSeeker) error {
	if _, err := os.Client.PutObject(&s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   data,
	}); err != nil {
		return fmt.Errorf(
			"putting object in bucket `%s` at key `%s`: %w",
			bucket,
			key,
			err,
		)
	}
	return nil
}

func (os *S3ObjectStore) GetObject(bucket, key string) (io.ReadCloser, error) {
	rsp, err := os.Client.GetObject(&s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		if err, ok := err.(awserr.Error); ok {
			if err.Code() == s3.ErrCodeNoSuchKey {
				return nil, &ObjectNotFoundErr{Bucket: bucket, Key: key}
			}
		}
		return nil, fmt.Errorf(
			"getting object from bucket `%s` at key `%s`: %w",
			bucket,
			key,
			err,
		)
	}
	return rsp.Body, nil
}

func (os *S3ObjectStore) ListObjects(bucket, prefix string) ([]string, error) {
	var keys []string
	if err := os.Client.ListObjectsV2Pages(
		&s3.ListObjectsV2Input{Bucket: &bucket, Prefix: &prefix},
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, object := range page.Contents {
				keys = append(keys, *object.Key)
			}
			return true
		},
	); err != nil {
		return keys, fmt.Errorf(
			"listing objects in bucket `%s` with prefix `%s`: %w",
			bucket,
			prefix,
			err,
		)
	}
	return keys, nil
}

// DeletePrefix deletes a listing page at a time. A page holds at most 1000
// keys, which is also the most a single DeleteObjects call accepts.
func (os *S3ObjectStore) DeletePrefix(bucket, prefix string) (int, error) {
	var deleted int
	var deleteErr error
	if err := os.Client.ListObjectsV2Pages(
		&s3.ListObjectsV2Input{Bucket: &bucket, Prefix: &prefix},
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			if len(page.Contents) < 1 {
				return true
			}
			ids := make([]*s3.ObjectIdentifier, len(page.Contents))
			for i, object := range page.Contents {
				ids[i] = &s3.ObjectIdentifier{Key: object.Key}
			}
			rsp, err := os.Client.DeleteObjects(&s3.DeleteObjectsInput{
				Bucket: &bucket,
				Delete: &s3.Delete{Objects: ids, Quiet: aws.Bool(true)},
			})
			if err != nil {
				deleteErr = err
				return false
			}
			if len(rsp.Errors) > 0 {
				failed := rsp.Errors[0]
				deleteErr = fmt.Errorf(
					"deleting key `%s`: %s: %s",
					aws.StringValue(failed.Key),
					aws.StringValue(failed.Code),
					aws.StringValue(failed.Message),
				)
				deleted += len(ids) - len(rsp.Errors)
				return false
			}
			deleted += len(ids)
			return true
		},
	); err != nil && deleteErr == nil {
		deleteErr = err
	}
	if deleteErr != nil {
		return deleted, fmt.Errorf(
			"deleting objects in bucket `%s` with prefix `%s`: %w",
			bucket,
			prefix,
			deleteErr,
		)
	}
	return deleted, nil
}

func (os *S3ObjectStore) DeleteObject(bucket, key string) error {
	if _, err := os.Client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}); err != nil {
		return fmt.Errorf(
			"deleting object from bucket `%s` at key `%s`: %w",
			bucket,
			key,
			err,
		)
	}
	return nil
}

var _ ObjectStore = (*S3ObjectStore)(nil)
