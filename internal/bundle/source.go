// Package bundle installs the viewer distribution into a staging root. The
// archive is fetched by name from a Source and extracted with its internal
// layout preserved.
package bundle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/mrsinham/dicomiso/internal/failure"
)

// DefaultArchive is the name of the viewer distribution archive.
const DefaultArchive = "weasis-distributions.zip"

// Archive is an opened archive.
type Archive interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Source fetches archives by name. A missing archive is reported as a
// ResourceMissing failure.
type Source interface {
	Open(ctx context.Context, name string) (Archive, error)
	String() string
}

// DirSource reads archives from a local resource directory.
type DirSource struct {
	Dir string
}

type fileArchive struct {
	*os.File
	size int64
}

func (a fileArchive) Size() int64 { return a.size }

func (s DirSource) Open(ctx context.Context, name string) (Archive, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := filepath.Join(s.Dir, name)
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, failure.New(failure.KindResourceMissing, "open", p, err)
	}
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return fileArchive{File: f, size: info.Size()}, nil
}

func (s DirSource) String() string {
	return s.Dir
}

// S3Source reads archives from a bucket, below an optional key prefix.
type S3Source struct {
	api    s3iface.S3API
	bucket string
	prefix string
}

func NewS3Source(api s3iface.S3API, bucket, prefix string) *S3Source {
	return &S3Source{api: api, bucket: bucket, prefix: prefix}
}

// NewS3Client returns an S3 client for region using the default credential
// chain.
func NewS3Client(region string) (s3iface.S3API, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("create AWS session: %w", err)
	}
	return s3.New(sess), nil
}

type memArchive struct {
	*bytes.Reader
}

func (memArchive) Close() error { return nil }

func (s *S3Source) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Open downloads the whole object; zip extraction needs random access.
func (s *S3Source) Open(ctx context.Context, name string) (Archive, error) {
	key := s.key(name)
	out, err := s.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, failure.New(failure.KindResourceMissing, "get object", s.String()+"/"+name, err)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", s.bucket, key, err)
	}
	return memArchive{Reader: bytes.NewReader(data)}, nil
}

func (s *S3Source) String() string {
	if s.prefix == "" {
		return "s3://" + s.bucket
	}
	return "s3://" + s.bucket + "/" + s.prefix
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return true
		}
	}
	return false
}
