// Package storage opens transcript sources and uploads exports.
package storage

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	lferrors "github.com/logflow/bcilog/pkg/errors"
)

// Source is an opened transcript. Size is the number of bytes the Reader
// will yield, or -1 when unknown (stdin, gzip).
type Source struct {
	io.Reader
	Name string
	Size int64

	closers []func() error
}

// Close releases every underlying resource.
func (s *Source) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// Opener resolves source URIs.
type Opener struct {
	s3    *S3Client
	stdin io.Reader
}

// NewOpener creates an Opener. s3 may be nil; a client from the default
// credential chain is then created on first use.
func NewOpener(s3 *S3Client) *Opener {
	return &Opener{s3: s3, stdin: os.Stdin}
}

// Open opens uri with a default Opener.
func Open(ctx context.Context, uri string) (*Source, error) {
	return NewOpener(nil).Open(ctx, uri)
}

// Open accepts "-" for stdin, s3://bucket/key, or a local path. Paths and
// keys ending in .gz are decompressed; a leading ~ is expanded.
func (o *Opener) Open(ctx context.Context, uri string) (*Source, error) {
	if uri == "-" {
		return &Source{Reader: o.stdin, Name: "stdin", Size: -1}, nil
	}

	var (
		src *Source
		err error
	)
	if bucket, key, ok := ParseS3URI(uri); ok {
		src, err = o.openS3(ctx, bucket, key)
	} else {
		src, err = openLocal(ExpandHome(uri))
	}
	if err != nil {
		return nil, err
	}

	if IsGzipFile(src.Name) {
		gz, err := gzip.NewReader(src.Reader)
		if err != nil {
			src.Close()
			return nil, lferrors.ReadFailed(src.Name, 0, err)
		}
		src.Reader = gz
		src.Size = -1
		src.closers = append(src.closers, gz.Close)
	}
	return src, nil
}

func (o *Opener) openS3(ctx context.Context, bucket, key string) (*Source, error) {
	if o.s3 == nil {
		c, err := NewS3Client(ctx, S3Config{})
		if err != nil {
			return nil, lferrors.ReadFailed("s3://"+bucket+"/"+key, 0, err)
		}
		o.s3 = c
	}

	body, size, err := o.s3.Reader(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return &Source{
		Reader:  body,
		Name:    "s3://" + bucket + "/" + key,
		Size:    size,
		closers: []func() error{body.Close},
	}, nil
}

func openLocal(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, lferrors.FileNotFound(path, err)
		case os.IsPermission(err):
			return nil, lferrors.Wrap(err, lferrors.CodeFilePermission, "permission denied").
				WithContext("path", path)
		default:
			return nil, lferrors.ReadFailed(path, 0, err)
		}
	}

	size := int64(-1)
	if fi, err := f.Stat(); err == nil {
		if fi.IsDir() {
			f.Close()
			return nil, lferrors.New(lferrors.CodeReadFailed, "path is a directory, expected file").
				WithContext("path", path)
		}
		size = fi.Size()
	}
	return &Source{Reader: f, Name: path, Size: size, closers: []func() error{f.Close}}, nil
}

// IsGzipFile returns true if the path indicates gzip compression.
func IsGzipFile(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// StripCompression removes a trailing .gz from path.
func StripCompression(path string) string {
	if IsGzipFile(path) {
		return path[:len(path)-3]
	}
	return path
}

// BaseName returns the file name of path without compression suffix and
// extension: "logs/run1.txt.gz" -> "run1".
func BaseName(path string) string {
	if _, key, ok := ParseS3URI(path); ok {
		path = key
	}
	name := filepath.Base(StripCompression(path))
	if ext := filepath.Ext(name); ext != "" && ext != name {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
