package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned when the object key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// PutOptions describes upload options for object storage.
type PutOptions struct {
	ContentType string
}

type ObjectInfo struct {
	ObjectName  string
	Size        int64
	ContentType string
}

// Store abstracts object storage operations on a single bucket.
type Store interface {
	PutObject(ctx context.Context, object string, reader io.Reader, size int64, opts PutOptions) error
	GetObject(ctx context.Context, object string) (io.ReadCloser, ObjectInfo, error)
	StatObject(ctx context.Context, object string) (ObjectInfo, error)
	RemoveObject(ctx context.Context, object string) error
	PresignedGetObjectWithResponse(ctx context.Context, object string, expiry time.Duration, params map[string]string) (string, error)
}
