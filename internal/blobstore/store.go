// Package blobstore is the key/value object store that holds task records,
// credentials, audit records, and media.
//
// The store is eventually consistent: a key written a moment ago may not
// appear in a listing yet. There is no compare-and-swap beyond an optional
// ETag precondition on Put, which S3 supports via If-Match and which the
// scheduler uses to turn concurrent writers into detectable conflicts.
package blobstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get and Delete when the key does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrPreconditionFailed is returned by Put when an IfMatch ETag no longer
	// matches the stored object.
	ErrPreconditionFailed = errors.New("precondition failed")
)

// Object is the content of one stored blob plus its version token.
type Object struct {
	Data []byte
	ETag string
}

// Store is the object store contract consumed by the scheduler.
type Store interface {
	// List returns every key under prefix in store order, reading pageSize
	// keys per request. pageSize <= 0 uses the backend maximum.
	List(ctx context.Context, prefix string, pageSize int) ([]string, error)

	// Get returns the object at key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Object, error)

	// Put overwrites the object at key.
	Put(ctx context.Context, key string, data []byte, opts ...PutOption) error

	// Delete removes the object at key, or returns ErrNotFound.
	Delete(ctx context.Context, key string) error
}

// Presigner generates short-lived GET URLs for stored objects.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// PutOptions collects optional Put parameters.
type PutOptions struct {
	IfMatch     string
	ContentType string
}

// PutOption configures a Put.
type PutOption func(*PutOptions)

// IfMatch makes the Put conditional on the stored object's ETag.
// An empty etag leaves the Put unconditional.
func IfMatch(etag string) PutOption {
	return func(o *PutOptions) { o.IfMatch = etag }
}

// ContentType sets the object's content type.
func ContentType(ct string) PutOption {
	return func(o *PutOptions) { o.ContentType = ct }
}

func applyPutOptions(opts []PutOption) PutOptions {
	var o PutOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
