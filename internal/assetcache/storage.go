// Package assetcache implements a cache-first asset gateway: a worker
// pre-populates a generation-tagged bucket, serves cached responses before
// touching the network, and substitutes offline fallbacks when the origin
// cannot be reached.
package assetcache

import "context"

// Entry is one URL and the response to store for it.
type Entry struct {
	URL      string
	Response *Response
}

// Bucket is one named cache.
type Bucket interface {
	Name() string
	Match(ctx context.Context, url string) (*Response, bool, error)
	Put(ctx context.Context, url string, resp *Response) error
	// PutAll stores every entry or none of them.
	PutAll(ctx context.Context, entries []Entry) error
}

// Storage holds every bucket known to the gateway.
type Storage interface {
	// Open returns the named bucket, creating it when missing.
	Open(ctx context.Context, name string) (Bucket, error)
	// Keys lists bucket names in creation order.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes a bucket and its entries, reporting whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Match looks url up in every bucket, oldest first.
	Match(ctx context.Context, url string) (*Response, bool, error)
}
