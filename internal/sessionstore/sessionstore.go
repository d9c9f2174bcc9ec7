// Package sessionstore is the key-value port carts are mirrored to. Values are
// opaque blobs; lifetime is the adapter's concern (a session TTL for redis and
// postgres, the process for memory).
package sessionstore

import "context"

type Store interface {
	// Get reports false when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

type Noop struct{}

func (Noop) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (Noop) Set(_ context.Context, _ string, _ []byte) error {
	return nil
}

func (Noop) Delete(_ context.Context, _ string) error {
	return nil
}

func (Noop) DeletePrefix(_ context.Context, _ string) error {
	return nil
}
