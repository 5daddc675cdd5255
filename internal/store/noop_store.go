package store

import "context"

// NoopStore backs a degraded persistent tier: it holds nothing and reports
// itself unavailable.
type NoopStore struct{}

func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

func (s *NoopStore) Put(ctx context.Context, entry *Entry) error {
	return nil
}

func (s *NoopStore) Get(ctx context.Context, key string) (*Entry, error) {
	return nil, ErrNotFound
}

func (s *NoopStore) Exists(ctx context.Context, key string) (bool, error) {
	return false, nil
}

func (s *NoopStore) Delete(ctx context.Context, key string) error {
	return nil
}

func (s *NoopStore) Count(ctx context.Context) (int, error) {
	return 0, nil
}

func (s *NoopStore) ScanByTimestamp(ctx context.Context) ([]Meta, error) {
	return nil, nil
}

func (s *NoopStore) Clear(ctx context.Context) error {
	return nil
}

func (s *NoopStore) Ping(ctx context.Context) error {
	return ErrUnavailable
}

func (s *NoopStore) Close() error {
	return nil
}
