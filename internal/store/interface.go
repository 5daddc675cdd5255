package store

import (
	"context"
	"time"
)

// Entry is the unit persisted by a Store. Exactly one of Pages and
// CompressedPayload is authoritative, selected by Compressed.
type Entry struct {
	Key               string    `json:"key"`
	Pages             []byte    `json:"pages,omitempty"`
	CompressedPayload []byte    `json:"compressedPayload,omitempty"`
	Compressed        bool      `json:"compressed"`
	SessionID         string    `json:"sessionId"`
	Timestamp         time.Time `json:"timestamp"`
	SizeBytes         int64     `json:"sizeBytes"`
}

// Meta is the bookkeeping part of an Entry, returned by scans
type Meta struct {
	Key       string
	SessionID string
	Timestamp time.Time
	SizeBytes int64
}

type Store interface {
	Put(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, key string) (*Entry, error) // ErrNotFound on miss
	Exists(ctx context.Context, key string) (bool, error) // never loads the payload
	Delete(ctx context.Context, key string) error
	Count(ctx context.Context) (int, error)
	ScanByTimestamp(ctx context.Context) ([]Meta, error) // oldest first
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error // ErrUnavailable when the backend can't be used
	Close() error
}

func metaOf(e *Entry) Meta {
	return Meta{
		Key:       e.Key,
		SessionID: e.SessionID,
		Timestamp: e.Timestamp,
		SizeBytes: e.SizeBytes,
	}
}
