package db

import (
	"context"
	"time"
)

// Store is the durable byte storage facade used by the usage store.
type Store interface {
	Pinger
	ByteStorage
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks storage availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ByteStorage holds opaque blobs under fixed keys.
// ReadBytes returns ErrKeyNotFound when nothing is stored under key.
type ByteStorage interface {
	ReadBytes(ctx context.Context, key string) ([]byte, error)
	WriteBytes(ctx context.Context, key string, data []byte) error
}

// Driver names accepted by configuration.
const (
	DriverFile   = "file"
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverValkey = "valkey"
)
