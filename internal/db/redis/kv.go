package redis

import (
	"context"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/pixelquota/internal/db"
)

// ReadBytes retrieves the blob stored at key.
func (s *Store) ReadBytes(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, db.ErrInvalidKey
	}
	cmd := s.b().Get().Key(key).Build()
	data, err := s.do(ctx, cmd).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, db.ErrKeyNotFound
		}
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	return data, nil
}

// WriteBytes replaces the blob stored at key. SET is atomic, so readers see
// either the old or the new snapshot.
func (s *Store) WriteBytes(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return db.ErrInvalidKey
	}
	cmd := s.b().Set().Key(key).Value(rueidis.BinaryString(data)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}
