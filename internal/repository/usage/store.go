// Package usage is the local embedded store of daily usage records.
//
// The live database is an in-memory SQLite database. Snapshots of it travel
// to and from durable byte storage as a plain SQLite file image under a
// fixed key.
package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/kailas-cloud/pixelquota/internal/db"
	"github.com/kailas-cloud/pixelquota/internal/domain"
	domusage "github.com/kailas-cloud/pixelquota/internal/domain/usage"
)

// DefaultKey is the storage key the snapshot lives under.
const DefaultKey = "pixelArtGeneratorDb"

// storage is the consumer interface for snapshot persistence (ISP).
type storage interface {
	ReadBytes(ctx context.Context, key string) ([]byte, error)
	WriteBytes(ctx context.Context, key string, data []byte) error
}

var errSnapshotTooNew = errors.New("snapshot schema is newer than supported")

// Store holds usage records in an in-memory SQLite database.
type Store struct {
	db      *sql.DB
	storage storage
	key     string
	logger  *zap.Logger
}

// Open builds the live database and loads the previous snapshot, if any.
// A missing snapshot yields a fresh database that is persisted right away.
// A corrupt snapshot is logged and replaced by a fresh database.
// Errors are *domain.StoreInitError.
func Open(ctx context.Context, s storage, key string, logger *zap.Logger) (*Store, error) {
	if key == "" {
		key = DefaultKey
	}

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, &domain.StoreInitError{Err: fmt.Errorf("open sqlite: %w", err)}
	}
	// Every connection to ":memory:" is a separate database; pin exactly one.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, &domain.StoreInitError{Err: fmt.Errorf("load sqlite engine: %w", err)}
	}
	if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
		_ = sqlDB.Close()
		return nil, &domain.StoreInitError{Err: fmt.Errorf("run migrations: %w", err)}
	}
	if _, err := sqlDB.ExecContext(ctx, stampVersionSQL, metaSchemaVersion, strconv.Itoa(SchemaVersion)); err != nil {
		_ = sqlDB.Close()
		return nil, &domain.StoreInitError{Err: fmt.Errorf("stamp schema version: %w", err)}
	}

	st := &Store{db: sqlDB, storage: s, key: key, logger: logger}

	data, err := s.ReadBytes(ctx, key)
	switch {
	case errors.Is(err, db.ErrKeyNotFound) || (err == nil && len(data) == 0):
		logger.Info("No usage snapshot found, creating a new database", zap.String("key", key))
		if err := st.Persist(ctx); err != nil {
			logger.Warn("Failed to save new usage database", zap.String("key", key), zap.Error(err))
		}
		return st, nil
	case err != nil:
		_ = sqlDB.Close()
		return nil, &domain.StoreInitError{Err: fmt.Errorf("read snapshot %s: %w", key, err)}
	}

	if err := st.load(ctx, data); err != nil {
		if errors.Is(err, errSnapshotTooNew) {
			_ = sqlDB.Close()
			return nil, &domain.StoreInitError{Err: err}
		}
		logger.Warn("Failed to load usage snapshot, starting with an empty database",
			zap.String("key", key), zap.Int("snapshot_bytes", len(data)), zap.Error(err))
		return st, nil
	}

	logger.Info("Usage snapshot loaded", zap.String("key", key), zap.Int("snapshot_bytes", len(data)))
	return st, nil
}

// load copies the rows of a snapshot into the live database.
func (s *Store) load(ctx context.Context, data []byte) error {
	dir, err := os.MkdirTemp("", "pixelquota-load-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir) //nolint:errcheck // best-effort cleanup

	path := filepath.Join(dir, "snapshot.db")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot file: %w", err)
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `ATTACH DATABASE ? AS snap`, path); err != nil {
		return fmt.Errorf("attach snapshot: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `DETACH DATABASE snap`)
	}()

	version, err := snapshotVersion(ctx, conn)
	if err != nil {
		return err
	}
	if version > SchemaVersion {
		return fmt.Errorf("%w: version %d, supported %d", errSnapshotTooNew, version, SchemaVersion)
	}

	var hasUsage int
	if err := conn.QueryRowContext(ctx, snapTableExistsSQL, "user_image_usage").Scan(&hasUsage); err != nil {
		return fmt.Errorf("inspect snapshot: %w", err)
	}
	if hasUsage == 0 {
		return nil
	}

	res, err := conn.ExecContext(ctx, copySnapshotSQL)
	if err != nil {
		return fmt.Errorf("copy snapshot rows: %w", err)
	}
	rows, _ := res.RowsAffected()
	if version < SchemaVersion {
		s.logger.Info("Migrated usage snapshot",
			zap.Int("from_version", version),
			zap.Int("to_version", SchemaVersion),
			zap.Int64("records", rows),
		)
	}
	return nil
}

// snapshotVersion reads the schema version of the attached snapshot.
// Snapshots without schema_meta are version 0.
func snapshotVersion(ctx context.Context, conn *sql.Conn) (int, error) {
	var hasMeta int
	if err := conn.QueryRowContext(ctx, snapTableExistsSQL, "schema_meta").Scan(&hasMeta); err != nil {
		return 0, fmt.Errorf("inspect snapshot: %w", err)
	}
	if hasMeta == 0 {
		return 0, nil
	}

	var raw string
	err := conn.QueryRowContext(ctx, snapVersionSQL, metaSchemaVersion).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read snapshot version: %w", err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse snapshot version %q: %w", raw, err)
	}
	return v, nil
}

// Get returns the record for email, or domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, email string) (domusage.Record, error) {
	var (
		rec  domusage.Record
		date sql.NullString
	)
	err := s.db.QueryRowContext(ctx, selectRecordSQL, email).
		Scan(&rec.Email, &date, &rec.ImagesGeneratedToday)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domusage.Record{}, domain.ErrNotFound
		}
		return domusage.Record{}, fmt.Errorf("get usage %s: %w", email, err)
	}
	rec.LastGenerationDate = date.String
	return rec, nil
}

// Create inserts an empty record for email unless one exists.
// Reports whether a row was inserted.
func (s *Store) Create(ctx context.Context, email string) (bool, error) {
	res, err := s.db.ExecContext(ctx, createRecordSQL, email)
	if err != nil {
		return false, fmt.Errorf("create usage %s: %w", email, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create usage %s: %w", email, err)
	}
	return n > 0, nil
}

// Upsert writes rec with insert-or-replace semantics in a single statement.
func (s *Store) Upsert(ctx context.Context, rec domusage.Record) error {
	var date sql.NullString
	if rec.LastGenerationDate != "" {
		date = sql.NullString{String: rec.LastGenerationDate, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, upsertRecordSQL, rec.Email, date, rec.ImagesGeneratedToday); err != nil {
		return fmt.Errorf("upsert usage %s: %w", rec.Email, err)
	}
	return nil
}

// List returns every record ordered by email.
func (s *Store) List(ctx context.Context) ([]domusage.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectAllSQL)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var records []domusage.Record
	for rows.Next() {
		var (
			rec  domusage.Record
			date sql.NullString
		)
		if err := rows.Scan(&rec.Email, &date, &rec.ImagesGeneratedToday); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec.LastGenerationDate = date.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Persist snapshots the live database and writes it to storage.
// On failure the live database is untouched and the error is *domain.PersistError.
func (s *Store) Persist(ctx context.Context) error {
	data, err := s.Export(ctx)
	if err != nil {
		return &domain.PersistError{Err: err}
	}
	if err := s.storage.WriteBytes(ctx, s.key, data); err != nil {
		return &domain.PersistError{Err: fmt.Errorf("write snapshot %s: %w", s.key, err)}
	}
	s.logger.Debug("Usage database saved", zap.String("key", s.key), zap.Int("snapshot_bytes", len(data)))
	return nil
}

// Export serializes the live database into a SQLite file image.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "pixelquota-export-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir) //nolint:errcheck // best-effort cleanup

	path := filepath.Join(dir, "snapshot.db")
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return nil, fmt.Errorf("serialize database: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read serialized database: %w", err)
	}
	return data, nil
}

// Ping checks that the live database answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping usage db: %w", err)
	}
	return nil
}

// Close releases the live database. Unpersisted changes are lost.
func (s *Store) Close() error {
	return s.db.Close()
}
