package main

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/pixelquota/internal/config"
	"github.com/kailas-cloud/pixelquota/internal/db"
	dbFile "github.com/kailas-cloud/pixelquota/internal/db/file"
	dbMemory "github.com/kailas-cloud/pixelquota/internal/db/memory"
	dbRedis "github.com/kailas-cloud/pixelquota/internal/db/redis"
)

// openStorage creates the byte storage selected by storage.driver and waits
// until it answers.
func openStorage(ctx context.Context, cfg config.StorageConfig) (db.Store, error) {
	var (
		store db.Store
		err   error
	)
	switch cfg.Driver {
	case db.DriverFile:
		store, err = dbFile.NewStore(cfg.Dir)
	case db.DriverMemory:
		store = dbMemory.NewStore()
	case db.DriverRedis, db.DriverValkey:
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Addrs,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s storage: %w", cfg.Driver, err)
	}

	if err := store.WaitForReady(ctx, time.Duration(cfg.ReadinessTimeout)*time.Second); err != nil {
		store.Close()
		return nil, fmt.Errorf("%s storage not ready: %w", cfg.Driver, err)
	}
	return store, nil
}
