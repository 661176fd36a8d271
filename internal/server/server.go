package server

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"dicomcore/internal/index"
	"dicomcore/internal/storage"
	"dicomcore/internal/storage/s3"
)

// Store bundles the façade with the components it is built from, so a
// process can open and tear down the whole core in one place.
type Store struct {
	Index    *ServerIndex
	Database *index.Database
	Accessor *storage.Accessor
	Area     storage.Area
}

// OpenFromEnv assembles the store from DICOMCORE_* environment variables:
// the storage area, the read-through cache, the index database and the
// ServerIndex with its background workers.
func OpenFromEnv(ctx context.Context, log zerolog.Logger, reg prometheus.Registerer) (*Store, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}

	area, driver, err := storage.OpenAreaFromEnv(ctx, func(ctx context.Context) (storage.Area, error) {
		return s3.OpenFromEnv(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("open storage area: %w", err)
	}
	log.Info().Str("driver", string(driver)).Msg("storage area ready")

	cacheBytes, err := envUint("DICOMCORE_CACHE_SIZE")
	if err != nil {
		return nil, err
	}
	cache := storage.NewCache(cacheBytes)

	var storageMetrics *storage.Metrics
	var serverMetrics *Metrics
	if reg != nil {
		storageMetrics = storage.NewMetrics(reg)
		serverMetrics = NewMetrics(reg)
	}
	accessor := storage.NewAccessor(area, cache, storageMetrics, log)

	db, err := index.OpenFromEnv(log)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}

	facade, err := NewServerIndex(db, accessor, cfg, log, serverMetrics)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Index: facade, Database: db, Accessor: accessor, Area: area}, nil
}

// Close joins the background workers and closes the database.
func (s *Store) Close() error {
	s.Index.Close()
	return s.Database.Close()
}
