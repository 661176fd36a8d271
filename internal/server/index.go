// Package server exposes the single process-wide façade over the index
// database and the storage accessor. Every public operation acquires one
// mutex and runs exactly one database transaction, which keeps the whole
// store serializable; listener signals collected during a transaction are
// dispatched only after a successful commit.
package server

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dicomcore/internal/index"
	"dicomcore/internal/storage"
	"dicomcore/pkg/domain"
)

// ChangeObserver receives every change produced by a committed transaction,
// in emission order. Observers run under the index mutex and must not call
// back into the ServerIndex.
type ChangeObserver func(domain.Change)

// ServerIndex ties the relational index and the storage accessor together.
type ServerIndex struct {
	mu       sync.Mutex
	db       *index.Database
	accessor *storage.Accessor
	log      zerolog.Logger
	metrics  *Metrics

	maxStorageSize  uint64
	maxPatientCount uint64
	overwrite       bool
	compression     domain.CompressionType
	storeMD5        bool

	observers []ChangeObserver

	monitor *stabilityMonitor
	flush   chan struct{}
	wg      sync.WaitGroup
}

// NewServerIndex builds the façade and starts its background workers. A
// recycling pass runs immediately so that preconfigured limits apply to
// whatever the database already holds.
func NewServerIndex(db *index.Database, accessor *storage.Accessor, cfg Config,
	log zerolog.Logger, metrics *Metrics) (*ServerIndex, error) {
	cfg.applyDefaults()

	s := &ServerIndex{
		db:              db,
		accessor:        accessor,
		log:             log,
		metrics:         metrics,
		maxStorageSize:  cfg.MaximumStorageSize,
		maxPatientCount: cfg.MaximumPatientCount,
		overwrite:       cfg.OverwriteInstances,
		compression:     cfg.Compression,
		storeMD5:        cfg.StoreMD5,
	}

	if err := s.StandaloneRecycling(context.Background()); err != nil {
		return nil, err
	}

	s.monitor = newStabilityMonitor(cfg.StableAge, cfg.StabilityInterval, s.promoteStable)
	s.monitor.start()

	if interval := s.flushInterval(context.Background(), cfg.FlushInterval); interval > 0 {
		s.flush = make(chan struct{})
		s.wg.Add(1)
		go s.flushLoop(interval)
	}
	return s, nil
}

// flushInterval resolves the period of the flush loop. The FlushSleep global
// property, in seconds, overrides the configured default when present; zero
// disables the loop.
func (s *ServerIndex) flushInterval(ctx context.Context, fallback time.Duration) time.Duration {
	var value string
	var found bool
	err := s.readTransaction(ctx, func(tx *index.Transaction) error {
		var err error
		value, found, err = tx.LookupGlobalProperty(index.GlobalPropertyFlushSleep)
		return err
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("could not read flush sleep property")
		return fallback
	}
	if !found {
		return fallback
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds < 0 {
		s.log.Warn().Str("value", value).Msg("ignoring malformed flush sleep property")
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// AddObserver registers a listener for committed changes.
func (s *ServerIndex) AddObserver(observer ChangeObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, observer)
}

// Close joins the background workers. The database and the storage area stay
// open; the caller owns them.
func (s *ServerIndex) Close() {
	s.monitor.stop()
	if s.flush != nil {
		close(s.flush)
	}
	s.wg.Wait()
}

func (s *ServerIndex) flushLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.flush:
			return
		case <-ticker.C:
			if err := s.db.FlushToDisk(context.Background()); err != nil {
				s.log.Warn().Err(err).Msg("periodic index flush failed")
			}
		}
	}
}

func nowString() string {
	return time.Now().UTC().Format("20060102T150405")
}

// txnContext buffers the listener signals of one write transaction. Nothing
// leaves the buffer before commit; a rollback discards it wholesale.
type txnContext struct {
	s             *ServerIndex
	now           string
	changes       []domain.Change
	filesToRemove []domain.FileInfo

	hasRemaining   bool
	remainingLevel domain.ResourceType
	remainingID    string
}

func (c *txnContext) SignalResourceDeleted(level domain.ResourceType, publicID string) {
	c.changes = append(c.changes, domain.Change{
		Type:         domain.ChangeTypeDeleted,
		ResourceType: level,
		PublicID:     publicID,
		Date:         c.now,
	})
}

func (c *txnContext) SignalAttachmentDeleted(info domain.FileInfo) {
	c.filesToRemove = append(c.filesToRemove, info)
}

func (c *txnContext) SignalRemainingAncestor(level domain.ResourceType, publicID string) {
	c.hasRemaining = true
	c.remainingLevel = level
	c.remainingID = publicID
}

// logChange persists loggable change kinds and buffers every kind for the
// observers.
func (c *txnContext) logChange(tx *index.Transaction, kind domain.ChangeType,
	level domain.ResourceType, internalID int64, publicID string) error {
	if kind.IsLogged() {
		if err := tx.LogChange(internalID, kind, level, publicID, c.now); err != nil {
			return err
		}
	}
	c.changes = append(c.changes, domain.Change{
		Type:         kind,
		ResourceType: level,
		PublicID:     publicID,
		Date:         c.now,
	})
	return nil
}

// afterCommit removes orphaned blobs and dispatches the buffered changes.
// Storage failures are logged and swallowed: the index committed, so a
// leftover blob is preferable to an inconsistency.
func (c *txnContext) afterCommit(ctx context.Context) {
	for _, info := range c.filesToRemove {
		if err := c.s.accessor.Remove(ctx, info.UUID, info.ContentType); err != nil {
			c.s.log.Warn().Err(err).Str("uuid", info.UUID).
				Msg("could not remove attachment from storage")
		}
	}
	for _, change := range c.changes {
		for _, observer := range c.s.observers {
			observer(change)
		}
	}
}

func (s *ServerIndex) writeTransaction(ctx context.Context,
	run func(tx *index.Transaction, tc *txnContext) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeTransactionLocked(ctx, run)
}

func (s *ServerIndex) writeTransactionLocked(ctx context.Context,
	run func(tx *index.Transaction, tc *txnContext) error) error {
	tc := &txnContext{s: s, now: nowString()}
	tx, err := s.db.Begin(ctx, false, tc)
	if err != nil {
		return err
	}
	if err := run(tx, tc); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	tc.afterCommit(ctx)
	return nil
}

func (s *ServerIndex) readTransaction(ctx context.Context,
	run func(tx *index.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin(ctx, true, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return run(tx)
}
