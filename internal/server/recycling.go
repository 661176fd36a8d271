package server

import (
	"context"

	"dicomcore/internal/index"
	"dicomcore/pkg/domain"
)

// recycle evicts patients from the head of the recycling queue until the
// configured limits leave room for incoming bytes. keepPatient (-1 = none)
// is never chosen as a victim while another unprotected patient exists.
func (s *ServerIndex) recycle(tx *index.Transaction, incoming uint64, keepPatient int64) error {
	if s.maxStorageSize == 0 && s.maxPatientCount == 0 {
		return nil
	}
	for {
		ok, err := s.withinLimits(tx, incoming)
		if err != nil || ok {
			return err
		}

		var victim int64
		var found bool
		if keepPatient >= 0 {
			victim, found, err = tx.SelectPatientToRecycleAvoid(keepPatient)
		} else {
			victim, found, err = tx.SelectPatientToRecycle()
		}
		if err != nil {
			return err
		}
		if !found {
			return domain.NewError(domain.ErrFullStorage,
				"no recyclable patient left to make room")
		}

		publicID, err := tx.GetPublicID(victim)
		if err != nil {
			return err
		}
		s.log.Info().Str("patient", publicID).Msg("recycling patient")
		if err := tx.DeleteResource(victim); err != nil {
			return err
		}
		s.metrics.observeRecycled()
	}
}

func (s *ServerIndex) withinLimits(tx *index.Transaction, incoming uint64) (bool, error) {
	if s.maxStorageSize != 0 {
		total, err := tx.GetTotalCompressedSize()
		if err != nil {
			return false, err
		}
		if total+incoming > s.maxStorageSize {
			return false, nil
		}
	}
	if s.maxPatientCount != 0 {
		count, err := tx.GetResourceCount(domain.ResourceTypePatient)
		if err != nil {
			return false, err
		}
		if count > s.maxPatientCount {
			return false, nil
		}
	}
	return true, nil
}

// StandaloneRecycling runs one eviction pass against the current limits,
// outside of any ingest.
func (s *ServerIndex) StandaloneRecycling(ctx context.Context) error {
	return s.writeTransaction(ctx, func(tx *index.Transaction, tc *txnContext) error {
		return s.recycle(tx, 0, -1)
	})
}

// SetMaximumStorageSize installs a new storage bound and immediately evicts
// down to it. 0 removes the bound.
func (s *ServerIndex) SetMaximumStorageSize(ctx context.Context, size uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxStorageSize = size
	return s.writeTransactionLocked(ctx, func(tx *index.Transaction, tc *txnContext) error {
		return s.recycle(tx, 0, -1)
	})
}

// SetMaximumPatientCount installs a new patient bound and immediately evicts
// down to it. 0 removes the bound.
func (s *ServerIndex) SetMaximumPatientCount(ctx context.Context, count uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxPatientCount = count
	return s.writeTransactionLocked(ctx, func(tx *index.Transaction, tc *txnContext) error {
		return s.recycle(tx, 0, -1)
	})
}
