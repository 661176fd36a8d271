package server

import (
	"container/list"
	"context"
	"sync"
	"time"

	"dicomcore/internal/index"
	"dicomcore/pkg/domain"
)

// unstableResource is one patient, study or series awaiting its stability
// window.
type unstableResource struct {
	level    domain.ResourceType
	publicID string
	touched  time.Time
}

// stabilityMonitor tracks resources that recently received child instances
// and promotes them to stable once they stay quiet for stableAge. It holds
// its own lock; the promotion callback is invoked without it, so the
// callback may take the index mutex.
type stabilityMonitor struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = least recently touched

	stableAge time.Duration
	interval  time.Duration
	promote   func(level domain.ResourceType, publicID string)
	clock     func() time.Time

	quit chan struct{}
	done chan struct{}
}

func newStabilityMonitor(stableAge, interval time.Duration,
	promote func(level domain.ResourceType, publicID string)) *stabilityMonitor {
	return &stabilityMonitor{
		entries:   make(map[string]*list.Element),
		order:     list.New(),
		stableAge: stableAge,
		interval:  interval,
		promote:   promote,
		clock:     time.Now,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (m *stabilityMonitor) start() {
	go m.run()
}

// stop joins the worker. Resources still pending are not promoted.
func (m *stabilityMonitor) stop() {
	close(m.quit)
	<-m.done
}

func (m *stabilityMonitor) run() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
			for _, expired := range m.collectExpired() {
				m.promote(expired.level, expired.publicID)
			}
		}
	}
}

// markUnstable records a fresh touch. A resource already pending moves to
// the back of the queue, restarting its window.
func (m *stabilityMonitor) markUnstable(level domain.ResourceType, publicID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.entries[publicID]; ok {
		elem.Value.(*unstableResource).touched = m.clock()
		m.order.MoveToBack(elem)
		return
	}
	m.entries[publicID] = m.order.PushBack(&unstableResource{
		level:    level,
		publicID: publicID,
		touched:  m.clock(),
	})
}

func (m *stabilityMonitor) collectExpired() []*unstableResource {
	m.mu.Lock()
	defer m.mu.Unlock()
	deadline := m.clock().Add(-m.stableAge)
	var expired []*unstableResource
	for {
		front := m.order.Front()
		if front == nil {
			break
		}
		entry := front.Value.(*unstableResource)
		if entry.touched.After(deadline) {
			break
		}
		m.order.Remove(front)
		delete(m.entries, entry.publicID)
		expired = append(expired, entry)
	}
	return expired
}

// promoteStable emits the Stable* change for one quiet resource. Resources
// deleted in the meantime are skipped silently.
func (s *ServerIndex) promoteStable(level domain.ResourceType, publicID string) {
	var kind domain.ChangeType
	switch level {
	case domain.ResourceTypePatient:
		kind = domain.ChangeTypeStablePatient
	case domain.ResourceTypeStudy:
		kind = domain.ChangeTypeStableStudy
	case domain.ResourceTypeSeries:
		kind = domain.ChangeTypeStableSeries
	default:
		return
	}

	err := s.writeTransaction(context.Background(), func(tx *index.Transaction, tc *txnContext) error {
		id, actual, found, err := tx.LookupResource(publicID)
		if err != nil || !found || actual != level {
			return err
		}
		if err := tc.logChange(tx, kind, level, id, publicID); err != nil {
			return err
		}
		s.metrics.observeStabilized()
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("resource", publicID).
			Msg("could not promote resource to stable")
	}
}
