package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/photojournal/service/internal/storage"
)

var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photojournal_sweep_runs_total",
		Help: "Completed stale-object sweeps.",
	})

	sweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photojournal_sweep_deleted_total",
		Help: "Uncommitted objects removed by the sweeper.",
	})

	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "photojournal_sweep_duration_seconds",
		Help:    "Duration of one sweep in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// ObjectStore is the part of storage.Storage the sweeper uses.
type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// KeyReferences reports whether a record points at a key.
type KeyReferences interface {
	KeyExists(ctx context.Context, key string) (bool, error)
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned int
	Deleted int
	Errors  int
}

// Sweeper deletes objects under a prefix that are older than minAge and
// referenced by no record: uploads whose session was abandoned without a
// commit or discard.
type Sweeper struct {
	store    ObjectStore
	refs     KeyReferences
	prefix   string
	interval time.Duration
	minAge   time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu         sync.Mutex
	inProgress bool
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewSweeper creates a Sweeper for objects under folder.
func NewSweeper(store ObjectStore, refs KeyReferences, folder string, interval, minAge time.Duration) *Sweeper {
	prefix := folder
	if prefix != "" {
		prefix += "/"
	}
	return &Sweeper{
		store:    store,
		refs:     refs,
		prefix:   prefix,
		interval: interval,
		minAge:   minAge,
		now:      time.Now,
		logger:   log.With().Str("component", "sweeper").Logger(),
	}
}

// Start runs RunOnce every interval until ctx is done or Stop is called.
// Calling Start on a running sweeper does nothing.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, s.done)

	s.logger.Info().
		Str("prefix", s.prefix).
		Dur("interval", s.interval).
		Dur("min_age", s.minAge).
		Msg("sweeper started")
}

// Stop halts the loop and waits for an in-flight sweep to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info().Msg("sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep. If a sweep is already running it returns
// immediately with skipped set.
func (s *Sweeper) RunOnce(ctx context.Context) (result SweepResult, skipped bool) {
	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		s.logger.Warn().Msg("sweep already running, skipping")
		return SweepResult{}, true
	}
	s.inProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inProgress = false
		s.mu.Unlock()
	}()

	startedAt := time.Now()
	objects, err := s.store.List(ctx, s.prefix)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweep: list objects failed")
		result.Errors++
		return result, false
	}

	cutoff := s.now().Add(-s.minAge)
	for _, obj := range objects {
		if ctx.Err() != nil {
			break
		}
		result.Scanned++
		if obj.LastModified.After(cutoff) {
			continue
		}

		referenced, err := s.refs.KeyExists(ctx, obj.Key)
		if err != nil {
			s.logger.Error().Err(err).Str("key", obj.Key).Msg("sweep: reference lookup failed")
			result.Errors++
			continue
		}
		if referenced {
			continue
		}

		if err := s.store.Delete(ctx, obj.Key); err != nil {
			s.logger.Error().Err(err).Str("key", obj.Key).Msg("sweep: delete failed")
			result.Errors++
			continue
		}
		result.Deleted++
		sweepDeletedTotal.Inc()
		s.logger.Debug().Str("key", obj.Key).Time("last_modified", obj.LastModified).Msg("sweep: deleted stale object")
	}

	sweepRunsTotal.Inc()
	sweepDurationSeconds.Observe(time.Since(startedAt).Seconds())
	s.logger.Info().
		Int("scanned", result.Scanned).
		Int("deleted", result.Deleted).
		Int("errors", result.Errors).
		Dur("duration", time.Since(startedAt)).
		Msg("sweep complete")
	return result, false
}
