// Package sampler implements the hardware sampler: the statistical
// co-observer that supplements fault-based access data with sampled
// load/store events (spec.md §4.3). It is platform-specific; on a
// platform without a sampling facility it reports itself inactive rather
// than failing initialization, per spec.md §7's "environment unavailable,
// non-fatal for sampler".
package sampler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jihwankim/tierd/pkg/clock"
	"github.com/jihwankim/tierd/pkg/pagestats"
	"github.com/jihwankim/tierd/pkg/sampler/internal/perf"
)

// collectorPoll is the collector loop's poll period, per spec.md §4.3.
const collectorPoll = time.Millisecond

// SamplePeriod is SAMPLE_PERIOD from spec.md §6: the event count each
// hardware sample represents, used to scale sample counts into estimated
// access counts during merge.
const SamplePeriod = 100007

// Sampler owns the two perf streams and the records they feed.
type Sampler struct {
	loads  *perf.Stream
	stores *perf.Stream
	active bool

	records *Records
	log     zerolog.Logger

	sampleReads   atomic.Uint64
	sampleWrites  atomic.Uint64
	throttleCount atomic.Uint64
}

// New attempts to open both sample streams. On any failure it returns a
// Sampler with active == false rather than an error: the caller treats
// this as non-fatal per spec.md §4.5's init order.
func New(log zerolog.Logger) *Sampler {
	s := &Sampler{
		records: NewRecords(),
		log:     log.With().Str("component", "sampler").Logger(),
	}

	loads, err := perf.Open(perf.Loads, SamplePeriod)
	if err != nil {
		s.log.Info().Err(err).Msg("sampler unavailable, falling back to fault-only statistics")
		return s
	}
	stores, err := perf.Open(perf.Stores, SamplePeriod)
	if err != nil {
		loads.Close()
		s.log.Info().Err(err).Msg("sampler unavailable, falling back to fault-only statistics")
		return s
	}

	s.loads = loads
	s.stores = stores
	s.active = true
	return s
}

// Active reports whether the sampler is collecting.
func (s *Sampler) Active() bool { return s.active }

// Start enables both streams and runs the collector loop until ctx is
// done.
func (s *Sampler) Start(ctx context.Context, wg *sync.WaitGroup) error {
	if !s.active {
		return nil
	}
	if err := s.loads.Enable(); err != nil {
		return err
	}
	if err := s.stores.Enable(); err != nil {
		return err
	}

	wg.Add(1)
	go s.collect(ctx, wg)
	return nil
}

func (s *Sampler) collect(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(collectorPoll)
	defer ticker.Stop()

	var buf []perf.Record
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		buf = s.loads.Drain(buf[:0])
		s.ingest(buf, false)

		buf = s.stores.Drain(buf[:0])
		s.ingest(buf, true)
	}
}

func (s *Sampler) ingest(records []perf.Record, isWrite bool) {
	now := clock.NowNanos()
	for _, rec := range records {
		switch rec.Type {
		case perf.RecordSample:
			if rec.Address == 0 {
				continue
			}
			page := clock.PageAlign(rec.Address)
			s.records.RecordSample(page, isWrite, rec.Weight, now)
			if isWrite {
				s.sampleWrites.Add(1)
			} else {
				s.sampleReads.Add(1)
			}
		case perf.RecordThrottle, perf.RecordUnthrottle:
			s.throttleCount.Add(1)
		default:
			// ignore, per spec.md §4.3
		}
	}
}

// Stop disables both streams. Safe to call on an inactive sampler.
func (s *Sampler) Stop() {
	if !s.active {
		return
	}
	s.loads.Disable()
	s.stores.Disable()
}

// Shutdown unmaps and closes both streams and clears all records.
func (s *Sampler) Shutdown() {
	if s.active {
		s.loads.Close()
		s.stores.Close()
	}
	s.records.Clear()
}

// SampleReads, SampleWrites and ThrottleCount expose the global per-kind
// counters from spec.md §4.3 for status reporting.
func (s *Sampler) SampleReads() uint64   { return s.sampleReads.Load() }
func (s *Sampler) SampleWrites() uint64  { return s.sampleWrites.Load() }
func (s *Sampler) ThrottleCount() uint64 { return s.throttleCount.Load() }

// Merge folds every sample record into the statistics table, per spec.md
// §4.3: estimate counts by multiplying sample counts by the sample
// period, atomically raise each statistics counter to the max of its
// current value and the estimate, recompute access_count, and advance
// last_access_ns if the sample is newer. Taking the max rather than
// overwriting preserves fault-path ground truth over a statistical floor.
func (s *Sampler) Merge(stats *pagestats.Table) {
	s.records.Each(func(r *Record) {
		entry := stats.GetOrInsert(r.PageAddr)

		entry.RaiseReadsTo(r.Reads() * SamplePeriod)
		entry.RaiseWritesTo(r.Writes() * SamplePeriod)
		entry.RecomputeTotal()
		entry.RaiseLastAccessNsTo(r.LastSampleNs())
	})
}
