package ledger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/memeperp/venue/internal/clock"
	"github.com/memeperp/venue/pkg/ids"
)

// Submitter owns the pending-match queue spec.md §4.6 describes: matches
// accumulate here until the next submission tick, then go out as one
// BLS-attested settle_batch call. An attempt takes the whole queue when it
// starts: the taken matches no longer count in PendingCount, and the
// attempt holds and retries them until the ledger acknowledges the batch
// or ctx is canceled; they are not put back in the queue either way (the
// SettlementLog is the caller's record of them, not this queue's).
// Failures retry with exponential backoff and never surface to
// the trader who placed the order (spec.md §7 propagation policy) — the
// match already happened off-chain.
type Submitter struct {
	mu      sync.Mutex
	pending []SettledPair

	client      Client
	key         *OperatorKey
	clock       clock.Clock
	logger      *zap.Logger
	interval    time.Duration
	maxBackoff  time.Duration
	highWater   int

	inFlight bool
	ctx      context.Context
}

func NewSubmitter(client Client, key *OperatorKey, clk clock.Clock, logger *zap.Logger, interval time.Duration, highWater int) *Submitter {
	return &Submitter{
		client:     client,
		key:        key,
		clock:      clk,
		logger:     logger,
		interval:   interval,
		maxBackoff: 5 * time.Minute,
		highWater:  highWater,
	}
}

// Enqueue adds a matched pair to the pending batch. Spec.md §4.6 drains the
// queue on a timer or when it crosses the high-water size threshold,
// whichever comes first; crossing it here triggers an immediate drain
// attempt rather than waiting for the next tick.
func (s *Submitter) Enqueue(p SettledPair) {
	s.mu.Lock()
	s.pending = append(s.pending, p)
	n := len(s.pending)
	ctx := s.ctx
	s.mu.Unlock()

	if n >= s.highWater {
		s.logger.Warn("pending match queue at high water, draining immediately", zap.Int("size", n), zap.Int("high_water", s.highWater))
		if ctx != nil {
			s.trySubmit(ctx)
		}
	}
}

// PendingCount reports the current queue depth, spec.md §6.6's
// pending_match_high_water is read against this.
func (s *Submitter) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Run fires a submission attempt every interval until ctx is canceled.
// Submission is single-in-flight: a tick that lands while a prior attempt
// is still retrying is skipped rather than queued, since the next tick
// will pick up everything enqueued since.
func (s *Submitter) Run(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	ch, stop := s.clock.Tick(s.interval)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			s.trySubmit(ctx)
		}
	}
}

func (s *Submitter) trySubmit(ctx context.Context) {
	s.mu.Lock()
	if s.inFlight || len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = nil
	s.inFlight = true
	s.mu.Unlock()

	go s.submitWithRetry(ctx, batch)
}

func (s *Submitter) submitWithRetry(ctx context.Context, batch []SettledPair) {
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	batchID := ids.NewBatchID()
	digest := BatchDigest(batchID, batch)
	attestation := s.key.Attest(digest)

	backoff := time.Second
	for {
		err := s.client.SettleBatch(ctx, batchID, batch, attestation)
		if err == nil {
			s.logger.Info("settle_batch acknowledged", zap.String("batch_id", batchID), zap.Int("pairs", len(batch)))
			return
		}
		s.logger.Warn("settle_batch failed, retrying", zap.String("batch_id", batchID), zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(backoff):
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}
