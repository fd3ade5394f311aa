// Package scheduler decides when a conversion cycle is due and drives one
// cycle at a time from quote to ledger settlement.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"DCAVault/internal/clock"
	"DCAVault/internal/ledger"
	"DCAVault/internal/model"
	"DCAVault/internal/shares"
)

// State is the scheduler's externally visible condition.
type State string

const (
	StateIdle     State = "IDLE"
	StateDue      State = "DUE"
	StateInFlight State = "IN_FLIGHT"
	StateFailed   State = "FAILED"
)

// ErrNotDue is returned by BeginCycle when there is neither a due cycle nor a
// held outcome to resolve.
var ErrNotDue = errors.New("scheduler: no cycle due")

// Swapper quotes and executes conversions. *coordinator.Coordinator implements it.
type Swapper interface {
	GetQuote(ctx context.Context, input, output string, amount uint64) (*model.Quote, error)
	ExecuteSwap(ctx context.Context, q *model.Quote) (*model.Settlement, error)
	Reconcile(ctx context.Context, q *model.Quote) (*model.Settlement, error)
}

// Observer receives every finished cycle record, including records resolved
// by a later reconciliation.
type Observer func(rec *model.CycleRecord)

// Scheduler runs conversion cycles against a ledger.
type Scheduler struct {
	ledger   *ledger.Ledger
	swaps    Swapper
	clock    clock.Clock
	notional uint64

	mu         sync.Mutex
	inFlight   bool
	failed     bool
	unresolved *model.CycleRecord
	observers  []Observer
}

// New creates a Scheduler converting up to notional stable units per cycle.
func New(l *ledger.Ledger, sw Swapper, clk clock.Clock, notional uint64) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Scheduler{ledger: l, swaps: sw, clock: clk, notional: notional}
}

// Observe registers fn for finished cycle records.
func (s *Scheduler) Observe(fn Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// IsDue reports whether a cycle should run at now.
func (s *Scheduler) IsDue(now time.Time) bool {
	return s.ledger.IsDue(now)
}

// State reports the scheduler state at now. FAILED is reported only while a
// swap outcome is held for reconciliation; an ordinary failed attempt leaves
// the vault due and the next poll retries it (see LastCycleFailed).
func (s *Scheduler) State(now time.Time) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.inFlight:
		return StateInFlight
	case s.unresolved != nil:
		return StateFailed
	case s.ledger.IsDue(now):
		return StateDue
	default:
		return StateIdle
	}
}

// LastCycleFailed reports whether the most recent cycle attempt failed.
func (s *Scheduler) LastCycleFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Unresolved returns the cycle awaiting reconciliation, if any.
func (s *Scheduler) Unresolved() *model.CycleRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unresolved == nil {
		return nil
	}
	c := *s.unresolved
	return &c
}

// BeginCycle claims the scheduler and captures the cycle's scheduled time
// before any venue I/O. Every successful call must be paired with EndCycle.
// Due-ness is re-checked under the lock so a caller racing a settlement
// cannot capture the following, not yet due, period.
func (s *Scheduler) BeginCycle() (*model.CycleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return nil, model.ErrCycleAlreadyInFlight
	}
	v, err := s.ledger.Snapshot()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if s.unresolved == nil && !v.IsDue(now) {
		return nil, ErrNotDue
	}
	s.inFlight = true
	return model.NewCycleRecord(v.NextExecutionTime, now), nil
}

// EndCycle releases the claim taken by BeginCycle.
func (s *Scheduler) EndCycle() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// RunCycle performs one scheduler pass. It returns (nil, nil) when nothing is
// due. A pending reconciliation is resolved before any new quote is taken; if
// it settles, that record is the pass's result.
func (s *Scheduler) RunCycle(ctx context.Context) (*model.CycleRecord, error) {
	if s.Unresolved() == nil && !s.IsDue(s.clock.Now()) {
		return nil, nil
	}
	rec, err := s.BeginCycle()
	if errors.Is(err, ErrNotDue) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer s.EndCycle()

	if s.Unresolved() != nil {
		prev, err := s.resolve(ctx)
		if prev != nil || err != nil {
			return prev, err
		}
		if !s.IsDue(s.clock.Now()) {
			return nil, nil
		}
	}

	err = s.execute(ctx, rec)
	return rec, err
}

func (s *Scheduler) execute(ctx context.Context, rec *model.CycleRecord) error {
	v, err := s.ledger.Snapshot()
	if err != nil {
		return s.fail(rec, err)
	}

	gross := min(s.notional, v.StableBalance)
	fee := shares.Fee(gross, v.FeeBps)
	rec.AmountIn = gross - fee
	rec.Fee = fee
	log := slog.With(
		slog.String("cycle_id", rec.ID),
		slog.Int64("scheduled_for", rec.ScheduledFor),
		slog.Uint64("amount_in", rec.AmountIn),
	)

	if rec.AmountIn == 0 {
		rec.Fee = 0
		if _, err := s.ledger.Settle(rec.ScheduledFor, 0, 0, 0); err != nil {
			return s.fail(rec, err)
		}
		log.Info("nothing to convert, schedule advanced")
		return s.settled(rec)
	}

	q, err := s.swaps.GetQuote(ctx, v.StableMint, v.TargetMint, rec.AmountIn)
	if err != nil {
		return s.fail(rec, err)
	}
	rec.Quote = q
	if err := rec.Transition(model.CycleQuoted); err != nil {
		return s.fail(rec, err)
	}
	log.Info("quote accepted",
		slog.String("quote_id", q.ID),
		slog.Uint64("out_amount", q.OutAmount),
		slog.Uint64("minimum_output", q.MinimumOutput))

	if err := rec.Transition(model.CycleSubmitted); err != nil {
		return s.fail(rec, err)
	}
	st, err := s.swaps.ExecuteSwap(ctx, q)
	if err != nil {
		if errors.Is(err, model.ErrOutcomeUnknown) {
			return s.hold(rec, err)
		}
		return s.fail(rec, err)
	}
	rec.Settlement = st
	return s.commit(rec)
}

// resolve settles or discards the held record. It returns the record when it
// was settled or is still unresolved.
func (s *Scheduler) resolve(ctx context.Context) (*model.CycleRecord, error) {
	s.mu.Lock()
	rec := s.unresolved
	s.mu.Unlock()

	log := slog.With(slog.String("cycle_id", rec.ID), slog.Int64("scheduled_for", rec.ScheduledFor))
	if rec.Settlement == nil {
		st, err := s.swaps.Reconcile(ctx, rec.Quote)
		switch {
		case errors.Is(err, model.ErrOutcomeUnknown):
			rec.Err = err
			log.Warn("swap outcome still unknown", slog.Any("error", err))
			return rec, err
		case err != nil:
			s.clearUnresolved()
			_ = s.fail(rec, err)
			return nil, nil
		case st == nil:
			log.Info("held swap never landed, starting a new cycle")
			s.clearUnresolved()
			_ = s.fail(rec, fmt.Errorf("%w: swap for quote %s did not land", model.ErrSubmissionFailed, rec.Quote.ID))
			return nil, nil
		}
		rec.Settlement = st
	}

	s.clearUnresolved()
	if err := s.commit(rec); err != nil {
		return rec, err
	}
	log.Info("held swap reconciled and settled", slog.Uint64("realized", rec.Settlement.RealizedOutput))
	return rec, nil
}

// commit books an executed swap. Storage failures keep the record for a
// retry; an accounting rejection cannot be retried and needs an operator.
func (s *Scheduler) commit(rec *model.CycleRecord) error {
	_, err := s.ledger.Settle(rec.ScheduledFor, rec.AmountIn, rec.Settlement.RealizedOutput, rec.Fee)
	if err != nil {
		if errors.Is(err, model.ErrAccounting) {
			slog.Error("swap executed but ledger rejected settlement, manual reconciliation required",
				slog.String("cycle_id", rec.ID),
				slog.String("quote_id", rec.Settlement.QuoteID),
				slog.String("signature", rec.Settlement.Signature),
				slog.Uint64("realized", rec.Settlement.RealizedOutput),
				slog.Any("error", err))
			return s.fail(rec, err)
		}
		return s.hold(rec, err)
	}
	return s.settled(rec)
}

func (s *Scheduler) settled(rec *model.CycleRecord) error {
	if err := rec.Transition(model.CycleSettled); err != nil {
		return s.fail(rec, err)
	}
	rec.Err = nil
	rec.FinishedAt = s.clock.Now()
	s.mu.Lock()
	s.failed = false
	s.mu.Unlock()
	s.notify(rec)
	return nil
}

func (s *Scheduler) fail(rec *model.CycleRecord, err error) error {
	rec.Fail(err, s.clock.Now())
	s.mu.Lock()
	s.failed = true
	s.mu.Unlock()
	s.notify(rec)
	return err
}

func (s *Scheduler) hold(rec *model.CycleRecord, err error) error {
	rec.Err = err
	rec.FinishedAt = s.clock.Now()
	s.mu.Lock()
	s.unresolved = rec
	s.mu.Unlock()
	slog.Warn("cycle held for reconciliation",
		slog.String("cycle_id", rec.ID),
		slog.Int64("scheduled_for", rec.ScheduledFor),
		slog.Any("error", err))
	s.notify(rec)
	return err
}

func (s *Scheduler) clearUnresolved() {
	s.mu.Lock()
	s.unresolved = nil
	s.mu.Unlock()
}

func (s *Scheduler) notify(rec *model.CycleRecord) {
	s.mu.Lock()
	obs := append([]Observer(nil), s.observers...)
	s.mu.Unlock()
	c := *rec
	for _, fn := range obs {
		fn(&c)
	}
}
