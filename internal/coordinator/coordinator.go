// Package coordinator obtains and validates venue quotes and submits each
// quote at most once, reconciling ambiguous submissions against the venue
// before reporting an outcome.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"DCAVault/internal/clock"
	"DCAVault/internal/model"
	"DCAVault/internal/shares"
	"DCAVault/internal/venue"
)

// Options configures quote validation and submission bounds.
type Options struct {
	MaxSlippageBps uint16        // minimumOutput = outAmount * (1 - slippage)
	QuoteTTL       time.Duration // upper bound on quote lifetime
	SubmitTimeout  time.Duration // bounded wait for confirmation
	LookupTimeout  time.Duration // bounded wait for reconciliation
}

// DefaultOptions returns 50 bps slippage, 30s quotes, 60s submission and 15s lookups.
func DefaultOptions() Options {
	return Options{
		MaxSlippageBps: 50,
		QuoteTTL:       30 * time.Second,
		SubmitTimeout:  60 * time.Second,
		LookupTimeout:  15 * time.Second,
	}
}

// Coordinator mediates between the scheduler and a venue.
type Coordinator struct {
	venue venue.Venue
	clock clock.Clock
	opt   Options

	mu        sync.Mutex
	submitted map[string]time.Time // quote id -> expiry
}

// New creates a Coordinator. Zero option fields take their defaults.
func New(v venue.Venue, clk clock.Clock, opt Options) *Coordinator {
	def := DefaultOptions()
	if opt.QuoteTTL <= 0 {
		opt.QuoteTTL = def.QuoteTTL
	}
	if opt.SubmitTimeout <= 0 {
		opt.SubmitTimeout = def.SubmitTimeout
	}
	if opt.LookupTimeout <= 0 {
		opt.LookupTimeout = def.LookupTimeout
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Coordinator{venue: v, clock: clk, opt: opt, submitted: make(map[string]time.Time)}
}

// VenueName returns the name of the underlying venue.
func (c *Coordinator) VenueName() string { return c.venue.Name() }

// GetQuote asks the venue to price amount of input in output and stamps the
// quote with its enforced minimum output and expiry.
func (c *Coordinator) GetQuote(ctx context.Context, input, output string, amount uint64) (*model.Quote, error) {
	if amount == 0 {
		return nil, fmt.Errorf("%w: quote amount must be positive", model.ErrInvalidAmount)
	}
	q, err := c.venue.Quote(ctx, venue.QuoteRequest{
		InputMint:   input,
		OutputMint:  output,
		Amount:      amount,
		SlippageBps: c.opt.MaxSlippageBps,
	})
	if err != nil {
		if errors.Is(err, model.ErrNoRoute) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", model.ErrQuoteUnavailable, err)
	}

	switch {
	case q == nil:
		return nil, fmt.Errorf("%w: venue returned no quote", model.ErrQuoteUnavailable)
	case q.OutAmount == 0:
		return nil, fmt.Errorf("%w: quote has zero output", model.ErrNoRoute)
	case q.InAmount != amount:
		return nil, fmt.Errorf("%w: quote for %d, requested %d", model.ErrQuoteUnavailable, q.InAmount, amount)
	case q.InputMint != input || q.OutputMint != output:
		return nil, fmt.Errorf("%w: quote pair %s->%s, requested %s->%s",
			model.ErrQuoteUnavailable, q.InputMint, q.OutputMint, input, output)
	}

	now := c.clock.Now()
	limit := now.Add(c.opt.QuoteTTL)
	if q.Expiry.IsZero() || q.Expiry.After(limit) {
		q.Expiry = limit
	}
	if q.Expired(now) {
		return nil, fmt.Errorf("%w: quote already expired", model.ErrQuoteUnavailable)
	}
	q.SlippageBps = c.opt.MaxSlippageBps
	q.MinimumOutput = shares.MinimumOutput(q.OutAmount, c.opt.MaxSlippageBps)
	return q, nil
}

// ExecuteSwap submits q exactly once. A retry needs a fresh quote.
func (c *Coordinator) ExecuteSwap(ctx context.Context, q *model.Quote) (*model.Settlement, error) {
	now := c.clock.Now()
	if q.Expired(now) {
		return nil, fmt.Errorf("%w: expired %s ago", model.ErrQuoteExpired, now.Sub(q.Expiry).Truncate(time.Millisecond))
	}
	if err := c.claim(q, now); err != nil {
		return nil, err
	}

	submitCtx, cancel := context.WithTimeout(ctx, c.opt.SubmitTimeout)
	s, err := c.venue.Submit(submitCtx, q)
	cancel()
	if err != nil {
		if !isAmbiguous(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrSubmissionFailed, err)
		}
		slog.Warn("swap submission outcome ambiguous, reconciling",
			slog.String("quote_id", q.ID), slog.Any("error", err))
		landed, lerr := c.Reconcile(ctx, q)
		if lerr != nil {
			return nil, lerr
		}
		if landed == nil {
			return nil, fmt.Errorf("%w: not landed after %v", model.ErrSubmissionFailed, err)
		}
		return landed, nil
	}
	return c.check(q, s)
}

// Reconcile asks the venue whether q landed. It returns (nil, nil) when the
// venue confirms it did not, and ErrOutcomeUnknown when the venue can't tell.
func (c *Coordinator) Reconcile(ctx context.Context, q *model.Quote) (*model.Settlement, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, c.opt.LookupTimeout)
	defer cancel()

	s, err := c.venue.Lookup(lookupCtx, q.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: quote %s: %w", model.ErrOutcomeUnknown, q.ID, err)
	}
	if s == nil || !s.Confirmed {
		return nil, nil
	}
	return c.check(q, s)
}

func (c *Coordinator) check(q *model.Quote, s *model.Settlement) (*model.Settlement, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: venue returned no settlement", model.ErrSubmissionFailed)
	}
	if s.QuoteID == "" {
		s.QuoteID = q.ID
	}
	if !s.Confirmed {
		if s.RealizedOutput > 0 && s.RealizedOutput < q.MinimumOutput {
			return nil, fmt.Errorf("%w: route delivered %d, minimum %d", model.ErrSlippageExceeded, s.RealizedOutput, q.MinimumOutput)
		}
		return nil, fmt.Errorf("%w: swap not confirmed", model.ErrSubmissionFailed)
	}
	if s.RealizedOutput < q.MinimumOutput {
		// The venue must enforce the minimum; a confirmed fill below it is not booked.
		slog.Error("venue confirmed swap below minimum output",
			slog.String("quote_id", q.ID),
			slog.Uint64("realized", s.RealizedOutput),
			slog.Uint64("minimum", q.MinimumOutput))
		return nil, fmt.Errorf("%w: realized %d, minimum %d", model.ErrSlippageExceeded, s.RealizedOutput, q.MinimumOutput)
	}
	return s, nil
}

func (c *Coordinator) claim(q *model.Quote, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, exp := range c.submitted {
		if !now.Before(exp) {
			delete(c.submitted, id)
		}
	}
	if _, ok := c.submitted[q.ID]; ok {
		return fmt.Errorf("%w: %s", model.ErrQuoteReused, q.ID)
	}
	c.submitted[q.ID] = q.Expiry
	return nil
}

func isAmbiguous(err error) bool {
	return errors.Is(err, venue.ErrAmbiguous) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
