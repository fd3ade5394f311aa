package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"DCAVault/internal/model"
	"DCAVault/internal/shares"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stub is a deterministic in-process venue. It prices at a fixed rational
// rate and can be scripted to fail at each step.
type Stub struct {
	mu sync.Mutex

	RateNum, RateDen uint64 // output units per input unit = RateNum/RateDen
	QuoteTTL         time.Duration

	QuoteErr  error
	SubmitErr error
	LookupErr error
	// Land records the swap as executed even when SubmitErr is returned or
	// the submission context expires, simulating a lost confirmation.
	Land bool
	// Realized overrides the output actually delivered. Zero means the quoted output.
	Realized uint64
	// SubmitDelay blocks Submit until it elapses or ctx is done.
	SubmitDelay time.Duration

	Quotes  int
	Submits int
	Lookups int

	settled map[string]*model.Settlement
}

// NewStub creates a stub converting at num/den.
func NewStub(num, den uint64) *Stub {
	return &Stub{RateNum: num, RateDen: den, settled: make(map[string]*model.Settlement)}
}

func (s *Stub) Name() string { return "stub" }

func (s *Stub) Quote(_ context.Context, req QuoteRequest) (*model.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Quotes++
	if s.QuoteErr != nil {
		return nil, s.QuoteErr
	}
	if s.RateDen == 0 {
		return nil, fmt.Errorf("%w: stub has no rate", model.ErrNoRoute)
	}
	out, err := shares.MulDiv(req.Amount, s.RateNum, s.RateDen)
	if err != nil || out == 0 {
		return nil, fmt.Errorf("%w: %d %s -> %s", model.ErrNoRoute, req.Amount, req.InputMint, req.OutputMint)
	}
	q := &model.Quote{
		ID:          uuid.NewString(),
		Venue:       s.Name(),
		InputMint:   req.InputMint,
		OutputMint:  req.OutputMint,
		InAmount:    req.Amount,
		OutAmount:   out,
		SlippageBps: req.SlippageBps,
		Rate:        decimal.NewFromInt(int64(s.RateNum)).Div(decimal.NewFromInt(int64(s.RateDen))),
		PriceImpact: decimal.Zero,
	}
	if s.QuoteTTL > 0 {
		q.Expiry = time.Now().Add(s.QuoteTTL)
	}
	return q, nil
}

func (s *Stub) Submit(ctx context.Context, q *model.Quote) (*model.Settlement, error) {
	s.mu.Lock()
	s.Submits++
	delay := s.SubmitDelay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.Land {
				s.record(q)
			}
			return nil, &model.VenueError{Op: "submit", Err: fmt.Errorf("%w: %v", ErrAmbiguous, ctx.Err()), Retriable: true}
		case <-time.After(delay):
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SubmitErr != nil {
		if s.Land {
			s.record(q)
		}
		return nil, s.SubmitErr
	}
	return s.record(q), nil
}

func (s *Stub) Lookup(_ context.Context, quoteID string) (*model.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Lookups++
	if s.LookupErr != nil {
		return nil, s.LookupErr
	}
	if st, ok := s.settled[quoteID]; ok {
		c := *st
		return &c, nil
	}
	return nil, nil
}

// record must be called with s.mu held.
func (s *Stub) record(q *model.Quote) *model.Settlement {
	out := q.OutAmount
	if s.Realized != 0 {
		out = s.Realized
	}
	st := &model.Settlement{
		QuoteID:        q.ID,
		Signature:      "stub-" + q.ID,
		Confirmed:      true,
		RealizedOutput: out,
		SettledAt:      time.Now(),
	}
	// The minimum is enforced on chain: below it the swap reverts and
	// RealizedOutput reports what the route would have delivered.
	if out < q.MinimumOutput {
		st.Confirmed = false
		return st
	}
	if s.settled == nil {
		s.settled = make(map[string]*model.Settlement)
	}
	s.settled[q.ID] = st
	c := *st
	return &c
}
