package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CycleStatus is the lifecycle of one conversion attempt.
type CycleStatus string

const (
	CyclePending   CycleStatus = "PENDING"
	CycleQuoted    CycleStatus = "QUOTED"
	CycleSubmitted CycleStatus = "SUBMITTED"
	CycleSettled   CycleStatus = "SETTLED"
	CycleFailed    CycleStatus = "FAILED"
)

var cycleTransitions = map[CycleStatus][]CycleStatus{
	CyclePending:   {CycleQuoted, CycleSettled, CycleFailed}, // Settled directly for no-op cycles
	CycleQuoted:    {CycleSubmitted, CycleFailed},
	CycleSubmitted: {CycleSettled, CycleFailed},
}

// IsTerminal reports whether no further transition is possible.
func (s CycleStatus) IsTerminal() bool {
	return s == CycleSettled || s == CycleFailed
}

// Quote is a time-bounded conversion offer from a venue.
type Quote struct {
	ID            string          `json:"id"`
	Venue         string          `json:"venue"`
	InputMint     string          `json:"input_mint"`
	OutputMint    string          `json:"output_mint"`
	InAmount      uint64          `json:"in_amount"`
	OutAmount     uint64          `json:"out_amount"`
	MinimumOutput uint64          `json:"minimum_output"`
	SlippageBps   uint16          `json:"slippage_bps"`
	Rate          decimal.Decimal `json:"rate"` // OutAmount / InAmount
	PriceImpact   decimal.Decimal `json:"price_impact"`
	Expiry        time.Time       `json:"expiry"`

	// Raw is the venue's own quote payload, echoed back on submission.
	Raw json.RawMessage `json:"-"`
}

// Expired reports whether settlement at now is no longer allowed.
func (q *Quote) Expired(now time.Time) bool {
	return !now.Before(q.Expiry)
}

// Settlement is the venue's report of a submitted conversion.
type Settlement struct {
	QuoteID        string    `json:"quote_id"`
	Signature      string    `json:"signature"`
	Confirmed      bool      `json:"confirmed"`
	RealizedOutput uint64    `json:"realized_output"`
	SettledAt      time.Time `json:"settled_at"`
}

// CycleRecord tracks one execution attempt. It is owned by the scheduler for
// the duration of the attempt and never written to the ledger.
type CycleRecord struct {
	ID           string
	ScheduledFor int64 // NextExecutionTime that triggered the attempt
	AmountIn     uint64
	Fee          uint64
	Quote        *Quote
	Settlement   *Settlement
	Status       CycleStatus
	Err          error
	StartedAt    time.Time
	FinishedAt   time.Time
}

// NewCycleRecord starts a Pending record for scheduledFor.
func NewCycleRecord(scheduledFor int64, now time.Time) *CycleRecord {
	return &CycleRecord{
		ID:           uuid.NewString(),
		ScheduledFor: scheduledFor,
		Status:       CyclePending,
		StartedAt:    now,
	}
}

// Transition moves the record to the next status.
func (r *CycleRecord) Transition(to CycleStatus) error {
	for _, allowed := range cycleTransitions[r.Status] {
		if allowed == to {
			r.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
}

// Fail marks the record failed with err. Already terminal records keep their status.
func (r *CycleRecord) Fail(err error, now time.Time) {
	r.Err = err
	r.FinishedAt = now
	if !r.Status.IsTerminal() {
		r.Status = CycleFailed
	}
}
