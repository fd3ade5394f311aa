// Package ledger is the single source of truth for vault balances and holder
// shares. Every mutation is serialized behind one mutex, applied to a copy of
// the state, persisted, and only then published.
package ledger

import (
	"fmt"
	"math/bits"
	"sort"
	"sync"
	"time"

	"DCAVault/internal/clock"
	"DCAVault/internal/model"
	"DCAVault/internal/shares"
)

// Ledger owns one vault and its holder positions.
type Ledger struct {
	mu    sync.Mutex
	state *State
	store Store
	clock clock.Clock
}

// New creates a Ledger, loading existing state from store.
func New(store Store, clk clock.Clock) (*Ledger, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	state, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load ledger state: %w", err)
	}
	if err := verify(state); err != nil {
		return nil, err
	}
	return &Ledger{state: state, store: store, clock: clk}, nil
}

// Initialize creates the vault. It can succeed only once per ledger.
func (l *Ledger) Initialize(admin, stableMint, targetMint, sharesMint string, periodSeconds uint64, feeBps uint16) (model.Vault, error) {
	if err := validateSchedule(periodSeconds, feeBps); err != nil {
		return model.Vault{}, err
	}
	if admin == "" || stableMint == "" || targetMint == "" || sharesMint == "" {
		return model.Vault{}, fmt.Errorf("%w: admin and mints are required", model.ErrInvalidConfig)
	}
	if stableMint == targetMint {
		return model.Vault{}, fmt.Errorf("%w: stable and target mint must differ", model.ErrInvalidConfig)
	}

	var out model.Vault
	err := l.mutate(func(st *State, now time.Time) error {
		if st.Vault != nil {
			return model.ErrAlreadyInitialized
		}
		st.Vault = &model.Vault{
			Admin:             admin,
			StableMint:        stableMint,
			TargetMint:        targetMint,
			SharesMint:        sharesMint,
			PeriodSeconds:     periodSeconds,
			NextExecutionTime: now.Unix() + int64(periodSeconds),
			FeeBps:            feeBps,
			CreatedAt:         now,
		}
		out = *st.Vault
		return nil
	})
	return out, err
}

// Snapshot returns a consistent copy of the vault.
func (l *Ledger) Snapshot() (model.Vault, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Vault == nil {
		return model.Vault{}, model.ErrNotInitialized
	}
	return *l.state.Vault, nil
}

// IsDue reports whether a cycle is due at now. An uninitialized vault is never due.
func (l *Ledger) IsDue(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Vault != nil && l.state.Vault.IsDue(now)
}

// Holder returns the position of id. Unknown holders have zero shares.
func (l *Ledger) Holder(id string) model.Holder {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.state.Holders[id]; ok {
		return *h
	}
	return model.Holder{ID: id}
}

// Holders returns all open positions ordered by id.
func (l *Ledger) Holders() []model.Holder {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Holder, 0, len(l.state.Holders))
	for _, h := range l.state.Holders {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RecordDeposit adds amount stable units to the vault and mints shares to holder.
func (l *Ledger) RecordDeposit(holder string, amount uint64) (model.DepositResult, error) {
	if holder == "" {
		return model.DepositResult{}, model.ErrInvalidHolder
	}
	res := model.DepositResult{Holder: holder, Amount: amount}
	err := l.mutate(func(st *State, now time.Time) error {
		v := st.Vault
		if v == nil {
			return model.ErrNotInitialized
		}
		minted, err := shares.ForDeposit(v, amount)
		if err != nil {
			return err
		}
		stable, c1 := bits.Add64(v.StableBalance, amount, 0)
		total, c2 := bits.Add64(v.TotalShares, minted, 0)
		if c1|c2 != 0 {
			return model.ErrOverflow
		}
		v.StableBalance = stable
		v.TotalShares = total

		h, ok := st.Holders[holder]
		if !ok {
			h = &model.Holder{ID: holder}
			st.Holders[holder] = h
		}
		h.Shares += minted // bounded by TotalShares
		h.UpdatedAt = now
		res.SharesMinted = minted
		return nil
	})
	return res, err
}

// RecordWithdrawal burns sharesToBurn from holder and releases the
// proportional stable and target amounts.
func (l *Ledger) RecordWithdrawal(holder string, sharesToBurn uint64) (model.WithdrawalResult, error) {
	res := model.WithdrawalResult{Holder: holder, SharesBurned: sharesToBurn}
	err := l.mutate(func(st *State, now time.Time) error {
		v := st.Vault
		if v == nil {
			return model.ErrNotInitialized
		}
		if sharesToBurn == 0 {
			return fmt.Errorf("%w: withdrawal must burn at least one share", model.ErrInvalidAmount)
		}
		h, ok := st.Holders[holder]
		if !ok || h.Shares < sharesToBurn {
			held := uint64(0)
			if ok {
				held = h.Shares
			}
			return fmt.Errorf("%w: %s holds %d, requested %d", model.ErrInsufficientShares, holder, held, sharesToBurn)
		}
		stableOut, targetOut, err := shares.ForWithdrawal(v, sharesToBurn)
		if err != nil {
			return err
		}
		v.StableBalance -= stableOut
		v.TargetBalance -= targetOut
		v.TotalShares -= sharesToBurn

		h.Shares -= sharesToBurn
		h.UpdatedAt = now
		if h.Shares == 0 {
			delete(st.Holders, holder)
		}
		res.StableOut = stableOut
		res.TargetOut = targetOut
		return nil
	})
	return res, err
}

// ApplyConversion books a settled conversion without touching the schedule.
// Prefer Settle, which also advances the cycle atomically.
func (l *Ledger) ApplyConversion(stableSpent, targetReceived, feeTaken uint64) error {
	return l.mutate(func(st *State, _ time.Time) error {
		if st.Vault == nil {
			return model.ErrNotInitialized
		}
		return applyConversion(st.Vault, stableSpent, targetReceived, feeTaken)
	})
}

// AdvanceCycle sets the next execution to scheduledFor + periodSeconds.
func (l *Ledger) AdvanceCycle(scheduledFor int64) error {
	return l.mutate(func(st *State, _ time.Time) error {
		if st.Vault == nil {
			return model.ErrNotInitialized
		}
		advanceCycle(st.Vault, scheduledFor)
		return nil
	})
}

// Settle applies a conversion and advances the schedule as one unit: either
// both are persisted and visible, or neither is.
func (l *Ledger) Settle(scheduledFor int64, stableSpent, targetReceived, feeTaken uint64) (model.Vault, error) {
	var out model.Vault
	err := l.mutate(func(st *State, _ time.Time) error {
		v := st.Vault
		if v == nil {
			return model.ErrNotInitialized
		}
		if err := applyConversion(v, stableSpent, targetReceived, feeTaken); err != nil {
			return err
		}
		advanceCycle(v, scheduledFor)
		v.CyclesExecuted++
		out = *v
		return nil
	})
	return out, err
}

// UpdateSchedule changes the period and fee. Admin only. The next execution
// time is left as scheduled.
func (l *Ledger) UpdateSchedule(caller string, periodSeconds uint64, feeBps uint16) error {
	if err := validateSchedule(periodSeconds, feeBps); err != nil {
		return err
	}
	return l.mutate(func(st *State, _ time.Time) error {
		if st.Vault == nil {
			return model.ErrNotInitialized
		}
		if caller != st.Vault.Admin {
			return model.ErrUnauthorized
		}
		st.Vault.PeriodSeconds = periodSeconds
		st.Vault.FeeBps = feeBps
		return nil
	})
}

// CollectFees zeroes the accrued fees and returns the amount released. Admin only.
func (l *Ledger) CollectFees(caller string) (uint64, error) {
	var collected uint64
	err := l.mutate(func(st *State, _ time.Time) error {
		if st.Vault == nil {
			return model.ErrNotInitialized
		}
		if caller != st.Vault.Admin {
			return model.ErrUnauthorized
		}
		collected = st.Vault.FeesAccrued
		st.Vault.FeesAccrued = 0
		return nil
	})
	return collected, err
}

// mutate runs fn against a copy of the state and publishes the copy only if
// fn succeeds, the invariants hold and the store accepted it.
func (l *Ledger) mutate(fn func(st *State, now time.Time) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	next := l.state.clone()
	if err := fn(next, now); err != nil {
		return err
	}
	if next.Vault != nil {
		next.Vault.UpdatedAt = now
	}
	next.UpdatedAt = now
	if err := verify(next); err != nil {
		return err
	}
	if err := l.store.Save(next); err != nil {
		return fmt.Errorf("persist ledger state: %w", err)
	}
	l.state = next
	return nil
}

func applyConversion(v *model.Vault, stableSpent, targetReceived, feeTaken uint64) error {
	debit, carry := bits.Add64(stableSpent, feeTaken, 0)
	if carry != 0 || debit > v.StableBalance {
		return fmt.Errorf("%w: spend %d + fee %d exceeds stable balance %d",
			model.ErrInsufficientFunds, stableSpent, feeTaken, v.StableBalance)
	}
	target, carry := bits.Add64(v.TargetBalance, targetReceived, 0)
	if carry != 0 {
		return model.ErrOverflow
	}
	fees, carry := bits.Add64(v.FeesAccrued, feeTaken, 0)
	if carry != 0 {
		return model.ErrOverflow
	}
	v.StableBalance -= debit
	v.TargetBalance = target
	v.FeesAccrued = fees
	return nil
}

func advanceCycle(v *model.Vault, scheduledFor int64) {
	v.NextExecutionTime = scheduledFor + int64(v.PeriodSeconds)
}

func validateSchedule(periodSeconds uint64, feeBps uint16) error {
	if periodSeconds == 0 || periodSeconds > model.MaxPeriodSeconds {
		return fmt.Errorf("%w: period_seconds %d out of range", model.ErrInvalidConfig, periodSeconds)
	}
	if feeBps > model.MaxFeeBps {
		return fmt.Errorf("%w: fee_bps %d exceeds %d", model.ErrInvalidConfig, feeBps, model.MaxFeeBps)
	}
	return nil
}

// verify checks that total shares equal the sum of holder shares.
func verify(st *State) error {
	var sum uint64
	for id, h := range st.Holders {
		if h.Shares == 0 {
			return fmt.Errorf("ledger invariant: holder %s has no shares but is open", id)
		}
		var carry uint64
		sum, carry = bits.Add64(sum, h.Shares, 0)
		if carry != 0 {
			return fmt.Errorf("ledger invariant: holder shares overflow")
		}
	}
	var total uint64
	if st.Vault != nil {
		total = st.Vault.TotalShares
	}
	if sum != total {
		return fmt.Errorf("ledger invariant: holder shares sum %d != total shares %d", sum, total)
	}
	return nil
}
