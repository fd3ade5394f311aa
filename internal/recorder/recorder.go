package recorder

import (
	"time"

	"DCAVault/internal/model"
)

// CycleEvent is a finished cycle together with the vault it left behind.
type CycleEvent struct {
	Record *model.CycleRecord
	Vault  *model.Vault // nil if the snapshot could not be taken
}

// HolderEvent records a deposit or withdrawal.
type HolderEvent struct {
	EventType    string // "DEPOSIT" or "WITHDRAW"
	Holder       string
	StableIn     uint64
	SharesMinted uint64
	SharesBurned uint64
	StableOut    uint64
	TargetOut    uint64
	TotalShares  uint64 // after the event
	At           time.Time
}

// FeeCollection records an admin fee sweep.
type FeeCollection struct {
	Admin  string
	Amount uint64
	At     time.Time
}

// Recorder archives vault history for analysis. It is a log: nothing reads
// it back to rebuild ledger state.
type Recorder interface {
	RecordCycle(evt *CycleEvent) error
	RecordHolderEvent(evt *HolderEvent) error
	RecordFeeCollection(evt *FeeCollection) error
	Close() error
}

// DepositEvent converts a ledger deposit result.
func DepositEvent(res model.DepositResult, totalShares uint64, at time.Time) *HolderEvent {
	return &HolderEvent{
		EventType:    "DEPOSIT",
		Holder:       res.Holder,
		StableIn:     res.Amount,
		SharesMinted: res.SharesMinted,
		TotalShares:  totalShares,
		At:           at,
	}
}

// WithdrawalEvent converts a ledger withdrawal result.
func WithdrawalEvent(res model.WithdrawalResult, totalShares uint64, at time.Time) *HolderEvent {
	return &HolderEvent{
		EventType:    "WITHDRAW",
		Holder:       res.Holder,
		SharesBurned: res.SharesBurned,
		StableOut:    res.StableOut,
		TargetOut:    res.TargetOut,
		TotalShares:  totalShares,
		At:           at,
	}
}
