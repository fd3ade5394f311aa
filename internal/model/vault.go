package model

import "time"

const (
	// MaxFeeBps is 100% expressed in basis points.
	MaxFeeBps = 10000

	// MaxPeriodSeconds bounds the schedule so timestamp arithmetic cannot overflow.
	MaxPeriodSeconds = 1<<31 - 1
)

// Vault holds the configuration and balances of one pooled DCA vault.
// Balances are integer base units; no fractional amounts exist.
type Vault struct {
	Admin      string `json:"admin"`
	StableMint string `json:"stable_mint"`
	TargetMint string `json:"target_mint"`
	SharesMint string `json:"shares_mint"`

	PeriodSeconds     uint64 `json:"period_seconds"`
	NextExecutionTime int64  `json:"next_execution_time"` // unix seconds
	FeeBps            uint16 `json:"fee_bps"`

	TotalShares    uint64 `json:"total_shares"`
	StableBalance  uint64 `json:"stable_balance"`
	TargetBalance  uint64 `json:"target_balance"`
	FeesAccrued    uint64 `json:"fees_accrued"`
	CyclesExecuted uint64 `json:"cycles_executed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDue reports whether a conversion cycle should run at now.
func (v *Vault) IsDue(now time.Time) bool {
	return now.Unix() >= v.NextExecutionTime
}

// NextExecution returns NextExecutionTime as a time.Time.
func (v *Vault) NextExecution() time.Time {
	return time.Unix(v.NextExecutionTime, 0).UTC()
}

// Holder is one depositor's claim on the vault.
type Holder struct {
	ID        string    `json:"id"`
	Shares    uint64    `json:"shares"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DepositResult describes an accepted deposit.
type DepositResult struct {
	Holder       string `json:"holder"`
	Amount       uint64 `json:"amount"`
	SharesMinted uint64 `json:"shares_minted"`
}

// WithdrawalResult describes an accepted withdrawal.
type WithdrawalResult struct {
	Holder       string `json:"holder"`
	SharesBurned uint64 `json:"shares_burned"`
	StableOut    uint64 `json:"stable_out"`
	TargetOut    uint64 `json:"target_out"`
}
