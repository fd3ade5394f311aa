package adminapi

import "DCAVault/internal/model"

type ErrorResponse struct {
	Error string `json:"error"`
	Class string `json:"class,omitempty"`
}

type VaultResponse struct {
	Vault           model.Vault `json:"vault"`
	Holders         int         `json:"holders"`
	State           string      `json:"state,omitempty"`
	UnresolvedQuote string      `json:"unresolved_quote,omitempty"`
}

type InitializeRequest struct {
	Admin         string `json:"admin"`
	StableMint    string `json:"stable_mint"`
	TargetMint    string `json:"target_mint"`
	SharesMint    string `json:"shares_mint"`
	PeriodSeconds uint64 `json:"period_seconds"`
	FeeBps        uint16 `json:"fee_bps"`
}

type DepositRequest struct {
	Holder string `json:"holder"`
	Amount uint64 `json:"amount"`
}

type WithdrawalRequest struct {
	Holder string `json:"holder"`
	Shares uint64 `json:"shares"`
}

type CallerRequest struct {
	Caller string `json:"caller"`
}

type ScheduleRequest struct {
	Caller        string `json:"caller"`
	PeriodSeconds uint64 `json:"period_seconds"`
	FeeBps        uint16 `json:"fee_bps"`
}

type CrankResponse struct {
	Ran          bool   `json:"ran"`
	CycleID      string `json:"cycle_id,omitempty"`
	ScheduledFor int64  `json:"scheduled_for,omitempty"`
	Status       string `json:"status,omitempty"`
	AmountIn     uint64 `json:"amount_in,omitempty"`
	Fee          uint64 `json:"fee,omitempty"`
	Received     uint64 `json:"received,omitempty"`
	Signature    string `json:"signature,omitempty"`
	Error        string `json:"error,omitempty"`
	Class        string `json:"class,omitempty"`
}

type FeesResponse struct {
	Collected uint64 `json:"collected"`
}
