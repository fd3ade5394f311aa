package notifier

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"DCAVault/internal/model"

	"github.com/shopspring/decimal"
)

// Units holds the mint decimals used to render raw token amounts.
type Units struct {
	StableDecimals uint8
	TargetDecimals uint8
}

func (u Units) stable(v uint64) string { return render(v, u.StableDecimals) }
func (u Units) target(v uint64) string { return render(v, u.TargetDecimals) }

func render(v uint64, decimals uint8) string {
	return decimal.RequireFromString(strconv.FormatUint(v, 10)).Shift(-int32(decimals)).String()
}

// FormatCycleReport formats a settled cycle into a Telegram message.
func FormatCycleReport(rec *model.CycleRecord, v *model.Vault, u Units) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("🔁 <b>DCA cycle settled</b> | %s\n\n", time.Unix(rec.ScheduledFor, 0).UTC().Format("2006-01-02 15:04")))
	if rec.AmountIn == 0 {
		b.WriteString("Nothing to convert, schedule advanced.\n")
	} else {
		b.WriteString(fmt.Sprintf("Spent: %s (fee %s)\n", u.stable(rec.AmountIn), u.stable(rec.Fee)))
		if q := rec.Quote; q != nil {
			b.WriteString(fmt.Sprintf("Quoted: %s (min %s) via %s\n", u.target(q.OutAmount), u.target(q.MinimumOutput), html.EscapeString(q.Venue)))
		}
		if st := rec.Settlement; st != nil {
			b.WriteString(fmt.Sprintf("Received: %s\n", u.target(st.RealizedOutput)))
			if st.Signature != "" {
				b.WriteString(fmt.Sprintf("Tx: <code>%s</code>\n", html.EscapeString(st.Signature)))
			}
		}
	}
	if v != nil {
		b.WriteString("\n" + FormatVaultStatus(v, u))
	}
	return b.String()
}

// FormatCycleFailure formats a failed or unresolved cycle. Error text may carry
// raw venue responses and is escaped for Telegram's HTML parse mode.
func FormatCycleFailure(rec *model.CycleRecord) string {
	var b strings.Builder
	if rec.Status == model.CycleSubmitted {
		b.WriteString("⚠️ <b>DCA cycle awaiting reconciliation</b>\n\n")
	} else {
		b.WriteString("❌ <b>DCA cycle failed</b>\n\n")
	}
	b.WriteString(fmt.Sprintf("Scheduled for: %s\n", time.Unix(rec.ScheduledFor, 0).UTC().Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("Status: %s\n", rec.Status))
	if rec.Quote != nil {
		b.WriteString(fmt.Sprintf("Quote: <code>%s</code>\n", html.EscapeString(rec.Quote.ID)))
	}
	if rec.Err != nil {
		b.WriteString(fmt.Sprintf("Error [%s]: %s\n", model.Classify(rec.Err), html.EscapeString(rec.Err.Error())))
	}
	return b.String()
}

// FormatVaultStatus formats the current vault state for display.
func FormatVaultStatus(v *model.Vault, u Units) string {
	var b strings.Builder
	b.WriteString("📦 <b>Vault status</b>\n\n")
	b.WriteString(fmt.Sprintf("Stable: %s\n", u.stable(v.StableBalance)))
	b.WriteString(fmt.Sprintf("Target: %s\n", u.target(v.TargetBalance)))
	b.WriteString(fmt.Sprintf("Total shares: %d\n", v.TotalShares))
	b.WriteString(fmt.Sprintf("Fees accrued: %s\n", u.stable(v.FeesAccrued)))
	b.WriteString(fmt.Sprintf("Cycles: %d\n", v.CyclesExecuted))
	b.WriteString(fmt.Sprintf("Next execution: %s\n", v.NextExecution().UTC().Format("2006-01-02 15:04")))
	return b.String()
}
