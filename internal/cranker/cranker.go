// Package cranker drives the execution scheduler from a cron schedule and
// reports every cycle to the history recorder and the operator chat.
package cranker

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"DCAVault/internal/clock"
	"DCAVault/internal/ledger"
	"DCAVault/internal/model"
	"DCAVault/internal/notifier"
	"DCAVault/internal/recorder"
	"DCAVault/internal/scheduler"

	"github.com/robfig/cron/v3"
)

// Sender delivers operator messages. *notifier.TelegramNotifier implements it.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Cranker polls the scheduler on a cron schedule.
type Cranker struct {
	Cron     *cron.Cron
	Sched    *scheduler.Scheduler
	Ledger   *ledger.Ledger
	Recorder recorder.Recorder
	Notifier Sender // nil disables notifications
	Units    notifier.Units
	Clock    clock.Clock
	Ctx      context.Context
}

// New creates a Cranker and subscribes it to the scheduler's finished cycles.
func New(ctx context.Context, sched *scheduler.Scheduler, l *ledger.Ledger, rec recorder.Recorder, n Sender, units notifier.Units, clk clock.Clock) *Cranker {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelInfo))
	c := &Cranker{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		Sched:    sched,
		Ledger:   l,
		Recorder: rec,
		Notifier: n,
		Units:    units,
		Clock:    clk,
		Ctx:      ctx,
	}
	sched.Observe(c.onCycle)
	return c
}

// Register schedules Poll on pollSpec (six-field cron or descriptor).
func (c *Cranker) Register(pollSpec string) error {
	if _, err := c.Cron.AddFunc(pollSpec, func() { c.Poll(c.Ctx) }); err != nil {
		return fmt.Errorf("register poll task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (c *Cranker) Start() {
	c.Cron.Start()
	slog.Info("cranker started")
}

// Stop stops the cron scheduler and waits for a running poll to finish.
func (c *Cranker) Stop() {
	<-c.Cron.Stop().Done()
	slog.Info("cranker stopped")
}

// RunNow polls immediately (manual trigger / RUN_ON_START).
func (c *Cranker) RunNow() {
	c.Poll(c.Ctx)
}

// Poll runs one scheduler pass. Failures are logged and reported, never
// returned: the next tick retries.
func (c *Cranker) Poll(ctx context.Context) *model.CycleRecord {
	rec, _ := c.poll(ctx)
	return rec
}

// Crank runs one scheduler pass on behalf of an operator and returns its
// outcome, including ErrCycleAlreadyInFlight when another pass holds the
// scheduler. The result is logged and reported like a cron poll.
func (c *Cranker) Crank(ctx context.Context) (*model.CycleRecord, error) {
	return c.poll(ctx)
}

func (c *Cranker) poll(ctx context.Context) (*model.CycleRecord, error) {
	rec, err := c.Sched.RunCycle(ctx)
	switch {
	case err == nil && rec == nil:
		slog.Debug("no cycle due")
	case err == nil:
		slog.Info("cycle settled",
			slog.String("cycle_id", rec.ID),
			slog.Int64("scheduled_for", rec.ScheduledFor),
			slog.Uint64("amount_in", rec.AmountIn))
	case errors.Is(err, model.ErrCycleAlreadyInFlight):
		slog.Info("cycle already in flight, skipping poll")
	case errors.Is(err, model.ErrNotInitialized):
		slog.Warn("vault not initialized, nothing to crank")
	default:
		attrs := []any{slog.String("class", model.Classify(err)), slog.Any("error", err)}
		if rec != nil {
			attrs = append(attrs, slog.String("cycle_id", rec.ID), slog.Int64("scheduled_for", rec.ScheduledFor))
		}
		slog.Error("cycle failed", attrs...)
	}
	return rec, err
}

// onCycle archives and reports a finished cycle record.
func (c *Cranker) onCycle(rec *model.CycleRecord) {
	evt := &recorder.CycleEvent{Record: rec}
	v, err := c.Ledger.Snapshot()
	if err == nil {
		evt.Vault = &v
	}
	if err := c.Recorder.RecordCycle(evt); err != nil {
		slog.Error("record cycle failed", slog.String("cycle_id", rec.ID), slog.Any("error", err))
	}

	if rec.Status == model.CycleSettled {
		c.trySend(notifier.FormatCycleReport(rec, evt.Vault, c.Units))
		return
	}
	c.trySend(notifier.FormatCycleFailure(rec))
}

// HandleCommand processes an operator command and returns a reply.
func (c *Cranker) HandleCommand(ctx context.Context, command string) string {
	var name string
	if fields := strings.Fields(command); len(fields) > 0 {
		name = fields[0]
	}
	switch name {
	case "/status":
		return c.status()
	case "/crank":
		rec, err := c.poll(ctx)
		switch {
		case errors.Is(err, model.ErrCycleAlreadyInFlight):
			return "⏳ A cycle is already in flight."
		case err == nil && rec == nil:
			v, verr := c.Ledger.Snapshot()
			if verr != nil {
				return fmt.Sprintf("❌ %v", verr)
			}
			return fmt.Sprintf("Not due. Next execution: %s", v.NextExecution().UTC().Format("2006-01-02 15:04"))
		case rec == nil:
			return "❌ " + html.EscapeString(err.Error())
		default:
			// The cycle report has already been sent.
			return ""
		}
	default:
		return "Commands:\n• /status vault balances and schedule\n• /crank run a due cycle now\n• /help this message"
	}
}

func (c *Cranker) status() string {
	v, err := c.Ledger.Snapshot()
	if err != nil {
		return "❌ " + html.EscapeString(err.Error())
	}
	var b strings.Builder
	b.WriteString(notifier.FormatVaultStatus(&v, c.Units))
	b.WriteString(fmt.Sprintf("Holders: %d\n", len(c.Ledger.Holders())))
	b.WriteString(fmt.Sprintf("Scheduler: %s\n", c.Sched.State(c.Clock.Now())))
	if c.Sched.LastCycleFailed() {
		b.WriteString("Last attempt failed, retrying on the next poll.\n")
	}
	if u := c.Sched.Unresolved(); u != nil && u.Quote != nil {
		b.WriteString(fmt.Sprintf("Awaiting reconciliation: <code>%s</code>\n", html.EscapeString(u.Quote.ID)))
	}
	return b.String()
}

func (c *Cranker) trySend(text string) {
	if c.Notifier == nil {
		return
	}
	if err := c.Notifier.SendWithRetry(c.Ctx, text, 3); err != nil {
		slog.Error("send notification failed", slog.Any("error", err))
	}
}
