// Package adminapi exposes the running cranker's ledger to the operator CLI
// over a local HTTP API, so the daemon stays the ledger's only writer.
package adminapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"DCAVault/internal/clock"
	"DCAVault/internal/ledger"
	"DCAVault/internal/model"
	"DCAVault/internal/recorder"
	"DCAVault/internal/scheduler"
)

// Cranker runs one scheduler pass on demand. *cranker.Cranker implements it.
type Cranker interface {
	Crank(ctx context.Context) (*model.CycleRecord, error)
}

// HistoryReader lists archived cycles. *recorder.SQLiteRecorder implements it.
type HistoryReader interface {
	RecentCycles(limit int) ([]recorder.CycleRow, error)
}

type Config struct {
	Ledger   *ledger.Ledger
	Sched    *scheduler.Scheduler
	Cranker  Cranker
	Recorder recorder.Recorder
	History  HistoryReader // nil disables /v1/cycles
	Clock    clock.Clock
	Token    string // bearer token; empty disables auth
}

type Server struct {
	cfg Config
	mux *http.ServeMux
}

func New(cfg Config) *Server {
	if cfg.Recorder == nil {
		cfg.Recorder = recorder.NewNoopRecorder()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /healthz", s.healthz)
	s.mux.HandleFunc("GET /v1/vault", s.wrap(s.handleVault))
	s.mux.HandleFunc("GET /v1/holders", s.wrap(s.handleHolders))
	s.mux.HandleFunc("GET /v1/holders/{id}", s.wrap(s.handleHolder))
	s.mux.HandleFunc("GET /v1/cycles", s.wrap(s.handleCycles))
	s.mux.HandleFunc("POST /v1/initialize", s.wrap(s.handleInitialize))
	s.mux.HandleFunc("POST /v1/deposits", s.wrap(s.handleDeposit))
	s.mux.HandleFunc("POST /v1/withdrawals", s.wrap(s.handleWithdrawal))
	s.mux.HandleFunc("POST /v1/crank", s.wrap(s.handleCrank))
	s.mux.HandleFunc("POST /v1/fees/collect", s.wrap(s.handleCollectFees))
	s.mux.HandleFunc("PUT /v1/schedule", s.wrap(s.handleSchedule))
	return s
}

func (s *Server) Mux() *http.ServeMux { return s.mux }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	slog.Info("admin api listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing or invalid token"})
				return
			}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		next(w, r)
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVault(w http.ResponseWriter, _ *http.Request) {
	v, err := s.cfg.Ledger.Snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	out := VaultResponse{Vault: v, Holders: len(s.cfg.Ledger.Holders())}
	if s.cfg.Sched != nil {
		out.State = string(s.cfg.Sched.State(s.cfg.Clock.Now()))
		if u := s.cfg.Sched.Unresolved(); u != nil && u.Quote != nil {
			out.UnresolvedQuote = u.Quote.ID
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHolders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Ledger.Holders())
}

func (s *Server) handleHolder(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Ledger.Holder(r.PathValue("id")))
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "history is not recorded"})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}
	rows, err := s.cfg.History.RecentCycles(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := s.cfg.Ledger.Initialize(req.Admin, req.StableMint, req.TargetMint, req.SharesMint, req.PeriodSeconds, req.FeeBps)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("vault initialized", slog.String("admin", v.Admin), slog.Int64("next_execution", v.NextExecutionTime))
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.cfg.Ledger.RecordDeposit(req.Holder, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	s.recordHolder(recorder.DepositEvent(res, s.totalShares(), s.cfg.Clock.Now()))
	slog.Info("deposit recorded", slog.String("holder", res.Holder),
		slog.Uint64("amount", res.Amount), slog.Uint64("shares_minted", res.SharesMinted))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req WithdrawalRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.cfg.Ledger.RecordWithdrawal(req.Holder, req.Shares)
	if err != nil {
		writeError(w, err)
		return
	}
	s.recordHolder(recorder.WithdrawalEvent(res, s.totalShares(), s.cfg.Clock.Now()))
	slog.Info("withdrawal recorded", slog.String("holder", res.Holder),
		slog.Uint64("shares_burned", res.SharesBurned),
		slog.Uint64("stable_out", res.StableOut), slog.Uint64("target_out", res.TargetOut))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCrank(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Cranker == nil {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "cranking is disabled"})
		return
	}
	// A swap must not be cut short by the caller hanging up.
	rec, err := s.cfg.Cranker.Crank(context.WithoutCancel(r.Context()))
	if rec == nil {
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, CrankResponse{Ran: false})
		return
	}
	out := CrankResponse{
		Ran:          true,
		CycleID:      rec.ID,
		ScheduledFor: rec.ScheduledFor,
		Status:       string(rec.Status),
		AmountIn:     rec.AmountIn,
		Fee:          rec.Fee,
	}
	if rec.Settlement != nil {
		out.Received = rec.Settlement.RealizedOutput
		out.Signature = rec.Settlement.Signature
	}
	if rec.Err != nil {
		out.Error = rec.Err.Error()
		out.Class = model.Classify(rec.Err)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCollectFees(w http.ResponseWriter, r *http.Request) {
	var req CallerRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := s.cfg.Ledger.CollectFees(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.cfg.Recorder.RecordFeeCollection(&recorder.FeeCollection{Admin: req.Caller, Amount: amount, At: s.cfg.Clock.Now()}); err != nil {
		slog.Error("record fee collection failed", slog.Any("error", err))
	}
	writeJSON(w, http.StatusOK, FeesResponse{Collected: amount})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.cfg.Ledger.UpdateSchedule(req.Caller, req.PeriodSeconds, req.FeeBps); err != nil {
		writeError(w, err)
		return
	}
	s.handleVault(w, r)
}

func (s *Server) totalShares() uint64 {
	v, err := s.cfg.Ledger.Snapshot()
	if err != nil {
		return 0
	}
	return v.TotalShares
}

func (s *Server) recordHolder(evt *recorder.HolderEvent) {
	if err := s.cfg.Recorder.RecordHolderEvent(evt); err != nil {
		slog.Error("record holder event failed", slog.String("holder", evt.Holder), slog.Any("error", err))
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotInitialized), errors.Is(err, model.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, model.ErrConfig):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrAccounting):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrConcurrency):
		return http.StatusConflict
	case errors.Is(err, model.ErrVenue):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("admin api internal error", slog.Any("error", err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Class: model.Classify(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
