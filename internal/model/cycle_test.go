package model

import (
	"errors"
	"testing"
	"time"
)

func TestCycleRecord_Transitions(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rec := NewCycleRecord(now.Unix(), now)
	if rec.Status != CyclePending || rec.ID == "" {
		t.Fatalf("unexpected new record: %+v", rec)
	}

	for _, next := range []CycleStatus{CycleQuoted, CycleSubmitted, CycleSettled} {
		if err := rec.Transition(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}

	if err := rec.Transition(CycleQuoted); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition from terminal state, got %v", err)
	}
}

func TestCycleRecord_FailKeepsTerminal(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rec := NewCycleRecord(now.Unix(), now)
	rec.Fail(ErrNoRoute, now)
	if rec.Status != CycleFailed || !errors.Is(rec.Err, ErrNoRoute) {
		t.Fatalf("unexpected record after Fail: %+v", rec)
	}
}

func TestQuote_Expired(t *testing.T) {
	exp := time.Unix(1000, 0)
	q := &Quote{Expiry: exp}
	if q.Expired(exp.Add(-time.Second)) {
		t.Error("quote should be valid before expiry")
	}
	if !q.Expired(exp) {
		t.Error("quote should be expired at expiry")
	}
}
