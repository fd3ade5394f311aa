package ledger

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"DCAVault/internal/clock"
	"DCAVault/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

func newTestLedger(t *testing.T) (*Ledger, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(t0)
	l, err := New(NewMemoryStore(), clk)
	require.NoError(t, err)
	_, err = l.Initialize("admin", "USDC", "SOL", "SHARES", 86400, 30)
	require.NoError(t, err)
	return l, clk
}

// seed forces balances for scenario tests.
func seed(t *testing.T, l *Ledger, stable, target uint64, holders map[string]uint64) {
	t.Helper()
	require.NoError(t, l.mutate(func(st *State, _ time.Time) error {
		st.Vault.StableBalance = stable
		st.Vault.TargetBalance = target
		st.Vault.TotalShares = 0
		for id, s := range holders {
			st.Holders[id] = &model.Holder{ID: id, Shares: s}
			st.Vault.TotalShares += s
		}
		return nil
	}))
}

func totalHolderShares(l *Ledger) uint64 {
	var sum uint64
	for _, h := range l.Holders() {
		sum += h.Shares
	}
	return sum
}

func TestInitialize(t *testing.T) {
	l, _ := newTestLedger(t)
	v, err := l.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, t0.Unix()+86400, v.NextExecutionTime)
	assert.Equal(t, uint16(30), v.FeeBps)

	_, err = l.Initialize("admin", "USDC", "SOL", "SHARES", 86400, 30)
	assert.ErrorIs(t, err, model.ErrAlreadyInitialized)
}

func TestInitialize_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		period uint64
		fee    uint16
	}{
		{"zero period", 0, 10},
		{"fee above 100%", 60, 10001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(NewMemoryStore(), clock.NewFake(t0))
			require.NoError(t, err)
			_, err = l.Initialize("admin", "USDC", "SOL", "SHARES", tt.period, tt.fee)
			assert.ErrorIs(t, err, model.ErrInvalidConfig)
			assert.ErrorIs(t, err, model.ErrConfig)
		})
	}
}

func TestOperationsRequireInitializedVault(t *testing.T) {
	l, err := New(NewMemoryStore(), clock.NewFake(t0))
	require.NoError(t, err)

	_, err = l.RecordDeposit("alice", 100)
	assert.ErrorIs(t, err, model.ErrNotInitialized)
	_, err = l.Snapshot()
	assert.ErrorIs(t, err, model.ErrNotInitialized)
	assert.False(t, l.IsDue(t0.Add(365*24*time.Hour)))
}

func TestDeposit_BootstrapMintsOneToOne(t *testing.T) {
	l, _ := newTestLedger(t)
	res, err := l.RecordDeposit("alice", 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), res.SharesMinted)

	v, _ := l.Snapshot()
	assert.Equal(t, uint64(1000), v.TotalShares)
	assert.Equal(t, uint64(1000), v.StableBalance)
	assert.Equal(t, uint64(1000), l.Holder("alice").Shares)
}

func TestDeposit_ZeroAmount(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.RecordDeposit("alice", 0)
	assert.ErrorIs(t, err, model.ErrInvalidAmount)

	_, err = l.RecordDeposit("", 10)
	assert.ErrorIs(t, err, model.ErrInvalidHolder)
}

func TestWithdrawal_MixedPool(t *testing.T) {
	l, _ := newTestLedger(t)
	seed(t, l, 500, 500, map[string]uint64{"alice": 600, "bob": 400})

	res, err := l.RecordWithdrawal("bob", 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), res.StableOut)
	assert.Equal(t, uint64(50), res.TargetOut)

	v, _ := l.Snapshot()
	assert.Equal(t, uint64(450), v.StableBalance)
	assert.Equal(t, uint64(450), v.TargetBalance)
	assert.Equal(t, uint64(900), v.TotalShares)
	assert.Equal(t, uint64(300), l.Holder("bob").Shares)
}

func TestWithdrawal_InsufficientShares(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.RecordDeposit("alice", 100)
	require.NoError(t, err)

	_, err = l.RecordWithdrawal("alice", 101)
	assert.ErrorIs(t, err, model.ErrInsufficientShares)
	_, err = l.RecordWithdrawal("mallory", 1)
	assert.ErrorIs(t, err, model.ErrInsufficientShares)

	v, _ := l.Snapshot()
	assert.Equal(t, uint64(100), v.StableBalance, "rejected withdrawal must not change balances")
}

func TestWithdrawal_FullExitClosesHolder(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.RecordDeposit("alice", 1000)
	require.NoError(t, err)

	res, err := l.RecordWithdrawal("alice", 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), res.StableOut)
	assert.Empty(t, l.Holders())

	v, _ := l.Snapshot()
	assert.Zero(t, v.TotalShares)
	assert.Zero(t, v.StableBalance)
}

func TestRoundTrip_NeverReturnsMoreThanDeposited(t *testing.T) {
	l, _ := newTestLedger(t)
	seed(t, l, 7777, 3333, map[string]uint64{"alice": 10_001})

	res, err := l.RecordDeposit("bob", 999)
	require.NoError(t, err)
	out, err := l.RecordWithdrawal("bob", res.SharesMinted)
	require.NoError(t, err)
	assert.LessOrEqual(t, out.StableOut+out.TargetOut, uint64(999))
}

func TestShareInvariant_RandomSequence(t *testing.T) {
	l, _ := newTestLedger(t)
	holders := []string{"a", "b", "c"}
	for i := 0; i < 200; i++ {
		h := holders[i%len(holders)]
		if i%3 == 2 {
			held := l.Holder(h).Shares
			if held > 1 {
				_, err := l.RecordWithdrawal(h, held/2)
				require.NoError(t, err)
			}
		} else {
			_, err := l.RecordDeposit(h, uint64(100+i*13))
			require.NoError(t, err)
		}
		if i%10 == 0 {
			v, _ := l.Snapshot()
			require.NoError(t, l.ApplyConversion(v.StableBalance/10, v.StableBalance/12, 1))
		}
		v, _ := l.Snapshot()
		require.Equal(t, v.TotalShares, totalHolderShares(l), "step %d", i)
	}
}

func TestConcurrentDepositsSerialize(t *testing.T) {
	l, _ := newTestLedger(t)

	var wg sync.WaitGroup
	for i, amt := range []uint64{100, 200} {
		wg.Add(1)
		go func(holder string, amount uint64) {
			defer wg.Done()
			_, err := l.RecordDeposit(holder, amount)
			assert.NoError(t, err)
		}(fmt.Sprintf("h%d", i), amt)
	}
	wg.Wait()

	v, _ := l.Snapshot()
	assert.Equal(t, uint64(300), v.TotalShares)
	assert.Equal(t, uint64(300), v.StableBalance)
	assert.Equal(t, uint64(300), totalHolderShares(l))
}

func TestConcurrentMixedOperationsKeepInvariant(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.RecordDeposit("seed", 1_000_000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("user-%d", i)
			res, err := l.RecordDeposit(id, uint64(1000+i))
			if !assert.NoError(t, err) {
				return
			}
			_, err = l.RecordWithdrawal(id, res.SharesMinted/2)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	v, _ := l.Snapshot()
	assert.Equal(t, v.TotalShares, totalHolderShares(l))
}

func TestApplyConversion_Guard(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.RecordDeposit("alice", 1000)
	require.NoError(t, err)

	err = l.ApplyConversion(990, 5, 11)
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	v, _ := l.Snapshot()
	assert.Equal(t, uint64(1000), v.StableBalance)
	assert.Zero(t, v.TargetBalance)

	require.NoError(t, l.ApplyConversion(990, 5, 10))
	v, _ = l.Snapshot()
	assert.Zero(t, v.StableBalance)
	assert.Equal(t, uint64(5), v.TargetBalance)
	assert.Equal(t, uint64(10), v.FeesAccrued)
}

func TestSettle_AdvancesFromScheduledTime(t *testing.T) {
	l, clk := newTestLedger(t)
	_, err := l.RecordDeposit("alice", 1000)
	require.NoError(t, err)

	v, _ := l.Snapshot()
	scheduled := v.NextExecutionTime
	clk.Set(time.Unix(scheduled, 0).Add(3 * time.Hour)) // late cranker

	v, err = l.Settle(scheduled, 100, 7, 1)
	require.NoError(t, err)
	assert.Equal(t, scheduled+86400, v.NextExecutionTime)
	assert.Equal(t, uint64(899), v.StableBalance)
	assert.Equal(t, uint64(7), v.TargetBalance)
	assert.Equal(t, uint64(1), v.CyclesExecuted)
}

func TestSettle_FailureLeavesScheduleUntouched(t *testing.T) {
	l, _ := newTestLedger(t)
	before, _ := l.Snapshot()

	_, err := l.Settle(before.NextExecutionTime, 1, 1, 0)
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	after, _ := l.Snapshot()
	assert.Equal(t, before.NextExecutionTime, after.NextExecutionTime)
}

type failingStore struct {
	*MemoryStore
	fail bool
}

func (f *failingStore) Save(st *State) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.MemoryStore.Save(st)
}

func TestSettle_StoreFailureIsAllOrNothing(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore()}
	l, err := New(store, clock.NewFake(t0))
	require.NoError(t, err)
	_, err = l.Initialize("admin", "USDC", "SOL", "SHARES", 60, 0)
	require.NoError(t, err)
	_, err = l.RecordDeposit("alice", 1000)
	require.NoError(t, err)
	before, _ := l.Snapshot()

	store.fail = true
	_, err = l.Settle(before.NextExecutionTime, 500, 40, 0)
	require.Error(t, err)

	after, _ := l.Snapshot()
	assert.Equal(t, before, after)

	reloaded, err := New(store.MemoryStore, clock.NewFake(t0))
	require.NoError(t, err)
	persisted, _ := reloaded.Snapshot()
	assert.Equal(t, before.StableBalance, persisted.StableBalance)
	assert.Equal(t, before.NextExecutionTime, persisted.NextExecutionTime)
}

func TestFileStore_PersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "vault.json")
	l, err := New(NewFileStore(path), clock.NewFake(t0))
	require.NoError(t, err)
	_, err = l.Initialize("admin", "USDC", "SOL", "SHARES", 3600, 25)
	require.NoError(t, err)
	_, err = l.RecordDeposit("alice", 5000)
	require.NoError(t, err)

	reopened, err := New(NewFileStore(path), clock.NewFake(t0))
	require.NoError(t, err)
	v, err := reopened.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), v.StableBalance)
	assert.Equal(t, uint64(5000), reopened.Holder("alice").Shares)

	_, err = reopened.Initialize("admin", "USDC", "SOL", "SHARES", 3600, 25)
	assert.ErrorIs(t, err, model.ErrAlreadyInitialized)
}

func TestAdminOperations(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.RecordDeposit("alice", 10_000)
	require.NoError(t, err)
	require.NoError(t, l.ApplyConversion(1000, 10, 3))

	_, err = l.CollectFees("alice")
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	fees, err := l.CollectFees("admin")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), fees)

	assert.ErrorIs(t, l.UpdateSchedule("alice", 60, 0), model.ErrUnauthorized)
	assert.ErrorIs(t, l.UpdateSchedule("admin", 0, 0), model.ErrInvalidConfig)
	require.NoError(t, l.UpdateSchedule("admin", 3600, 100))

	v, _ := l.Snapshot()
	assert.Equal(t, uint64(3600), v.PeriodSeconds)
	assert.Equal(t, uint16(100), v.FeeBps)
}
