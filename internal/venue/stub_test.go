package venue

import (
	"context"
	"testing"

	"DCAVault/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStub_QuoteSubmitLookup(t *testing.T) {
	s := NewStub(3, 2)
	ctx := context.Background()

	q, err := s.Quote(ctx, QuoteRequest{InputMint: "USDC", OutputMint: "SOL", Amount: 101})
	require.NoError(t, err)
	assert.Equal(t, uint64(151), q.OutAmount)
	assert.Equal(t, "1.5", q.Rate.String())

	st, err := s.Submit(ctx, q)
	require.NoError(t, err)
	assert.True(t, st.Confirmed)
	assert.Equal(t, uint64(151), st.RealizedOutput)

	found, err := s.Lookup(ctx, q.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, st.Signature, found.Signature)
}

func TestStub_NoRouteForDust(t *testing.T) {
	s := NewStub(1, 1000)
	_, err := s.Quote(context.Background(), QuoteRequest{Amount: 999})
	assert.ErrorIs(t, err, model.ErrNoRoute)
}

func TestStub_RevertsBelowMinimum(t *testing.T) {
	s := NewStub(1, 1)
	s.Realized = 90
	q, err := s.Quote(context.Background(), QuoteRequest{Amount: 100})
	require.NoError(t, err)
	q.MinimumOutput = 95

	st, err := s.Submit(context.Background(), q)
	require.NoError(t, err)
	assert.False(t, st.Confirmed)

	found, err := s.Lookup(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}
