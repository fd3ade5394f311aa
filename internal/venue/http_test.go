package venue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"DCAVault/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quoteBody = `{
	"inputMint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	"inAmount": "100000000",
	"outputMint": "So11111111111111111111111111111111111111112",
	"outAmount": "650000000",
	"otherAmountThreshold": "646750000",
	"slippageBps": 50,
	"priceImpactPct": "0.0012",
	"routePlan": [{"percent": 100}]
}`

func TestHTTPVenue_Quote(t *testing.T) {
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"inputMint":   r.URL.Query().Get("inputMint"),
			"amount":      r.URL.Query().Get("amount"),
			"slippageBps": r.URL.Query().Get("slippageBps"),
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(quoteBody))
	}))
	defer server.Close()

	v := NewHTTPVenue(server.URL, server.URL, "admin", "")
	q, err := v.Quote(context.Background(), QuoteRequest{
		InputMint:   "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		OutputMint:  "So11111111111111111111111111111111111111112",
		Amount:      100_000_000,
		SlippageBps: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, "100000000", gotQuery["amount"])
	assert.Equal(t, "50", gotQuery["slippageBps"])
	assert.Equal(t, uint64(100_000_000), q.InAmount)
	assert.Equal(t, uint64(650_000_000), q.OutAmount)
	assert.Equal(t, "6.5", q.Rate.String())
	assert.Equal(t, "0.0012", q.PriceImpact.String())
	assert.NotEmpty(t, q.ID)
	assert.JSONEq(t, quoteBody, string(q.Raw))
}

func TestHTTPVenue_QuoteNoRoute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Could not find any route","errorCode":"COULD_NOT_FIND_ANY_ROUTE"}`))
	}))
	defer server.Close()

	v := NewHTTPVenue(server.URL, server.URL, "admin", "")
	_, err := v.Quote(context.Background(), QuoteRequest{Amount: 1})
	assert.ErrorIs(t, err, model.ErrNoRoute)
}

func TestHTTPVenue_QuoteServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	v := NewHTTPVenue(server.URL, server.URL, "admin", "")
	_, err := v.Quote(context.Background(), QuoteRequest{Amount: 1})
	var ve *model.VenueError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "quote", ve.Op)
	assert.False(t, errors.Is(err, model.ErrNoRoute))
}

func TestHTTPVenue_Submit(t *testing.T) {
	var req relaySwapRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Write([]byte(`{"quoteId":"q1","signature":"sig","status":"confirmed","outAmount":"649000000"}`))
	}))
	defer server.Close()

	v := NewHTTPVenue(server.URL, server.URL, "admin", "")
	s, err := v.Submit(context.Background(), &model.Quote{ID: "q1", MinimumOutput: 646_750_000, Raw: json.RawMessage(quoteBody)})
	require.NoError(t, err)
	assert.True(t, s.Confirmed)
	assert.Equal(t, uint64(649_000_000), s.RealizedOutput)
	assert.Equal(t, "646750000", req.MinimumOutput)
	assert.Equal(t, "admin", req.UserPublicKey)
}

func TestHTTPVenue_SubmitGatewayErrorIsAmbiguous(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	v := NewHTTPVenue(server.URL, server.URL, "admin", "")
	_, err := v.Submit(context.Background(), &model.Quote{ID: "q1"})
	assert.ErrorIs(t, err, ErrAmbiguous)
}

func TestHTTPVenue_SubmitRejectedIsNotAmbiguous(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	v := NewHTTPVenue(server.URL, server.URL, "admin", "")
	_, err := v.Submit(context.Background(), &model.Quote{ID: "q1"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAmbiguous))
}

func TestHTTPVenue_Lookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/swap/landed":
			w.Write([]byte(`{"quoteId":"landed","signature":"sig","status":"confirmed","outAmount":"42"}`))
		case "/swap/pending":
			w.Write([]byte(`{"quoteId":"pending","status":"pending"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()
	v := NewHTTPVenue(server.URL, server.URL, "admin", "")

	s, err := v.Lookup(context.Background(), "landed")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, uint64(42), s.RealizedOutput)

	s, err = v.Lookup(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = v.Lookup(context.Background(), "pending")
	assert.Error(t, err)
}

func TestHTTPVenue_SubmitPendingIsAmbiguous(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quoteId":"q1","status":"pending"}`))
	}))
	defer server.Close()

	v := NewHTTPVenue(server.URL, server.URL, "admin", "")
	_, err := v.Submit(context.Background(), &model.Quote{ID: "q1"})
	assert.ErrorIs(t, err, ErrAmbiguous)
}
