package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"DCAVault/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HTTPVenue quotes against a Jupiter-style aggregator API and submits through
// a signing relay. Transaction signing happens in the relay; this process
// never holds keys.
type HTTPVenue struct {
	QuoteURL      string // e.g. https://quote-api.jup.ag/v6
	RelayURL      string
	UserPublicKey string
	Client        *http.Client
}

// NewHTTPVenue creates a venue client with optional proxy support.
func NewHTTPVenue(quoteURL, relayURL, userPublicKey, proxyURL string) *HTTPVenue {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &HTTPVenue{
		QuoteURL:      quoteURL,
		RelayURL:      relayURL,
		UserPublicKey: userPublicKey,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

func (v *HTTPVenue) Name() string { return "jupiter" }

// aggregatorQuote is the subset of the aggregator quote response we rely on.
type aggregatorQuote struct {
	InputMint            string            `json:"inputMint"`
	InAmount             string            `json:"inAmount"`
	OutputMint           string            `json:"outputMint"`
	OutAmount            string            `json:"outAmount"`
	OtherAmountThreshold string            `json:"otherAmountThreshold"`
	SlippageBps          int               `json:"slippageBps"`
	PriceImpactPct       string            `json:"priceImpactPct"`
	RoutePlan            []json.RawMessage `json:"routePlan"`
}

type aggregatorError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

func (v *HTTPVenue) Quote(ctx context.Context, req QuoteRequest) (*model.Quote, error) {
	params := url.Values{}
	params.Set("inputMint", req.InputMint)
	params.Set("outputMint", req.OutputMint)
	params.Set("amount", strconv.FormatUint(req.Amount, 10))
	params.Set("slippageBps", strconv.Itoa(int(req.SlippageBps)))
	endpoint := v.QuoteURL + "/quote?" + params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build quote request: %w", err)
	}
	resp, err := v.Client.Do(httpReq)
	if err != nil {
		return nil, model.NewVenueError("quote", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewVenueError("quote", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr aggregatorError
		if json.Unmarshal(body, &apiErr) == nil && isNoRoute(apiErr.ErrorCode) {
			return nil, fmt.Errorf("%w: %s", model.ErrNoRoute, apiErr.Error)
		}
		return nil, model.NewVenueError("quote", fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)))
	}

	var aq aggregatorQuote
	if err := json.Unmarshal(body, &aq); err != nil {
		return nil, model.NewVenueError("quote", fmt.Errorf("decode quote: %w", err))
	}
	if len(aq.RoutePlan) == 0 {
		return nil, fmt.Errorf("%w: empty route plan", model.ErrNoRoute)
	}

	inAmount, err := strconv.ParseUint(aq.InAmount, 10, 64)
	if err != nil {
		return nil, model.NewVenueError("quote", fmt.Errorf("parse inAmount %q: %w", aq.InAmount, err))
	}
	outAmount, err := strconv.ParseUint(aq.OutAmount, 10, 64)
	if err != nil {
		return nil, model.NewVenueError("quote", fmt.Errorf("parse outAmount %q: %w", aq.OutAmount, err))
	}
	impact := decimal.Zero
	if aq.PriceImpactPct != "" {
		if d, err := decimal.NewFromString(aq.PriceImpactPct); err == nil {
			impact = d
		}
	}

	q := &model.Quote{
		ID:          uuid.NewString(),
		Venue:       v.Name(),
		InputMint:   aq.InputMint,
		OutputMint:  aq.OutputMint,
		InAmount:    inAmount,
		OutAmount:   outAmount,
		SlippageBps: uint16(aq.SlippageBps),
		PriceImpact: impact,
		Raw:         json.RawMessage(body),
	}
	if inAmount > 0 {
		q.Rate = decimal.RequireFromString(aq.OutAmount).Div(decimal.RequireFromString(aq.InAmount))
	}
	return q, nil
}

func isNoRoute(code string) bool {
	switch code {
	case "COULD_NOT_FIND_ANY_ROUTE", "NO_ROUTES_FOUND", "TOKEN_NOT_TRADABLE":
		return true
	}
	return false
}

type relaySwapRequest struct {
	QuoteID          string          `json:"quoteId"`
	QuoteResponse    json.RawMessage `json:"quoteResponse"`
	UserPublicKey    string          `json:"userPublicKey"`
	MinimumOutput    string          `json:"minimumOutput"`
	WrapAndUnwrapSol bool            `json:"wrapAndUnwrapSol"`
}

type relaySwapResponse struct {
	QuoteID   string `json:"quoteId"`
	Signature string `json:"signature"`
	Status    string `json:"status"` // "confirmed", "failed", "pending"
	OutAmount string `json:"outAmount"`
}

func (v *HTTPVenue) Submit(ctx context.Context, q *model.Quote) (*model.Settlement, error) {
	payload, err := json.Marshal(relaySwapRequest{
		QuoteID:          q.ID,
		QuoteResponse:    q.Raw,
		UserPublicKey:    v.UserPublicKey,
		MinimumOutput:    strconv.FormatUint(q.MinimumOutput, 10),
		WrapAndUnwrapSol: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal swap request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.RelayURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build swap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.Client.Do(httpReq)
	if err != nil {
		if notSent(err) {
			return nil, model.NewVenueError("submit", err)
		}
		return nil, &model.VenueError{Op: "submit", Err: fmt.Errorf("%w: %v", ErrAmbiguous, err), Retriable: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &model.VenueError{Op: "submit", Err: fmt.Errorf("%w: read response: %v", ErrAmbiguous, err), Retriable: true}
	}
	switch {
	case resp.StatusCode >= 500:
		return nil, &model.VenueError{Op: "submit", Err: fmt.Errorf("%w: status %d", ErrAmbiguous, resp.StatusCode), Retriable: true}
	case resp.StatusCode != http.StatusOK:
		return nil, model.NewVenueError("submit", fmt.Errorf("rejected: status %d: %s", resp.StatusCode, truncate(body)))
	}

	var sr relaySwapResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, &model.VenueError{Op: "submit", Err: fmt.Errorf("%w: decode response: %v", ErrAmbiguous, err), Retriable: true}
	}
	if sr.Status == "pending" {
		return nil, &model.VenueError{Op: "submit", Err: fmt.Errorf("%w: relay reports swap pending", ErrAmbiguous), Retriable: true}
	}
	return sr.settlement(q.ID)
}

func (v *HTTPVenue) Lookup(ctx context.Context, quoteID string) (*model.Settlement, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, v.RelayURL+"/swap/"+url.PathEscape(quoteID), nil)
	if err != nil {
		return nil, fmt.Errorf("build lookup request: %w", err)
	}
	resp, err := v.Client.Do(httpReq)
	if err != nil {
		return nil, model.NewVenueError("lookup", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewVenueError("lookup", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, model.NewVenueError("lookup", fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)))
	}
	var sr relaySwapResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, model.NewVenueError("lookup", fmt.Errorf("decode response: %w", err))
	}
	if sr.Status == "pending" {
		return nil, model.NewVenueError("lookup", errors.New("swap still pending"))
	}
	s, err := sr.settlement(quoteID)
	if err != nil {
		return nil, err
	}
	if !s.Confirmed {
		return nil, nil
	}
	return s, nil
}

func (sr relaySwapResponse) settlement(quoteID string) (*model.Settlement, error) {
	s := &model.Settlement{
		QuoteID:   quoteID,
		Signature: sr.Signature,
		Confirmed: sr.Status == "confirmed",
		SettledAt: time.Now(),
	}
	switch {
	case s.Confirmed:
		out, err := strconv.ParseUint(sr.OutAmount, 10, 64)
		if err != nil {
			return nil, &model.VenueError{Op: "submit", Err: fmt.Errorf("%w: parse outAmount %q: %v", ErrAmbiguous, sr.OutAmount, err), Retriable: true}
		}
		s.RealizedOutput = out
	case sr.OutAmount != "":
		// A reverted swap may report what the route would have delivered.
		if out, err := strconv.ParseUint(sr.OutAmount, 10, 64); err == nil {
			s.RealizedOutput = out
		}
	}
	return s, nil
}

// notSent reports whether err happened before the request left this host.
func notSent(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func truncate(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
