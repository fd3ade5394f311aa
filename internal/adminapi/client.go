package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"DCAVault/internal/model"
	"DCAVault/internal/recorder"
)

// Client calls a running cranker's admin API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 90 * time.Second},
	}
}

// APIError is a non-2xx response from the admin API.
type APIError struct {
	Status int
	Msg    string
	Class  string
}

func (e *APIError) Error() string {
	if e.Class != "" {
		return fmt.Sprintf("admin api %d [%s]: %s", e.Status, e.Class, e.Msg)
	}
	return fmt.Sprintf("admin api %d: %s", e.Status, e.Msg)
}

// Is matches the error category the server reported.
func (e *APIError) Is(target error) bool {
	switch e.Class {
	case "config":
		return target == model.ErrConfig
	case "accounting":
		return target == model.ErrAccounting
	case "venue":
		return target == model.ErrVenue
	case "concurrency":
		return target == model.ErrConcurrency
	}
	return false
}

func (c *Client) Vault(ctx context.Context) (*VaultResponse, error) {
	var out VaultResponse
	if err := c.do(ctx, http.MethodGet, "/v1/vault", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Holders(ctx context.Context) ([]model.Holder, error) {
	var out []model.Holder
	if err := c.do(ctx, http.MethodGet, "/v1/holders", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Holder(ctx context.Context, id string) (*model.Holder, error) {
	var out model.Holder
	if err := c.do(ctx, http.MethodGet, "/v1/holders/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Cycles(ctx context.Context, limit int) ([]recorder.CycleRow, error) {
	var out []recorder.CycleRow
	if err := c.do(ctx, http.MethodGet, "/v1/cycles?limit="+strconv.Itoa(limit), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*model.Vault, error) {
	var out model.Vault
	if err := c.do(ctx, http.MethodPost, "/v1/initialize", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Deposit(ctx context.Context, holder string, amount uint64) (*model.DepositResult, error) {
	var out model.DepositResult
	if err := c.do(ctx, http.MethodPost, "/v1/deposits", DepositRequest{Holder: holder, Amount: amount}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Withdraw(ctx context.Context, holder string, shares uint64) (*model.WithdrawalResult, error) {
	var out model.WithdrawalResult
	if err := c.do(ctx, http.MethodPost, "/v1/withdrawals", WithdrawalRequest{Holder: holder, Shares: shares}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Crank(ctx context.Context) (*CrankResponse, error) {
	var out CrankResponse
	if err := c.do(ctx, http.MethodPost, "/v1/crank", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CollectFees(ctx context.Context, caller string) (uint64, error) {
	var out FeesResponse
	err := c.do(ctx, http.MethodPost, "/v1/fees/collect", CallerRequest{Caller: caller}, &out)
	return out.Collected, err
}

func (c *Client) UpdateSchedule(ctx context.Context, req ScheduleRequest) (*VaultResponse, error) {
	var out VaultResponse
	if err := c.do(ctx, http.MethodPut, "/v1/schedule", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er ErrorResponse
		if json.Unmarshal(data, &er) != nil || er.Error == "" {
			er.Error = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Msg: er.Error, Class: er.Class}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
