package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jefeCoincmd/jefe-coin/internal/syncer"
)

const requestTimeout = 10 * time.Second

// Client talks to the jefed HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

type apiError struct {
	Status int
	Detail string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Detail)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &payload)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var detail struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&detail)
		return &apiError{Status: resp.StatusCode, Detail: detail.Detail}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Ping reports whether the server is reachable.
func (c *Client) Ping(ctx context.Context) bool {
	return c.do(ctx, http.MethodGet, "/health", nil, nil) == nil
}

func (c *Client) Register(ctx context.Context, username, password string) error {
	return c.do(ctx, http.MethodPost, "/register",
		map[string]string{"username": username, "password": password}, nil)
}

// Login authenticates and stores the bearer token on the client.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/login",
		map[string]string{"username": username, "password": password}, &resp); err != nil {
		return err
	}
	c.token = resp.Token
	return nil
}

func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/logout", nil, nil)
	c.token = ""
	return err
}

type Balance struct {
	Username      string  `json:"username"`
	WalletAddress string  `json:"wallet_address"`
	Balance       float64 `json:"balance"`
	TotalMined    float64 `json:"total_mined"`
}

func (c *Client) Balance(ctx context.Context) (*Balance, error) {
	var b Balance
	if err := c.do(ctx, http.MethodGet, "/balance", nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

type JobInfo struct {
	JobID         string   `json:"job_id"`
	Size          int      `json:"size"`
	Difficulty    int      `json:"difficulty"`
	RewardPerUnit float64  `json:"reward_per_unit"`
	BonusPool     float64  `json:"bonus_pool"`
	Unclaimed     []string `json:"unclaimed_challenges"`
	Remaining     int      `json:"remaining"`
}

func (c *Client) Jobs(ctx context.Context) ([]JobInfo, error) {
	var resp struct {
		Jobs []JobInfo `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/jobs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

type ClaimOutcome struct {
	Outcome    string  `json:"outcome"`
	Reward     float64 `json:"reward"`
	NewBalance float64 `json:"new_balance"`
	Remaining  int     `json:"remaining"`
}

// Claim submits a solved challenge. Conflict and invalid-proof responses
// carry an outcome body, so they are returned as values rather than errors.
func (c *Client) Claim(ctx context.Context, jobID, challenge string, nonce int64, digest string) (*ClaimOutcome, error) {
	var out ClaimOutcome
	err := c.do(ctx, http.MethodPost, "/jobs/"+jobID+"/claim", map[string]interface{}{
		"challenge": challenge,
		"nonce":     nonce,
		"digest":    digest,
	}, &out)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusConflict || apiErr.Status == http.StatusBadRequest) {
			return &ClaimOutcome{Outcome: outcomeFromStatus(apiErr)}, nil
		}
		return nil, err
	}
	return &out, nil
}

func outcomeFromStatus(err *apiError) string {
	if err.Status == http.StatusBadRequest {
		return "invalid_proof"
	}
	return "already_claimed"
}

type SyncOutcome struct {
	Message          string  `json:"message"`
	TotalCoinsSynced float64 `json:"total_coins_synced"`
	ValidProofs      int     `json:"valid_proofs"`
	NewBalance       float64 `json:"new_balance"`
}

func (c *Client) Sync(ctx context.Context, proofs []syncer.Proof) (*SyncOutcome, error) {
	var out SyncOutcome
	if err := c.do(ctx, http.MethodPost, "/sync",
		map[string]interface{}{"proofs": proofs}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// localState persists the session and un-synced offline proofs between runs.
type localState struct {
	Username string         `json:"username"`
	Token    string         `json:"token,omitempty"`
	Proofs   []syncer.Proof `json:"offline_proofs"`
}

func statePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jefeminer.json"
	}
	return filepath.Join(home, ".jefeminer.json")
}

func loadState(path string) *localState {
	st := &localState{}
	data, err := os.ReadFile(path)
	if err != nil {
		return st
	}
	if err := json.Unmarshal(data, st); err != nil {
		return &localState{}
	}
	return st
}

func (st *localState) save(path string) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
