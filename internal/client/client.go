// Package client provides a Go SDK for talking to a single node of the
// replicated KV store. It hides HTTP/JSON plumbing behind a typed API;
// all distributed logic (quorum fan-out, read-repair, ring lookups)
// happens server-side, in the node the client dials.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dynamokv/internal/membership"
)

// Client talks to one node, addressed by its base URL. It does not
// implement preference-list or quorum logic itself.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client dialing baseURL (e.g. "http://127.0.0.1:9001").
// timeout protects every call from hanging forever; it defaults to 10s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// VersionDTO mirrors store.Version over the wire.
type VersionDTO struct {
	Value string            `json:"value"`
	VC    map[string]uint64 `json:"vc"`
	TS    time.Time         `json:"ts"`
}

// PingResponse is returned by GET /ping.
type PingResponse struct {
	Status string `json:"status"`
	Node   string `json:"node"`
}

// PutResponse is returned by PUT /put/{key}.
type PutResponse struct {
	Success               bool              `json:"success"`
	RequestedReplicas     []string          `json:"requested_replicas"`
	RespondedToParentRead []string          `json:"responded_to_parent_read"`
	Succeeded             []string          `json:"succeeded"`
	Failed                []string          `json:"failed"`
	UsedVC                map[string]uint64 `json:"used_vc"`
	StoredVersion         VersionDTO        `json:"stored_version"`
}

// GetResponse is returned by GET /get/{key}.
type GetResponse struct {
	ResolvedVersions []VersionDTO `json:"resolved_versions"`
	RespondedNodes   []string     `json:"responded_nodes"`
}

// GetLocalResponse is returned by GET /get_local/{key}.
type GetLocalResponse struct {
	Versions []VersionDTO `json:"versions"`
}

// RepairResult is returned by POST /repair_once/{key}.
type RepairResult struct {
	OK           bool   `json:"ok"`
	Reason       string `json:"reason,omitempty"`
	Target       string `json:"pushed_to,omitempty"`
	LocalBefore  int    `json:"local_before"`
	RemoteBefore int    `json:"remote_before"`
	Merged       int    `json:"merged"`
	Pushed       int    `json:"pushed"`
}

// RingSnapshotResponse is returned by GET /ring_snapshot.
type RingSnapshotResponse struct {
	Node       string     `json:"node"`
	Ring       [][]string `json:"ring"`
	AllNodes   []string   `json:"all_nodes"`
	AliveNodes []string   `json:"alive_nodes"`
}

// Ping checks liveness of the dialed node.
func (c *Client) Ping(ctx context.Context) (*PingResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out PingResponse
	return &out, json.NewDecoder(resp.Body).Decode(&out)
}

// Put issues a coordinator PUT for key=value.
func (c *Client) Put(ctx context.Context, key, value string) (*PutResponse, error) {
	body, _ := json.Marshal(map[string]string{"value": value})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/put/%s", c.baseURL, key), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("put: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out PutResponse
	return &out, json.NewDecoder(resp.Body).Decode(&out)
}

// Get issues a coordinator quorum GET for key. A 503 response (fewer
// than R replicas answered) surfaces as *APIError with Status 503.
func (c *Client) Get(ctx context.Context, key string) (*GetResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/get/%s", c.baseURL, key), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out GetResponse
	return &out, json.NewDecoder(resp.Body).Decode(&out)
}

// ReplicasForKey asks the node which addresses currently own key,
// ignoring liveness (the full preference list).
func (c *Client) ReplicasForKey(ctx context.Context, key string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/replicas_for_key/%s", c.baseURL, key), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replicas_for_key: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out struct {
		Replicas []string `json:"replicas"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Replicas, nil
}

// RepairOnce drives a single one-hop anti-entropy round for key.
func (c *Client) RepairOnce(ctx context.Context, key string) (*RepairResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/repair_once/%s", c.baseURL, key), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("repair_once: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out RepairResult
	return &out, json.NewDecoder(resp.Body).Decode(&out)
}

// SetDelay injects an artificial per-request delay at the node, for
// fault-injection scenarios (spec's "slow node" experiments).
func (c *Client) SetDelay(ctx context.Context, delayMs int) error {
	body, _ := json.Marshal(map[string]int{"delay_ms": delayMs})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/control/delay", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("control/delay: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// ClearDelay removes any delay previously injected via SetDelay.
func (c *Client) ClearDelay(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/control/clear_delay", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("control/clear_delay: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// RingSnapshot returns the dialed node's view of the hash ring and
// membership.
func (c *Client) RingSnapshot(ctx context.Context) (*RingSnapshotResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ring_snapshot", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ring_snapshot: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out RingSnapshotResponse
	return &out, json.NewDecoder(resp.Body).Decode(&out)
}

// Gossip pushes local's membership table to the dialed node and
// returns its merged view. Exposed mainly for tests and manual probing;
// production gossip is driven by the membership.Service's own loop.
func (c *Client) Gossip(ctx context.Context, local membership.Table) (membership.Table, error) {
	body, err := json.Marshal(local)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/gossip", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gossip: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out membership.Table
	return out, json.NewDecoder(resp.Body).Decode(&out)
}

// APIError carries the HTTP status and message returned by a node.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
