package client

// admin_client.go = read-only HTTP client for the sync server's admin API.

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"possync/internal/protocol"
)

type AdminClient struct {
	baseURL    string
	httpClient *http.Client
}

// SessionInfo mirrors one entry of GET /sessions.
type SessionInfo struct {
	ID            string           `json:"id"`
	Addr          string           `json:"addr"`
	Position      protocol.Vector3 `json:"position"`
	LastHeartbeat time.Time        `json:"last_heartbeat"`
	ConnectedAt   time.Time        `json:"connected_at"`
}

type SessionsResponse struct {
	Count    int           `json:"count"`
	Sessions []SessionInfo `json:"sessions"`
}

type MetricsResponse struct {
	Sessions      int              `json:"sessions"`
	Observers     int              `json:"observers"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Counters      map[string]int64 `json:"counters"`
}

// NewAdminClient accepts "host:port" or a full URL.
func NewAdminClient(addr string) *AdminClient {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &AdminClient{
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *AdminClient) ListSessions(ctx context.Context) (*SessionsResponse, error) {
	var out SessionsResponse
	if err := c.get(ctx, "/sessions", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *AdminClient) Metrics(ctx context.Context) (*MetricsResponse, error) {
	var out MetricsResponse
	if err := c.get(ctx, "/metrics", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *AdminClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach admin API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin API returned %s for %s", resp.Status, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
