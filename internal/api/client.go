// internal/api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every request that carries no earlier deadline.
const DefaultTimeout = 30 * time.Second

// CredentialSource supplies the bearer token for each request.
type CredentialSource interface {
	Token() (string, bool)
}

// StaticToken is a CredentialSource backed by a fixed token.
type StaticToken string

// Token returns the token and whether it is non-empty.
func (s StaticToken) Token() (string, bool) {
	return string(s), s != ""
}

// Endpoints are the role-specific request paths. The literal "{deviceId}"
// is replaced with the escaped device id.
type Endpoints struct {
	LivePath    string
	HistoryPath string
}

// DefaultEndpoints are used when the configuration names none.
var DefaultEndpoints = Endpoints{
	LivePath:    "/api/devices/{deviceId}/live",
	HistoryPath: "/api/devices/{deviceId}/route-history",
}

// Client talks to the fleet telemetry server.
type Client struct {
	baseURL    string
	creds      CredentialSource
	endpoints  Endpoints
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL string, creds CredentialSource, endpoints Endpoints) *Client {
	if endpoints.LivePath == "" {
		endpoints.LivePath = DefaultEndpoints.LivePath
	}
	if endpoints.HistoryPath == "" {
		endpoints.HistoryPath = DefaultEndpoints.HistoryPath
	}
	if creds == nil {
		creds = StaticToken("")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
	}
}

// HasCredentials reports whether a token is currently available.
func (c *Client) HasCredentials() bool {
	_, ok := c.creds.Token()
	return ok
}

// Healthcheck checks if the telemetry server is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck: %w", &StatusError{Code: resp.StatusCode})
	}
	return nil
}

// FetchLive returns the raw live telemetry payload for a device.
func (c *Client) FetchLive(ctx context.Context, deviceID string) (map[string]any, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.path(c.endpoints.LivePath, deviceID), nil)
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	if err := c.do(req, &payload); err != nil {
		return nil, fmt.Errorf("live fetch for %s: %w", deviceID, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("live fetch for %s: empty body: %w", deviceID, ErrAPI)
	}
	return payload, nil
}

type historyRequest struct {
	DeviceID  string `json:"deviceId"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type historyResponse struct {
	Success     bool             `json:"success"`
	Route       []map[string]any `json:"route"`
	TotalPoints int              `json:"totalPoints"`
	Message     string           `json:"message"`
}

// FetchHistory returns the raw route records for a device in [start, end).
func (c *Client) FetchHistory(ctx context.Context, deviceID string, start, end time.Time) ([]map[string]any, error) {
	body, err := json.Marshal(historyRequest{
		DeviceID:  deviceID,
		StartTime: start.UTC().Format(time.RFC3339),
		EndTime:   end.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode history request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.path(c.endpoints.HistoryPath, deviceID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp historyResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("history fetch for %s: %w", deviceID, err)
	}
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "request not successful"
		}
		return nil, fmt.Errorf("history fetch for %s: %s: %w", deviceID, msg, ErrAPI)
	}
	return resp.Route, nil
}

func (c *Client) path(template, deviceID string) string {
	return c.baseURL + strings.ReplaceAll(template, "{deviceId}", url.PathEscape(deviceID))
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	token, ok := c.creds.Token()
	if !ok {
		return nil, ErrAuthRequired
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends req and decodes a 2xx JSON body into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("failed to decode response: %w: %w", ErrAPI, err)
	}
	return nil
}
