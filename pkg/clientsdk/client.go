package clientsdk

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

	"aegis/pkg/diff"
	"aegis/pkg/models"
)

// Client calls the policy service API. Tenant and Actor are sent on every
// request; the server scopes all reads and writes to the tenant.
type Client struct {
	BaseURL    string
	Token      string
	Tenant     string
	Actor      string
	HTTPClient *http.Client
}

// APIError is a non-2xx response from the policy service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error status=%d message=%s", e.StatusCode, e.Message)
}

// UpsertResult pairs the resulting policy with the action the server took.
type UpsertResult struct {
	Policy models.Policy `json:"policy"`
	Action diff.Action   `json:"action"`
}

// BulkResult reports per-item outcomes of a bulk apply.
type BulkResult struct {
	Policies []models.Policy  `json:"policies"`
	Errors   []diff.ItemError `json:"errors,omitempty"`
}

func NewClient(baseURL, token, tenant string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Token:      token,
		Tenant:     tenant,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) CreatePolicy(ctx context.Context, desired models.DesiredConfig) (models.Policy, error) {
	var out models.Policy
	err := c.do(ctx, http.MethodPost, "/v1/policies", desired, &out)
	return out, err
}

func (c *Client) GetPolicy(ctx context.Context, externalID string) (models.Policy, error) {
	var out models.Policy
	err := c.do(ctx, http.MethodGet, "/v1/policies/"+url.PathEscape(externalID), nil, &out)
	return out, err
}

func (c *Client) ListPolicies(ctx context.Context) ([]models.Policy, error) {
	var out struct {
		Policies []models.Policy `json:"policies"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/policies", nil, &out)
	return out.Policies, err
}

func (c *Client) DeletePolicy(ctx context.Context, externalID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/policies/"+url.PathEscape(externalID), nil, nil)
}

// SyncPolicy re-runs reconciliation for one policy and returns the record
// with its post-sync status.
func (c *Client) SyncPolicy(ctx context.Context, externalID string) (models.Policy, error) {
	var out models.Policy
	err := c.do(ctx, http.MethodPost, "/v1/policies/"+url.PathEscape(externalID)+"/sync", nil, &out)
	return out, err
}

func (c *Client) Upsert(ctx context.Context, desired models.DesiredConfig) (UpsertResult, error) {
	var out UpsertResult
	err := c.do(ctx, http.MethodPost, "/v1/policies:upsert", desired, &out)
	return out, err
}

// Check is the dry-run counterpart of Upsert.
func (c *Client) Check(ctx context.Context, desired models.DesiredConfig) (diff.CheckResult, error) {
	var out diff.CheckResult
	err := c.do(ctx, http.MethodPost, "/v1/policies:check", desired, &out)
	return out, err
}

func (c *Client) BulkCreate(ctx context.Context, desired []models.DesiredConfig) (BulkResult, error) {
	var out BulkResult
	err := c.do(ctx, http.MethodPost, "/v1/policies:bulk", desired, &out)
	return out, err
}

func (c *Client) ListZones(ctx context.Context) ([]models.Zone, error) {
	var out struct {
		Zones []models.Zone `json:"zones"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/zones", nil, &out)
	return out.Zones, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.Tenant != "" {
		req.Header.Set("X-Tenant", c.Tenant)
	}
	if c.Actor != "" {
		req.Header.Set("X-Actor", c.Actor)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}
