package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"aegis/pkg/httpx"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	defaultBaseDelay   = 100 * time.Millisecond
)

// Client talks to the remote provider. It is safe for concurrent use; the
// in-flight semaphore bounds concurrent requests so parallel reconciliation
// does not trip the remote rate limiter.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Retry      httpx.RetryPolicy

	inflight chan struct{}
}

// NewClient builds a client with the default retry policy (3 attempts,
// 100ms base delay, doubling) and a 30s request timeout. maxInflight <= 0
// means unbounded.
func NewClient(baseURL, token string, maxInflight int) *Client {
	c := &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		Retry: httpx.RetryPolicy{
			MaxAttempts: defaultMaxAttempts,
			BaseDelay:   defaultBaseDelay,
		},
	}
	if maxInflight > 0 {
		c.inflight = make(chan struct{}, maxInflight)
	}
	return c
}

func (c *Client) ListZones(ctx context.Context) ([]Zone, error) {
	var zones []Zone
	if err := c.call(ctx, http.MethodGet, "/zones", nil, &zones); err != nil {
		return nil, err
	}
	return zones, nil
}

func (c *Client) ListApplications(ctx context.Context, zoneRef string) ([]Application, error) {
	var apps []Application
	if err := c.call(ctx, http.MethodGet, appsPath(zoneRef, ""), nil, &apps); err != nil {
		return nil, err
	}
	return apps, nil
}

// CreateApplication submits a new access application and returns the
// provider-assigned object id.
func (c *Client) CreateApplication(ctx context.Context, zoneRef string, payload AppPayload) (string, error) {
	var app Application
	if err := c.call(ctx, http.MethodPost, appsPath(zoneRef, ""), payload, &app); err != nil {
		return "", err
	}
	if app.ID == "" {
		return "", &APIError{StatusCode: http.StatusBadGateway, Message: "provider returned no application id"}
	}
	return app.ID, nil
}

func (c *Client) UpdateApplication(ctx context.Context, zoneRef, remoteID string, payload AppPayload) error {
	return c.call(ctx, http.MethodPut, appsPath(zoneRef, remoteID), payload, nil)
}

func (c *Client) DeleteApplication(ctx context.Context, zoneRef, remoteID string) error {
	return c.call(ctx, http.MethodDelete, appsPath(zoneRef, remoteID), nil, nil)
}

func (c *Client) VerifyCredential(ctx context.Context) (CredentialInfo, error) {
	var info CredentialInfo
	if err := c.call(ctx, http.MethodGet, "/user/tokens/verify", nil, &info); err != nil {
		return CredentialInfo{}, err
	}
	return info, nil
}

func appsPath(zoneRef, remoteID string) string {
	p := "/zones/" + url.PathEscape(zoneRef) + "/access/apps"
	if remoteID != "" {
		p += "/" + url.PathEscape(remoteID)
	}
	return p
}

func (c *Client) call(ctx context.Context, method, path string, payload any, out any) error {
	if c.BaseURL == "" {
		return fmt.Errorf("provider base url is empty")
	}
	if c.inflight != nil {
		select {
		case c.inflight <- struct{}{}:
			defer func() { <-c.inflight }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = b
	}
	headers := map[string]string{"Authorization": "Bearer " + c.Token}
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	status, respBody, err := httpx.DoJSON(ctx, client, method, c.BaseURL+path, body, headers, c.Retry)
	if err != nil {
		return fmt.Errorf("provider %s %s: %w", method, path, err)
	}

	var env envelope
	if len(respBody) > 0 {
		// A malformed body on a non-2xx answer must not mask the status.
		_ = json.Unmarshal(respBody, &env)
	}
	if status < 200 || status >= 300 || len(env.Errors) > 0 {
		apiErr := &APIError{StatusCode: status}
		if len(env.Errors) > 0 {
			apiErr.Code = env.Errors[0].Code
			apiErr.Message = env.Errors[0].Message
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		return apiErr
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode provider result: %w", err)
		}
	}
	return nil
}
