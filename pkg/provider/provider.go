// Package provider wraps the remote zero-trust access provider's REST API.
// Every non-2xx answer becomes a typed *APIError; 429 and transport failures
// are retried with exponential backoff, everything else surfaces immediately.
package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError carries the provider's status code and message for a failed call.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provider: %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a provider 404. Delete paths treat it as
// success: the desired end state (no remote object) already holds.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsRateLimited reports whether err is a provider 429 that survived the
// retry budget.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// envelope is the provider's JSON response wrapper.
type envelope struct {
	Result json.RawMessage `json:"result"`
	Errors []envelopeError `json:"errors,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Application is the provider-side resource representing an enforced policy.
type Application struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Domain          string `json:"domain"`
	SessionDuration string `json:"session_duration,omitempty"`
}

type Zone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CredentialInfo describes the bearer credential the client authenticates with.
type CredentialInfo struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// RuleEntry is one access condition in the provider's wire shape: exactly one
// variant field is set per entry.
type RuleEntry struct {
	Email        *EmailRule        `json:"email,omitempty"`
	EmailDomain  *EmailDomainRule  `json:"email_domain,omitempty"`
	Group        *GroupRule        `json:"group,omitempty"`
	Geo          *GeoRule          `json:"geo,omitempty"`
	IP           *IPRule           `json:"ip,omitempty"`
	ServiceToken *ServiceTokenRule `json:"service_token,omitempty"`
	MFA          *MFARule          `json:"auth_method,omitempty"`
}

type EmailRule struct {
	Email string `json:"email"`
}

type EmailDomainRule struct {
	Domain string `json:"domain"`
}

type GroupRule struct {
	ID string `json:"id"`
}

type GeoRule struct {
	CountryCode string `json:"country_code"`
}

type IPRule struct {
	IP string `json:"ip"`
}

type ServiceTokenRule struct {
	TokenID string `json:"token_id"`
}

type MFARule struct {
	AuthMethod string `json:"auth_method"`
}

// AppPayload is the create/update request body for an access application.
type AppPayload struct {
	Name            string      `json:"name"`
	Domain          string      `json:"domain"`
	SessionDuration string      `json:"session_duration,omitempty"`
	Include         []RuleEntry `json:"include"`
	Exclude         []RuleEntry `json:"exclude,omitempty"`
	Require         []RuleEntry `json:"require,omitempty"`
}
