// Package crm talks to the external CRM that owns synced leads and contacts.
// It fetches current field values for a record before matching so rules never
// evaluate stale local copies, and writes the assigned owner back after an
// assignment is recorded.
package crm

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

	"lead-router/internal/circuitbreaker"
	apperrors "lead-router/internal/common/errors"
	"lead-router/internal/common/logging"
	"lead-router/internal/routing"
)

// Config holds CRM connection settings.
type Config struct {
	// BaseURL is the CRM REST endpoint, e.g. https://crm.example.com/api.
	BaseURL string
	// APIToken authenticates as a bearer token.
	APIToken string
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return apperrors.ConfigError("CRM base URL is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return apperrors.ConfigError(fmt.Sprintf("invalid CRM base URL: %v", err))
	}
	return nil
}

// Client fetches CRM records over HTTP behind a circuit breaker. When the
// breaker is open fetches fail immediately and callers fall back to locally
// stored fields.
type Client struct {
	config  *Config
	http    *http.Client
	breaker *circuitbreaker.Breaker
	logger  logging.Logger
}

func NewClient(config *Config, logger logging.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		breaker: circuitbreaker.New("crm", circuitbreaker.CRMConfig, logger),
		logger:  logger,
	}, nil
}

// FetchRecord retrieves the current field map for a remote record. The
// object type maps onto the CRM's sobject path segment.
func (c *Client) FetchRecord(ctx context.Context, objectType routing.ObjectType, externalID string) (routing.Record, error) {
	if externalID == "" {
		return nil, apperrors.ValidationError("external record ID is required")
	}

	endpoint := fmt.Sprintf("%s/sobjects/%s/%s",
		strings.TrimRight(c.config.BaseURL, "/"),
		url.PathEscape(string(objectType)),
		url.PathEscape(externalID))

	var record routing.Record
	err := c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return apperrors.InternalError("failed to build CRM request", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.config.APIToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return apperrors.RemoteError("CRM request failed", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return apperrors.NotFoundError("CRM record").WithContext("external_id", externalID)
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			return apperrors.AuthError("CRM rejected credentials")
		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return apperrors.RemoteError(
				fmt.Sprintf("CRM returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
		}

		if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
			return apperrors.RemoteError("failed to decode CRM response", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetched CRM record",
		logging.Field{Key: "object_type", Value: string(objectType)},
		logging.Field{Key: "external_id", Value: externalID},
		logging.Field{Key: "field_count", Value: len(record)})

	return record, nil
}

// WriteOwner patches the remote record's OwnerId after an assignment is
// recorded. Callers treat failures as best-effort; the local assignment is
// already durable.
func (c *Client) WriteOwner(ctx context.Context, objectType routing.ObjectType, externalID, userID string) error {
	if externalID == "" {
		return apperrors.ValidationError("external record ID is required")
	}
	if userID == "" {
		return apperrors.ValidationError("owner user ID is required")
	}

	endpoint := fmt.Sprintf("%s/sobjects/%s/%s",
		strings.TrimRight(c.config.BaseURL, "/"),
		url.PathEscape(string(objectType)),
		url.PathEscape(externalID))

	payload, err := json.Marshal(map[string]string{"OwnerId": userID})
	if err != nil {
		return apperrors.InternalError("failed to encode owner payload", err)
	}

	return c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
		if err != nil {
			return apperrors.InternalError("failed to build CRM request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.config.APIToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return apperrors.RemoteError("CRM request failed", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return apperrors.NotFoundError("CRM record").WithContext("external_id", externalID)
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			return apperrors.AuthError("CRM rejected credentials")
		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return apperrors.RemoteError(
				fmt.Sprintf("CRM returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
		}
		return nil
	})
}

// BreakerStats exposes the CRM breaker's state for the health endpoint.
func (c *Client) BreakerStats() circuitbreaker.Stats {
	return c.breaker.Stats()
}

var _ routing.RecordFetcher = (*Client)(nil)
var _ routing.OwnerWriter = (*Client)(nil)
