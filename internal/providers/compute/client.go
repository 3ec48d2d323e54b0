package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"artshield/internal/domain"
	"artshield/internal/infra"
)

// ErrMissingEndpoint indicates a call without a resolved provider endpoint.
var ErrMissingEndpoint = errors.New("compute: endpoint url is required")

// Endpoint identifies one method's external compute service.
type Endpoint struct {
	Method string
	URL    string
	Token  string
}

// SubmitRequest carries the inputs for one protection job submission.
type SubmitRequest struct {
	CorrelationID string         `json:"correlation_id"`
	InputURL      string         `json:"input_url"`
	Method        string         `json:"method"`
	Config        map[string]any `json:"config,omitempty"`
}

// StatusResult is the normalized per-job answer from a bulk status query.
type StatusResult struct {
	Status       string          `json:"status"`
	OutputURL    string          `json:"output_url,omitempty"`
	OutputKey    string          `json:"output_key,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Meta         json.RawMessage `json:"meta,omitempty"`
}

// Options configures the compute client.
type Options struct {
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the per-method GPU compute services.
// Endpoints are supplied per call because every method may live on a
// different host with its own token.
type Client struct {
	httpClient *http.Client
	logger     *infra.Logger
}

type submitResponse struct {
	ExternalID string `json:"external_id"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

type bulkStatusRequest struct {
	IDs []string `json:"ids"`
}

type bulkStatusResponse struct {
	Results map[string]StatusResult `json:"results"`
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
}

type bulkAckRequest struct {
	AckIDs []string `json:"ack_ids"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{httpClient: httpClient, logger: logger}
}

// Submit sends one job to the method's compute service and returns the
// provider's correlation id.
func (c *Client) Submit(ctx context.Context, ep Endpoint, req SubmitRequest) (string, error) {
	var decoded submitResponse
	if err := c.post(ctx, ep, "/submit", req, &decoded); err != nil {
		return "", err
	}
	if decoded.ExternalID == "" {
		return "", &domain.ProviderError{Method: ep.Method, Message: "submit response missing external id"}
	}
	c.logger.Info().
		Str("method", ep.Method).
		Str("external_id", decoded.ExternalID).
		Msg("compute: job submitted")
	return decoded.ExternalID, nil
}

// BulkStatus queries the method's compute service for the given correlation
// ids and returns per-id results. Ids absent from the answer are still in
// flight on the provider side.
func (c *Client) BulkStatus(ctx context.Context, ep Endpoint, ids []string) (map[string]StatusResult, error) {
	if len(ids) == 0 {
		return map[string]StatusResult{}, nil
	}
	var decoded bulkStatusResponse
	if err := c.post(ctx, ep, "/status", bulkStatusRequest{IDs: ids}, &decoded); err != nil {
		return nil, err
	}
	if decoded.Results == nil {
		return map[string]StatusResult{}, nil
	}
	return decoded.Results, nil
}

// BulkAck tells the provider it may release its records for the given ids.
func (c *Client) BulkAck(ctx context.Context, ep Endpoint, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.post(ctx, ep, "/ack", bulkAckRequest{AckIDs: ids}, nil)
}

func (c *Client) post(ctx context.Context, ep Endpoint, path string, payload, out any) error {
	if strings.TrimSpace(ep.URL) == "" {
		return ErrMissingEndpoint
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("compute: encode request: %w", err)
	}
	endpoint := strings.TrimRight(ep.URL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("compute: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if ep.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+ep.Token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &domain.ProviderError{Method: ep.Method, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.ProviderError{Method: ep.Method, Message: "read response: " + err.Error()}
	}

	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return &domain.ProviderError{Method: ep.Method, StatusCode: resp.StatusCode, Message: detail.Message}
		}
		return &domain.ProviderError{Method: ep.Method, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.ProviderError{Method: ep.Method, Message: "decode response: " + err.Error()}
	}
	return nil
}
