package sipnative

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/veritel-ai/dialer-service/internal/domain"
	"github.com/veritel-ai/dialer-service/internal/provider"
	"github.com/veritel-ai/dialer-service/pkg/logger"
	"go.uber.org/zap"
)

// Client drives the SIP-native Asterisk gateway over its REST API. The
// gateway pushes webhooks for most transitions; this client exists for
// origination, cancellation and the poller's backstop status reads.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// originateRequest is the gateway's call origination payload
type originateRequest struct {
	CallID       string `json:"callId"`
	TargetNumber string `json:"targetNumber"`
	CampaignID   string `json:"campaignId,omitempty"`
}

// callStatusResponse is the gateway's status read payload
type callStatusResponse struct {
	CallID   string `json:"callId"`
	State    string `json:"state"`
	SIPCode  *int   `json:"sipCode,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Terminal bool   `json:"terminal"`
}

type apiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewClient creates a SIP-native gateway client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Type identifies this driver as the SIP-native deployment flavor.
func (c *Client) Type() domain.ProviderType {
	return domain.ProviderTypeSIPNative
}

// PlaceCall originates an outbound call through the gateway. A non-2xx
// response means the gateway never accepted the placement; the dispatcher
// treats that as a retryable dial failure.
func (c *Client) PlaceCall(ctx context.Context, req provider.PlacementRequest) error {
	payload := originateRequest{
		CallID:       req.CallID,
		TargetNumber: req.TargetNumber,
		CampaignID:   req.CampaignID,
	}

	var resp apiResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/calls", payload, &resp); err != nil {
		return fmt.Errorf("failed to originate call %s: %w", req.CallID, err)
	}

	logger.Base().Info("call originated via SIP gateway",
		zap.String("call_id", req.CallID),
		zap.String("target", req.TargetNumber))
	return nil
}

// PollStatus reads the gateway's view of a call.
func (c *Client) PollStatus(ctx context.Context, callID string) (*provider.StatusReport, error) {
	var resp callStatusResponse
	path := fmt.Sprintf("/v1/calls/%s", callID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to poll call %s: %w", callID, err)
	}

	report := &provider.StatusReport{
		Status:   mapGatewayState(resp.State),
		SIPCode:  resp.SIPCode,
		Reason:   resp.Reason,
		Terminal: resp.Terminal,
	}
	return report, nil
}

// Cancel asks the gateway to tear the call down. Cancelling a call the
// gateway no longer knows is not an error; the reconciler already owns the
// terminal record in that case.
func (c *Client) Cancel(ctx context.Context, callID string) error {
	path := fmt.Sprintf("/v1/calls/%s", callID)
	err := c.doRequest(ctx, http.MethodDelete, path, nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to cancel call %s: %w", callID, err)
	}
	return nil
}

// mapGatewayState translates gateway state strings into call statuses.
// Unknown states come back as queued so the poller keeps watching instead of
// guessing.
func mapGatewayState(state string) domain.CallStatus {
	switch state {
	case "queued", "dialing":
		return domain.CallStatusQueued
	case "ringing":
		return domain.CallStatusRinging
	case "answered", "connected":
		return domain.CallStatusConnected
	case "media", "talking":
		return domain.CallStatusTalking
	case "completed":
		return domain.CallStatusCompleted
	case "failed":
		return domain.CallStatusFailed
	case "no_answer":
		return domain.CallStatusNoAnswer
	case "busy":
		return domain.CallStatusBusy
	default:
		return domain.CallStatusQueued
	}
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Body)
}

func isNotFound(err error) bool {
	se, ok := err.(*httpStatusError)
	return ok && se.StatusCode == http.StatusNotFound
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpStatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
