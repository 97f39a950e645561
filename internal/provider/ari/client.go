package ari

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/veritel-ai/dialer-service/internal/domain"
	"github.com/veritel-ai/dialer-service/internal/provider"
	"github.com/veritel-ai/dialer-service/pkg/logger"
	"go.uber.org/zap"
)

// Client drives an ARI-native Asterisk deployment through the Asterisk REST
// Interface. Call control happens over REST; call progress arrives over the
// ARI websocket event stream (see stream.go). The originated channel ID is
// set to the dispatcher's call_id so every ARI event correlates directly.
type Client struct {
	BaseURL    string
	Username   string
	Password   string
	AppName    string
	HTTPClient *http.Client
}

// channelResponse is the subset of an ARI channel resource we consume
type channelResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// NewClient creates an ARI client
func NewClient(baseURL, username, password, appName string) *Client {
	return &Client{
		BaseURL:  baseURL,
		Username: username,
		Password: password,
		AppName:  appName,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Type identifies this driver as the ARI-native deployment flavor.
func (c *Client) Type() domain.ProviderType {
	return domain.ProviderTypeARINative
}

// PlaceCall originates a channel into the Stasis application.
func (c *Client) PlaceCall(ctx context.Context, req provider.PlacementRequest) error {
	params := url.Values{}
	params.Set("endpoint", "PJSIP/"+req.TargetNumber)
	params.Set("app", c.AppName)
	params.Set("appArgs", req.CampaignID)
	params.Set("channelId", req.CallID)

	path := "/ari/channels?" + params.Encode()
	if err := c.doRequest(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("failed to originate channel %s: %w", req.CallID, err)
	}

	logger.Base().Info("channel originated via ARI",
		zap.String("call_id", req.CallID),
		zap.String("target", req.TargetNumber))
	return nil
}

// PollStatus reads the channel state. A missing channel is reported as an
// error rather than a terminal state: the websocket stream owns termination
// reporting, and the poller's ceiling covers the case where that report
// never arrives.
func (c *Client) PollStatus(ctx context.Context, callID string) (*provider.StatusReport, error) {
	var ch channelResponse
	path := fmt.Sprintf("/ari/channels/%s", url.PathEscape(callID))
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &ch); err != nil {
		return nil, fmt.Errorf("failed to poll channel %s: %w", callID, err)
	}

	return &provider.StatusReport{
		Status:   mapChannelState(ch.State),
		Terminal: false,
	}, nil
}

// Cancel hangs up the channel. A 404 means the channel already went away.
func (c *Client) Cancel(ctx context.Context, callID string) error {
	path := fmt.Sprintf("/ari/channels/%s", url.PathEscape(callID))
	err := c.doRequest(ctx, http.MethodDelete, path, nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to hang up channel %s: %w", callID, err)
	}
	return nil
}

// mapChannelState translates ARI channel states into call statuses.
func mapChannelState(state string) domain.CallStatus {
	switch state {
	case "Down", "Rsrvd", "Dialing":
		return domain.CallStatusQueued
	case "Ring", "Ringing":
		return domain.CallStatusRinging
	case "Up":
		return domain.CallStatusConnected
	default:
		return domain.CallStatusQueued
	}
}

// causeToSIP translates Asterisk hangup causes (Q.850) into the SIP response
// codes the outcome mapping table speaks. Declines (cause 21) become 603 so
// both deployment flavors resolve declines through one table entry.
func causeToSIP(cause int) (int, bool) {
	switch cause {
	case 16: // normal clearing
		return 200, true
	case 17: // user busy
		return 486, true
	case 18, 19: // no user responding / no answer
		return 480, true
	case 21: // call rejected
		return 603, true
	case 28: // invalid number format
		return 404, true
	case 34, 38, 41, 42: // congestion / network failures
		return 503, true
	}
	return 0, false
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("ARI returned status %d: %s", e.StatusCode, e.Body)
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
	req.SetBasicAuth(c.Username, c.Password)

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
