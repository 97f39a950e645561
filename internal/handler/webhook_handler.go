package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/veritel-ai/dialer-service/internal/domain"
	"github.com/veritel-ai/dialer-service/internal/reconciler"
	"github.com/veritel-ai/dialer-service/pkg/logger"
	"go.uber.org/zap"
)

// WebhookHandler receives provider callbacks and AMD verdicts and feeds them
// to the reconciler. Webhooks are acked as long as they parse: unknown or
// stale call IDs are the reconciler's problem to absorb, and a 200 stops
// providers from redelivering events we have already decided to drop.
type WebhookHandler struct {
	engine *reconciler.Engine
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(engine *reconciler.Engine) *WebhookHandler {
	return &WebhookHandler{engine: engine}
}

// StatusWebhookRequest is a provider call-progress notification
type StatusWebhookRequest struct {
	CallID string `json:"callId"`
	Status string `json:"status"` // "RINGING", "CONNECTED", "TALKING"
}

// TerminateWebhookRequest is a provider termination notification
type TerminateWebhookRequest struct {
	CallID  string `json:"callId"`
	SIPCode *int   `json:"sipCode,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// AMDWebhookRequest is the answering-machine-detection verdict callback
type AMDWebhookRequest struct {
	CallID  string `json:"callId"`
	Verdict string `json:"verdict"` // "human", "machine", "uncertain"
	Cause   string `json:"cause,omitempty"`
}

// readRequestBody reads and logs the request body
func (h *WebhookHandler) readRequestBody(w http.ResponseWriter, r *http.Request, webhookType string) ([]byte, bool) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Base().Error("Failed to read request body", zap.String("webhook_type", webhookType))
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return nil, false
	}
	defer r.Body.Close()

	logger.Base().Debug("webhook body", zap.String("body", string(bodyBytes)), zap.String("webhook_type", webhookType))
	return bodyBytes, true
}

// parseJSON parses JSON and handles errors
func (h *WebhookHandler) parseJSON(w http.ResponseWriter, bodyBytes []byte, target interface{}, webhookType string) bool {
	if err := json.Unmarshal(bodyBytes, target); err != nil {
		logger.Base().Error("Failed to parse webhook", zap.String("webhook_type", webhookType))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// sendOKResponse sends a standard OK response
func (h *WebhookHandler) sendOKResponse(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}

// submit hands the event to the reconciler; drops are logged, not surfaced.
func (h *WebhookHandler) submit(ev reconciler.Event, webhookType string) {
	if err := h.engine.Submit(ev); err != nil {
		if errors.Is(err, reconciler.ErrCallNotFound) || errors.Is(err, reconciler.ErrRecordFrozen) {
			logger.Base().Debug("webhook event dropped",
				zap.String("webhook_type", webhookType),
				zap.String("call_id", ev.CallID()),
				zap.Error(err))
			return
		}
		logger.Base().Error("webhook event submit failed",
			zap.String("webhook_type", webhookType),
			zap.String("call_id", ev.CallID()),
			zap.Error(err))
	}
}

// HandleStatusWebhook processes call progress notifications
func (h *WebhookHandler) HandleStatusWebhook(w http.ResponseWriter, r *http.Request) {
	bodyBytes, ok := h.readRequestBody(w, r, "status")
	if !ok {
		return
	}

	var req StatusWebhookRequest
	if !h.parseJSON(w, bodyBytes, &req, "status") {
		return
	}
	if req.CallID == "" || req.Status == "" {
		http.Error(w, "callId and status are required", http.StatusBadRequest)
		return
	}

	var status domain.CallStatus
	switch strings.ToLower(req.Status) {
	case "ringing":
		status = domain.CallStatusRinging
	case "connected", "answered":
		status = domain.CallStatusConnected
	case "talking", "media":
		status = domain.CallStatusTalking
	default:
		logger.Base().Warn("unrecognized status in webhook",
			zap.String("call_id", req.CallID),
			zap.String("status", req.Status))
		http.Error(w, "Unrecognized status", http.StatusBadRequest)
		return
	}

	h.submit(reconciler.ProgressEvent{ID: req.CallID, NewStatus: status}, "status")
	h.sendOKResponse(w)
}

// HandleTerminateWebhook processes provider termination notifications
func (h *WebhookHandler) HandleTerminateWebhook(w http.ResponseWriter, r *http.Request) {
	bodyBytes, ok := h.readRequestBody(w, r, "terminate")
	if !ok {
		return
	}

	var req TerminateWebhookRequest
	if !h.parseJSON(w, bodyBytes, &req, "terminate") {
		return
	}
	if req.CallID == "" {
		http.Error(w, "callId is required", http.StatusBadRequest)
		return
	}

	h.submit(reconciler.TerminationSignal{
		ID:             req.CallID,
		SIPCode:        req.SIPCode,
		ProviderReason: req.Reason,
	}, "terminate")
	h.sendOKResponse(w)
}

// HandleAMDWebhook processes answering machine detection verdicts
func (h *WebhookHandler) HandleAMDWebhook(w http.ResponseWriter, r *http.Request) {
	bodyBytes, ok := h.readRequestBody(w, r, "amd")
	if !ok {
		return
	}

	var req AMDWebhookRequest
	if !h.parseJSON(w, bodyBytes, &req, "amd") {
		return
	}
	if req.CallID == "" {
		http.Error(w, "callId is required", http.StatusBadRequest)
		return
	}

	var verdict domain.AMDVerdict
	switch strings.ToLower(req.Verdict) {
	case "human":
		verdict = domain.VerdictHuman
	case "machine":
		verdict = domain.VerdictMachine
	case "uncertain":
		verdict = domain.VerdictUncertain
	default:
		http.Error(w, "verdict must be human, machine or uncertain", http.StatusBadRequest)
		return
	}

	h.submit(reconciler.VoicemailVerdict{
		ID:      req.CallID,
		Verdict: verdict,
		Cause:   req.Cause,
	}, "amd")
	h.sendOKResponse(w)
}
