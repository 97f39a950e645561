package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/veritel-ai/dialer-service/internal/admission"
	"github.com/veritel-ai/dialer-service/internal/dispatcher"
	"github.com/veritel-ai/dialer-service/internal/domain"
	"github.com/veritel-ai/dialer-service/internal/provider"
	"github.com/veritel-ai/dialer-service/internal/reconciler"
	"github.com/veritel-ai/dialer-service/pkg/logger"
	"go.uber.org/zap"
)

// CampaignFinder looks up call records by campaign; nil when no durable
// store is configured.
type CampaignFinder interface {
	FindByCampaignID(ctx context.Context, campaignID string, limit int) ([]*domain.CallRecord, error)
}

// CallsHandler exposes dial, hangup and operational read endpoints.
type CallsHandler struct {
	dispatcher *dispatcher.Dispatcher
	engine     *reconciler.Engine
	admission  *admission.Controller
	drivers    *provider.Registry
	campaigns  CampaignFinder
}

// NewCallsHandler creates a new calls handler
func NewCallsHandler(d *dispatcher.Dispatcher, e *reconciler.Engine, a *admission.Controller, r *provider.Registry, campaigns CampaignFinder) *CallsHandler {
	return &CallsHandler{
		dispatcher: d,
		engine:     e,
		admission:  a,
		drivers:    r,
		campaigns:  campaigns,
	}
}

// DialRequest asks for one outbound call to be queued
type DialRequest struct {
	TargetNumber string `json:"targetNumber"`
	CampaignID   string `json:"campaignId"`
	Provider     string `json:"provider"`
}

// HandleDial enqueues a dial target into the hopper. Placement is
// asynchronous; admission control decides when (and whether) the call is
// actually originated.
func (h *CallsHandler) HandleDial(w http.ResponseWriter, r *http.Request) {
	var req DialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.TargetNumber == "" {
		http.Error(w, "targetNumber is required", http.StatusBadRequest)
		return
	}
	providerType := domain.ProviderType(req.Provider)
	if !domain.IsKnownProvider(providerType) {
		http.Error(w, "unknown provider", http.StatusBadRequest)
		return
	}
	if _, err := h.drivers.Get(providerType); err != nil {
		http.Error(w, "provider not configured", http.StatusBadRequest)
		return
	}

	h.dispatcher.Enqueue(&dispatcher.DialTarget{
		TargetNumber: req.TargetNumber,
		CampaignID:   req.CampaignID,
		Provider:     providerType,
	})

	logger.Base().Info("dial target queued",
		zap.String("target", req.TargetNumber),
		zap.String("campaign_id", req.CampaignID),
		zap.String("provider", req.Provider))

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}

// HandleHangup tears down a live call: cancel at the provider, then apply
// the local hangup through the reconciler. The hangup races any in-flight
// provider termination; whichever reaches the call's mailbox first wins.
func (h *CallsHandler) HandleHangup(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["id"]

	rec, err := h.engine.Snapshot(r.Context(), callID)
	if err != nil {
		if errors.Is(err, reconciler.ErrCallNotFound) {
			http.Error(w, "Call not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to look up call", http.StatusInternalServerError)
		return
	}
	if rec.IsTerminal() {
		http.Error(w, "Call already terminal", http.StatusConflict)
		return
	}

	if driver, derr := h.drivers.Get(rec.Provider); derr == nil {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if cerr := driver.Cancel(ctx, callID); cerr != nil {
			// Local termination still proceeds; the provider may already
			// have torn the call down on its side.
			logger.Base().Warn("provider cancel failed",
				zap.String("call_id", callID), zap.Error(cerr))
		}
	}

	if serr := h.engine.Submit(reconciler.HangupCommand{ID: callID}); serr != nil {
		logger.Base().Debug("hangup command dropped",
			zap.String("call_id", callID), zap.Error(serr))
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}

// HandleGetCall returns the current reconciled snapshot of one call.
func (h *CallsHandler) HandleGetCall(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["id"]

	rec, err := h.engine.Snapshot(r.Context(), callID)
	if err != nil {
		if errors.Is(err, reconciler.ErrCallNotFound) {
			http.Error(w, "Call not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to look up call", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// HandleCampaignCalls lists recent call records for a campaign.
func (h *CallsHandler) HandleCampaignCalls(w http.ResponseWriter, r *http.Request) {
	if h.campaigns == nil {
		http.Error(w, "No durable store configured", http.StatusNotImplemented)
		return
	}
	campaignID := mux.Vars(r)["id"]

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := h.campaigns.FindByCampaignID(r.Context(), campaignID, limit)
	if err != nil {
		logger.Base().Error("failed to list campaign calls",
			zap.String("campaign_id", campaignID), zap.Error(err))
		http.Error(w, "Failed to list calls", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"campaign_id": campaignID,
		"in_flight":   h.admission.InFlight(campaignID),
		"calls":       records,
	})
}

// HandleProviders returns the breaker health of every provider.
func (h *CallsHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"providers": h.admission.Snapshots(),
	})
}
