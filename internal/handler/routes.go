package handler

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/veritel-ai/dialer-service/internal/admission"
	"github.com/veritel-ai/dialer-service/internal/dispatcher"
	"github.com/veritel-ai/dialer-service/internal/poller"
	"github.com/veritel-ai/dialer-service/internal/provider"
	"github.com/veritel-ai/dialer-service/internal/reconciler"
	"github.com/veritel-ai/dialer-service/pkg/logger"
)

// HandlerManager manages all handlers and their initialization
type HandlerManager struct {
	webhooks   *WebhookHandler
	calls      *CallsHandler
	engine     *reconciler.Engine
	dispatcher *dispatcher.Dispatcher
	poller     *poller.Poller
	startedAt  time.Time
}

// NewHandlerManager creates and initializes all handlers
func NewHandlerManager(e *reconciler.Engine, d *dispatcher.Dispatcher, a *admission.Controller, r *provider.Registry, p *poller.Poller, campaigns CampaignFinder) *HandlerManager {
	return &HandlerManager{
		webhooks:   NewWebhookHandler(e),
		calls:      NewCallsHandler(d, e, a, r, campaigns),
		engine:     e,
		dispatcher: d,
		poller:     p,
		startedAt:  time.Now(),
	}
}

// SetupAllRoutes sets up all routes with middleware
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	// Apply global middleware
	router.Use(CORSMiddleware)
	router.Use(LoggingMiddleware)

	hm.SetupWebhookRoutes(router)
	hm.SetupCallRoutes(router)
	hm.SetupOpsRoutes(router)

	router.HandleFunc("/health", hm.handleHealth).Methods("GET")
	router.HandleFunc("/status", hm.handleStatus).Methods("GET")

	logger.Base().Info("all application routes registered")
}

// SetupWebhookRoutes registers the provider callback endpoints
func (hm *HandlerManager) SetupWebhookRoutes(router *mux.Router) {
	webhookRouter := router.PathPrefix("/webhooks").Subrouter()
	webhookRouter.Use(ValidationMiddleware)

	webhookRouter.HandleFunc("/provider/status", hm.webhooks.HandleStatusWebhook).Methods("POST")
	webhookRouter.HandleFunc("/provider/terminate", hm.webhooks.HandleTerminateWebhook).Methods("POST")
	webhookRouter.HandleFunc("/amd", hm.webhooks.HandleAMDWebhook).Methods("POST")
}

// SetupCallRoutes registers the dial and hangup endpoints. When
// API_SECRET_KEY is set the endpoints require it; development setups run
// open.
func (hm *HandlerManager) SetupCallRoutes(router *mux.Router) {
	callRouter := router.PathPrefix("/calls").Subrouter()
	callRouter.Use(ValidationMiddleware)
	callRouter.Use(APIKeyMiddleware(os.Getenv("API_SECRET_KEY")))

	callRouter.HandleFunc("/dial", hm.calls.HandleDial).Methods("POST")
	callRouter.HandleFunc("/{id}/hangup", hm.calls.HandleHangup).Methods("POST")
}

// SetupOpsRoutes registers the operational read endpoints
func (hm *HandlerManager) SetupOpsRoutes(router *mux.Router) {
	opsRouter := router.PathPrefix("/ops").Subrouter()

	opsRouter.HandleFunc("/calls/{id}", hm.calls.HandleGetCall).Methods("GET")
	opsRouter.HandleFunc("/campaigns/{id}/calls", hm.calls.HandleCampaignCalls).Methods("GET")
	opsRouter.HandleFunc("/providers", hm.calls.HandleProviders).Methods("GET")
}

func (hm *HandlerManager) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(hm.startedAt).String(),
	})
}

func (hm *HandlerManager) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"uptime":         time.Since(hm.startedAt).String(),
		"reconciler":     hm.engine.Stats(),
		"dispatcher":     hm.dispatcher.Stats(),
		"active_pollers": hm.poller.Active(),
	})
}
