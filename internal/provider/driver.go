package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/veritel-ai/dialer-service/internal/domain"
)

// PlacementRequest carries everything a driver needs to originate a call.
// CallID is minted by the dispatcher and doubles as the provider-side
// correlation key.
type PlacementRequest struct {
	CallID       string
	TargetNumber string
	CampaignID   string
}

// StatusReport is a driver's answer to a status poll.
type StatusReport struct {
	Status   domain.CallStatus
	SIPCode  *int
	Reason   string
	Terminal bool
}

// Driver abstracts one Asterisk deployment flavor. Implementations must be
// safe for concurrent use; the poller and dispatcher call them from separate
// goroutines.
type Driver interface {
	Type() domain.ProviderType
	PlaceCall(ctx context.Context, req PlacementRequest) error
	PollStatus(ctx context.Context, callID string) (*StatusReport, error)
	Cancel(ctx context.Context, callID string) error
}

// Registry holds the configured drivers keyed by provider type.
type Registry struct {
	mu      sync.RWMutex
	drivers map[domain.ProviderType]Driver
}

// NewRegistry creates an empty driver registry
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[domain.ProviderType]Driver)}
}

// Register adds a driver. Registering the same provider type twice replaces
// the earlier driver.
func (r *Registry) Register(d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.Type()] = d
}

// Get returns the driver for a provider type.
func (r *Registry) Get(provider domain.ProviderType) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[provider]
	if !ok {
		return nil, fmt.Errorf("no driver registered for provider %s", provider)
	}
	return d, nil
}

// Types returns the provider types with a registered driver.
func (r *Registry) Types() []domain.ProviderType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ProviderType, 0, len(r.drivers))
	for t := range r.drivers {
		out = append(out, t)
	}
	return out
}
