package domain

// ProviderType identifies how an AI conversation provider attaches to the switch
type ProviderType string

const (
	ProviderTypeSIPNative ProviderType = "sip-native" // provider joins the call leg directly over SIP
	ProviderTypeARINative ProviderType = "ari-native" // provider is bridged through Asterisk ARI / WebSocket
)

// KnownProviders is the fixed set of providers this worker dispatches to.
var KnownProviders = []ProviderType{ProviderTypeSIPNative, ProviderTypeARINative}

// IsKnownProvider reports whether p is one of the configured providers.
func IsKnownProvider(p ProviderType) bool {
	for _, known := range KnownProviders {
		if p == known {
			return true
		}
	}
	return false
}

// BreakerState represents the admission breaker state for a provider
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)
