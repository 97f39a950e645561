package outcome

import (
	"fmt"
	"os"

	"github.com/veritel-ai/dialer-service/internal/domain"
	"gopkg.in/yaml.v3"
)

// Mapping is one (status, outcome) pair a termination signal resolves to.
type Mapping struct {
	Status  domain.CallStatus  `yaml:"status"`
	Outcome domain.CallOutcome `yaml:"outcome"`
}

// Table resolves SIP response codes and provider-native termination reasons
// into terminal (status, outcome) pairs. Provider conventions vary, so the
// table is data: the compiled-in defaults can be replaced wholesale or
// partially from a YAML file without code changes.
type Table struct {
	SIPCodes map[int]Mapping    `yaml:"sip_codes"`
	Reasons  map[string]Mapping `yaml:"reasons"`
	Fallback Mapping            `yaml:"fallback"`
}

// DefaultTable returns the built-in mapping.
//
// 603 (Decline) is mapped to busy for every provider here. The ARI-native
// path reports declines as Asterisk cause 21, which its adapter translates
// to 603 before it reaches this table, so both code paths share one
// convention.
func DefaultTable() *Table {
	return &Table{
		SIPCodes: map[int]Mapping{
			200: {Status: domain.CallStatusCompleted, Outcome: domain.OutcomeSuccess},
			403: {Status: domain.CallStatusFailed, Outcome: domain.OutcomeFailed},
			404: {Status: domain.CallStatusFailed, Outcome: domain.OutcomeFailed},
			408: {Status: domain.CallStatusNoAnswer, Outcome: domain.OutcomeNoAnswer},
			480: {Status: domain.CallStatusNoAnswer, Outcome: domain.OutcomeNoAnswer},
			486: {Status: domain.CallStatusBusy, Outcome: domain.OutcomeBusy},
			487: {Status: domain.CallStatusFailed, Outcome: domain.OutcomeFailed},
			500: {Status: domain.CallStatusFailed, Outcome: domain.OutcomeFailed},
			502: {Status: domain.CallStatusFailed, Outcome: domain.OutcomeFailed},
			503: {Status: domain.CallStatusFailed, Outcome: domain.OutcomeFailed},
			600: {Status: domain.CallStatusBusy, Outcome: domain.OutcomeBusy},
			603: {Status: domain.CallStatusBusy, Outcome: domain.OutcomeBusy},
		},
		Reasons: map[string]Mapping{
			"completed":      {Status: domain.CallStatusCompleted, Outcome: domain.OutcomeSuccess},
			"busy":           {Status: domain.CallStatusBusy, Outcome: domain.OutcomeBusy},
			"no-answer":      {Status: domain.CallStatusNoAnswer, Outcome: domain.OutcomeNoAnswer},
			"canceled":       {Status: domain.CallStatusFailed, Outcome: domain.OutcomeFailed},
			"provider-error": {Status: domain.CallStatusFailed, Outcome: domain.OutcomeFailed},
			"poller-ceiling": {Status: domain.CallStatusNoAnswer, Outcome: domain.OutcomeNoAnswer},
		},
		Fallback: Mapping{Status: domain.CallStatusFailed, Outcome: domain.OutcomeFailed},
	}
}

// LoadTable reads a YAML mapping file and merges it over the defaults.
// Entries present in the file win; everything else keeps the default.
func LoadTable(path string) (*Table, error) {
	table := DefaultTable()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping table %s: %w", path, err)
	}

	var override Table
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse mapping table %s: %w", path, err)
	}

	for code, m := range override.SIPCodes {
		table.SIPCodes[code] = m
	}
	for reason, m := range override.Reasons {
		table.Reasons[reason] = m
	}
	if override.Fallback.Status != "" {
		table.Fallback = override.Fallback
	}

	return table, nil
}

// Resolve maps a termination signal to its (status, outcome). The SIP code
// wins when present; otherwise the provider reason is consulted. Unmapped
// inputs resolve to the fallback, per the fixed lookup contract.
func (t *Table) Resolve(sipCode *int, providerReason string) Mapping {
	if sipCode != nil {
		if m, ok := t.SIPCodes[*sipCode]; ok {
			return m
		}
		return t.Fallback
	}
	if providerReason != "" {
		if m, ok := t.Reasons[providerReason]; ok {
			return m
		}
	}
	return t.Fallback
}

// IsProviderFault reports whether a termination reflects a provider-side
// fault for breaker accounting. User-caused terminations (busy, no answer,
// decline, normal completion, local cancel) must not trip the breaker; 5xx
// class codes, unmapped codes and synthetic poller-ceiling terminations do.
func (t *Table) IsProviderFault(sipCode *int, synthetic bool) bool {
	if synthetic {
		return true
	}
	if sipCode == nil {
		return false
	}
	code := *sipCode
	if code >= 500 && code < 600 {
		return true
	}
	if _, ok := t.SIPCodes[code]; !ok {
		// Unmapped code: treat as a provider fault so persistent protocol
		// surprises surface through the breaker.
		return true
	}
	return false
}
