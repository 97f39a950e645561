package outcome

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veritel-ai/dialer-service/internal/domain"
)

func intPtr(v int) *int { return &v }

func TestResolveSIPCodes(t *testing.T) {
	table := DefaultTable()

	cases := []struct {
		name        string
		sipCode     *int
		reason      string
		wantStatus  domain.CallStatus
		wantOutcome domain.CallOutcome
	}{
		{name: "200 completes", sipCode: intPtr(200), wantStatus: domain.CallStatusCompleted, wantOutcome: domain.OutcomeSuccess},
		{name: "486 is busy", sipCode: intPtr(486), wantStatus: domain.CallStatusBusy, wantOutcome: domain.OutcomeBusy},
		{name: "603 decline is busy", sipCode: intPtr(603), wantStatus: domain.CallStatusBusy, wantOutcome: domain.OutcomeBusy},
		{name: "480 is no answer", sipCode: intPtr(480), wantStatus: domain.CallStatusNoAnswer, wantOutcome: domain.OutcomeNoAnswer},
		{name: "487 cancel is failed", sipCode: intPtr(487), wantStatus: domain.CallStatusFailed, wantOutcome: domain.OutcomeFailed},
		{name: "503 is failed", sipCode: intPtr(503), wantStatus: domain.CallStatusFailed, wantOutcome: domain.OutcomeFailed},
		{name: "unmapped code falls back", sipCode: intPtr(499), wantStatus: domain.CallStatusFailed, wantOutcome: domain.OutcomeFailed},
		{name: "reason no-answer", reason: "no-answer", wantStatus: domain.CallStatusNoAnswer, wantOutcome: domain.OutcomeNoAnswer},
		{name: "reason poller-ceiling", reason: "poller-ceiling", wantStatus: domain.CallStatusNoAnswer, wantOutcome: domain.OutcomeNoAnswer},
		{name: "unknown reason falls back", reason: "something-new", wantStatus: domain.CallStatusFailed, wantOutcome: domain.OutcomeFailed},
		{name: "empty signal falls back", wantStatus: domain.CallStatusFailed, wantOutcome: domain.OutcomeFailed},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := table.Resolve(c.sipCode, c.reason)
			assert.Equal(t, c.wantStatus, m.Status)
			assert.Equal(t, c.wantOutcome, m.Outcome)
		})
	}
}

func TestSIPCodeWinsOverReason(t *testing.T) {
	table := DefaultTable()
	m := table.Resolve(intPtr(486), "no-answer")
	assert.Equal(t, domain.CallStatusBusy, m.Status)
}

func TestLoadTableMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	content := `
sip_codes:
  603:
    status: failed
    outcome: failed
  604:
    status: no_answer
    outcome: no_answer
reasons:
  operator-reject:
    status: busy
    outcome: busy
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	table, err := LoadTable(path)
	require.NoError(t, err)

	// Overridden entry
	m := table.Resolve(intPtr(603), "")
	assert.Equal(t, domain.CallStatusFailed, m.Status)
	// New entries
	assert.Equal(t, domain.CallStatusNoAnswer, table.Resolve(intPtr(604), "").Status)
	assert.Equal(t, domain.CallStatusBusy, table.Resolve(nil, "operator-reject").Status)
	// Untouched default survives
	assert.Equal(t, domain.CallStatusBusy, table.Resolve(intPtr(486), "").Status)
}

func TestLoadTableMissingFile(t *testing.T) {
	_, err := LoadTable("/nonexistent/mapping.yaml")
	assert.Error(t, err)
}

func TestLoadTableEmptyPathUsesDefaults(t *testing.T) {
	table, err := LoadTable("")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusCompleted, table.Resolve(intPtr(200), "").Status)
}

func TestIsProviderFault(t *testing.T) {
	table := DefaultTable()

	cases := []struct {
		name      string
		sipCode   *int
		synthetic bool
		want      bool
	}{
		{name: "busy is user caused", sipCode: intPtr(486), want: false},
		{name: "decline is user caused", sipCode: intPtr(603), want: false},
		{name: "no answer is user caused", sipCode: intPtr(480), want: false},
		{name: "success is not a fault", sipCode: intPtr(200), want: false},
		{name: "cancel is not a fault", sipCode: intPtr(487), want: false},
		{name: "500 is a fault", sipCode: intPtr(500), want: true},
		{name: "503 is a fault", sipCode: intPtr(503), want: true},
		{name: "unmapped code is a fault", sipCode: intPtr(499), want: true},
		{name: "synthetic is always a fault", synthetic: true, want: true},
		{name: "reason-only is not a fault", want: false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, table.IsProviderFault(c.sipCode, c.synthetic))
		})
	}
}
