package domain

import (
	"time"
)

// CallStatus is the state-machine state of a call
type CallStatus string

const (
	CallStatusQueued    CallStatus = "queued"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusConnected CallStatus = "connected"
	CallStatusTalking   CallStatus = "talking"
	CallStatusCompleted CallStatus = "completed"
	CallStatusFailed    CallStatus = "failed"
	CallStatusNoAnswer  CallStatus = "no_answer"
	CallStatusBusy      CallStatus = "busy"
)

// IsTerminal reports whether the status is absorbing
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer, CallStatusBusy:
		return true
	}
	return false
}

// CallOutcome is the terminal classification of a call
type CallOutcome string

const (
	OutcomeSuccess   CallOutcome = "success"
	OutcomeFailed    CallOutcome = "failed"
	OutcomeNoAnswer  CallOutcome = "no_answer"
	OutcomeBusy      CallOutcome = "busy"
	OutcomeVoicemail CallOutcome = "voicemail"
)

// AMDVerdict is the voicemail-detector classification of who picked up
type AMDVerdict string

const (
	VerdictHuman     AMDVerdict = "human"
	VerdictMachine   AMDVerdict = "machine"
	VerdictUncertain AMDVerdict = "uncertain"
)

// ForcesVoicemail reports whether the verdict pins the call outcome to voicemail.
// A human verdict carries no forcing power.
func (v AMDVerdict) ForcesVoicemail() bool {
	return v == VerdictMachine || v == VerdictUncertain
}

// HangupCauseLocal marks a termination requested through the hangup
// endpoint rather than reported by the provider.
const HangupCauseLocal = "local hangup"

// CallRecord is the single durable record per attempted call. It is created by
// the dial dispatcher in queued state and mutated exclusively through the
// reconciler; once terminal it is frozen.
type CallRecord struct {
	CallID       string       `json:"call_id" gorm:"column:call_id;primaryKey"`
	Provider     ProviderType `json:"provider" gorm:"column:provider"`
	TargetNumber string       `json:"target_number" gorm:"column:target_number"`
	CampaignID   string       `json:"campaign_id,omitempty" gorm:"column:campaign_id;index"`

	Status  CallStatus  `json:"status" gorm:"column:status"`
	Outcome CallOutcome `json:"outcome,omitempty" gorm:"column:outcome"`

	SIPCode          *int       `json:"sip_code,omitempty" gorm:"column:sip_code"`
	HangupCause      string     `json:"hangup_cause,omitempty" gorm:"column:hangup_cause"`
	VoicemailVerdict AMDVerdict `json:"voicemail_verdict,omitempty" gorm:"column:voicemail_verdict"`
	VoicemailCause   string     `json:"voicemail_cause,omitempty" gorm:"column:voicemail_cause"`

	CreatedAt   time.Time  `json:"created_at" gorm:"column:created_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty" gorm:"column:connected_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" gorm:"column:ended_at"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"column:updated_at"`
}

func (CallRecord) TableName() string {
	return "call_records"
}

// IsTerminal reports whether the record has reached an absorbing state
func (r *CallRecord) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// Clone returns a deep copy suitable for read-only snapshot consumers.
func (r *CallRecord) Clone() *CallRecord {
	out := *r
	if r.SIPCode != nil {
		code := *r.SIPCode
		out.SIPCode = &code
	}
	if r.ConnectedAt != nil {
		t := *r.ConnectedAt
		out.ConnectedAt = &t
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		out.EndedAt = &t
	}
	return &out
}

// ProviderHealth is the operational snapshot of one provider's breaker.
type ProviderHealth struct {
	Provider            ProviderType `json:"provider"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	BreakerState        BreakerState `json:"breaker_state"`
	OpenedAt            *time.Time   `json:"opened_at,omitempty"`
	Dispatched          int64        `json:"dispatched"`
	Succeeded           int64        `json:"succeeded"`
	Failed              int64        `json:"failed"`
}
