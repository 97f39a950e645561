package reconciler

import (
	"github.com/veritel-ai/dialer-service/internal/domain"
)

// Kind identifies one of the five independent event kinds that drive the
// call state machine. They may arrive in any order, from any signal source,
// with arbitrary delay relative to each other.
type Kind string

const (
	KindPlacementAck Kind = "placement_ack"
	KindProgress     Kind = "progress"
	KindTermination  Kind = "termination"
	KindVoicemail    Kind = "voicemail_verdict"
	KindHangup       Kind = "hangup_command"
)

// Event is anything the reconciler can apply to a call record.
type Event interface {
	CallID() string
	Kind() Kind
}

// PlacementAck confirms the provider accepted the placement request:
// queued -> ringing.
type PlacementAck struct {
	ID       string
	Provider domain.ProviderType
}

func (e PlacementAck) CallID() string { return e.ID }
func (e PlacementAck) Kind() Kind     { return KindPlacementAck }

// ProgressEvent advances a live call: ringing -> connected or
// connected -> talking. Anything else is dropped as out of order.
type ProgressEvent struct {
	ID        string
	NewStatus domain.CallStatus
}

func (e ProgressEvent) CallID() string { return e.ID }
func (e ProgressEvent) Kind() Kind     { return KindProgress }

// TerminationSignal carries a SIP code and/or provider-native reason and
// resolves through the mapping table. Synthetic is set when the poller
// manufactures the signal after its ceiling elapses; synthetic terminations
// always count as provider faults.
type TerminationSignal struct {
	ID             string
	SIPCode        *int
	ProviderReason string
	Synthetic      bool
}

func (e TerminationSignal) CallID() string { return e.ID }
func (e TerminationSignal) Kind() Kind     { return KindTermination }

// VoicemailVerdict is the AMD classification. A machine or uncertain verdict
// outranks every other event kind for the final outcome.
type VoicemailVerdict struct {
	ID      string
	Verdict domain.AMDVerdict
	Cause   string
}

func (e VoicemailVerdict) CallID() string { return e.ID }
func (e VoicemailVerdict) Kind() Kind     { return KindVoicemail }

// HangupCommand is the user-initiated local hangup. It terminates as SIP 487
// if the call had not yet connected, or as a normal completion otherwise.
type HangupCommand struct {
	ID string
}

func (e HangupCommand) CallID() string { return e.ID }
func (e HangupCommand) Kind() Kind     { return KindHangup }
