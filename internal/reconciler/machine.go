package reconciler

import (
	"time"

	"github.com/veritel-ai/dialer-service/internal/domain"
	"github.com/veritel-ai/dialer-service/internal/outcome"
)

// applyResult describes what a single event did to a record.
type applyResult struct {
	changed        bool
	becameTerminal bool
	dropped        bool
	dropReason     string
	// providerFault is meaningful only when becameTerminal is true; it
	// decides whether the terminal outcome counts against the breaker.
	providerFault bool
}

var sipRequestTerminated = 487

// apply runs one event against the record under the precedence rules.
// Events are never "last write wins": a terminal record absorbs everything
// except the first forcing voicemail verdict, and progress events only move
// forward. The caller serializes invocations per call.
func apply(rec *domain.CallRecord, ev Event, table *outcome.Table, now time.Time) applyResult {
	switch e := ev.(type) {
	case VoicemailVerdict:
		return applyVoicemail(rec, e, now)
	case PlacementAck:
		if rec.IsTerminal() {
			return dropped("terminal")
		}
		if rec.Status != domain.CallStatusQueued {
			return dropped("stale placement ack")
		}
		rec.Status = domain.CallStatusRinging
		return applyResult{changed: true}
	case ProgressEvent:
		return applyProgress(rec, e, now)
	case TerminationSignal:
		if rec.IsTerminal() {
			return dropped("terminal")
		}
		m := table.Resolve(e.SIPCode, e.ProviderReason)
		fault := table.IsProviderFault(e.SIPCode, e.Synthetic)
		terminate(rec, m, e.SIPCode, e.ProviderReason, now)
		return applyResult{changed: true, becameTerminal: true, providerFault: fault}
	case HangupCommand:
		if rec.IsTerminal() {
			return dropped("terminal")
		}
		// Before connect a local hangup is a cancellation (487 semantics);
		// after connect the call simply completed. Neither is a provider
		// fault.
		if rec.ConnectedAt == nil {
			m := table.Resolve(&sipRequestTerminated, "")
			terminate(rec, m, &sipRequestTerminated, domain.HangupCauseLocal, now)
		} else {
			m := outcome.Mapping{Status: domain.CallStatusCompleted, Outcome: domain.OutcomeSuccess}
			terminate(rec, m, nil, domain.HangupCauseLocal, now)
		}
		return applyResult{changed: true, becameTerminal: true}
	}
	return dropped("unknown event kind")
}

func applyVoicemail(rec *domain.CallRecord, e VoicemailVerdict, now time.Time) applyResult {
	if !e.Verdict.ForcesVoicemail() {
		// A human verdict carries no forcing power; it only permits the
		// call to continue toward talking.
		if rec.IsTerminal() {
			return dropped("terminal")
		}
		if rec.VoicemailVerdict == "" {
			rec.VoicemailVerdict = e.Verdict
			return applyResult{changed: true}
		}
		return dropped("verdict already recorded")
	}

	// Machine/uncertain has the highest precedence of all event kinds: it
	// re-stamps the outcome even when a termination signal already landed,
	// as long as the record has not been frozen for export.
	if rec.VoicemailVerdict.ForcesVoicemail() {
		return dropped("voicemail already forced")
	}

	wasTerminal := rec.IsTerminal()
	rec.VoicemailVerdict = e.Verdict
	rec.VoicemailCause = e.Cause
	rec.Status = domain.CallStatusCompleted
	rec.Outcome = domain.OutcomeVoicemail
	if rec.EndedAt == nil {
		t := now
		rec.EndedAt = &t
	}
	return applyResult{changed: true, becameTerminal: !wasTerminal}
}

func applyProgress(rec *domain.CallRecord, e ProgressEvent, now time.Time) applyResult {
	if rec.IsTerminal() {
		return dropped("terminal")
	}
	switch e.NewStatus {
	case domain.CallStatusRinging:
		// Ringing usually arrives as the placement ack, but a provider
		// webhook can beat the ack; accept it from queued too.
		if rec.Status != domain.CallStatusQueued {
			return dropped("duplicate ringing")
		}
		rec.Status = domain.CallStatusRinging
		return applyResult{changed: true}
	case domain.CallStatusConnected:
		if rec.Status != domain.CallStatusRinging {
			return dropped("out-of-order connected")
		}
		rec.Status = domain.CallStatusConnected
		t := now
		rec.ConnectedAt = &t
		return applyResult{changed: true}
	case domain.CallStatusTalking:
		if rec.Status != domain.CallStatusConnected {
			return dropped("out-of-order talking")
		}
		rec.Status = domain.CallStatusTalking
		return applyResult{changed: true}
	}
	return dropped("invalid progress status")
}

// terminate stamps the terminal pair. sip_code and hangup_cause are
// idempotent first-writer-wins; ended_at is set exactly once.
func terminate(rec *domain.CallRecord, m outcome.Mapping, sipCode *int, cause string, now time.Time) {
	rec.Status = m.Status
	rec.Outcome = m.Outcome
	if rec.SIPCode == nil && sipCode != nil {
		code := *sipCode
		rec.SIPCode = &code
	}
	if rec.HangupCause == "" && cause != "" {
		rec.HangupCause = cause
	}
	if rec.EndedAt == nil {
		t := now
		rec.EndedAt = &t
	}
}

func dropped(reason string) applyResult {
	return applyResult{dropped: true, dropReason: reason}
}
