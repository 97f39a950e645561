package ari

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veritel-ai/dialer-service/internal/domain"
	"github.com/veritel-ai/dialer-service/internal/reconciler"
)

type captureSink struct {
	events []reconciler.Event
}

func (s *captureSink) Submit(ev reconciler.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func TestCauseToSIP(t *testing.T) {
	cases := []struct {
		name  string
		cause int
		want  int
		ok    bool
	}{
		{name: "normal clearing", cause: 16, want: 200, ok: true},
		{name: "user busy", cause: 17, want: 486, ok: true},
		{name: "no user responding", cause: 18, want: 480, ok: true},
		{name: "no answer", cause: 19, want: 480, ok: true},
		{name: "call rejected maps to decline", cause: 21, want: 603, ok: true},
		{name: "invalid number", cause: 28, want: 404, ok: true},
		{name: "congestion", cause: 34, want: 503, ok: true},
		{name: "unknown cause", cause: 127, ok: false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := causeToSIP(c.cause)
			assert.Equal(t, c.ok, ok)
			if c.ok {
				assert.Equal(t, c.want, got)
			}
		})
	}
}

func TestHandleMessageChannelDestroyed(t *testing.T) {
	sink := &captureSink{}
	s := NewEventStream(NewClient("http://localhost:8088", "u", "p", "dialer"), sink)

	s.handleMessage([]byte(`{"type":"ChannelDestroyed","cause":21,"channel":{"id":"call-1","state":"Down"}}`))

	require.Len(t, sink.events, 1)
	sig, ok := sink.events[0].(reconciler.TerminationSignal)
	require.True(t, ok)
	assert.Equal(t, "call-1", sig.CallID())
	require.NotNil(t, sig.SIPCode)
	assert.Equal(t, 603, *sig.SIPCode)
	assert.False(t, sig.Synthetic)
}

func TestHandleMessageUnknownCauseFallsBack(t *testing.T) {
	sink := &captureSink{}
	s := NewEventStream(NewClient("http://localhost:8088", "u", "p", "dialer"), sink)

	s.handleMessage([]byte(`{"type":"ChannelDestroyed","cause":127,"channel":{"id":"call-1"}}`))

	require.Len(t, sink.events, 1)
	sig := sink.events[0].(reconciler.TerminationSignal)
	assert.Nil(t, sig.SIPCode)
	assert.Equal(t, "provider-error", sig.ProviderReason)
}

func TestHandleMessageProgress(t *testing.T) {
	sink := &captureSink{}
	s := NewEventStream(NewClient("http://localhost:8088", "u", "p", "dialer"), sink)

	s.handleMessage([]byte(`{"type":"ChannelStateChange","channel":{"id":"call-1","state":"Ringing"}}`))
	s.handleMessage([]byte(`{"type":"ChannelStateChange","channel":{"id":"call-1","state":"Up"}}`))
	s.handleMessage([]byte(`{"type":"ChannelTalkingStarted","channel":{"id":"call-1"}}`))

	require.Len(t, sink.events, 3)
	assert.Equal(t, domain.CallStatusRinging, sink.events[0].(reconciler.ProgressEvent).NewStatus)
	assert.Equal(t, domain.CallStatusConnected, sink.events[1].(reconciler.ProgressEvent).NewStatus)
	assert.Equal(t, domain.CallStatusTalking, sink.events[2].(reconciler.ProgressEvent).NewStatus)
}

func TestHandleMessageIgnoresIrrelevantEvents(t *testing.T) {
	sink := &captureSink{}
	s := NewEventStream(NewClient("http://localhost:8088", "u", "p", "dialer"), sink)

	s.handleMessage([]byte(`{"type":"PlaybackStarted"}`))
	s.handleMessage([]byte(`{"type":"ChannelStateChange","channel":{"id":"","state":"Up"}}`))
	s.handleMessage([]byte(`not json`))

	assert.Empty(t, sink.events)
}

func TestWSURL(t *testing.T) {
	s := NewEventStream(NewClient("http://asterisk:8088", "user", "secret", "dialer"), &captureSink{})
	url := s.wsURL()
	assert.Contains(t, url, "ws://asterisk:8088/ari/events?")
	assert.Contains(t, url, "app=dialer")
	assert.Contains(t, url, "api_key=user%3Asecret")
}

func TestMapChannelState(t *testing.T) {
	assert.Equal(t, domain.CallStatusQueued, mapChannelState("Down"))
	assert.Equal(t, domain.CallStatusRinging, mapChannelState("Ringing"))
	assert.Equal(t, domain.CallStatusConnected, mapChannelState("Up"))
	assert.Equal(t, domain.CallStatusQueued, mapChannelState("Unknown"))
}
