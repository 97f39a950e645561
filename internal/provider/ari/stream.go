package ari

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/veritel-ai/dialer-service/internal/domain"
	"github.com/veritel-ai/dialer-service/internal/reconciler"
	"github.com/veritel-ai/dialer-service/pkg/logger"
	"go.uber.org/zap"
)

// Submitter receives the reconciler events translated from the ARI stream.
type Submitter interface {
	Submit(ev reconciler.Event) error
}

// ariEvent is the envelope shared by all ARI websocket events
type ariEvent struct {
	Type    string `json:"type"`
	Channel struct {
		ID    string `json:"id"`
		State string `json:"state"`
	} `json:"channel"`
	Cause int `json:"cause"`
}

// EventStream consumes the ARI websocket and translates channel events into
// reconciler events. It reconnects with exponential backoff until the
// context is cancelled; a dropped websocket only degrades this deployment
// flavor to poller-driven reconciliation.
type EventStream struct {
	client *Client
	sink   Submitter
	dialer *websocket.Dialer
}

// NewEventStream creates a stream bound to one ARI deployment
func NewEventStream(client *Client, sink Submitter) *EventStream {
	return &EventStream{
		client: client,
		sink:   sink,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (s *EventStream) wsURL() string {
	base := strings.Replace(s.client.BaseURL, "http", "ws", 1)
	params := url.Values{}
	params.Set("app", s.client.AppName)
	params.Set("api_key", fmt.Sprintf("%s:%s", s.client.Username, s.client.Password))
	params.Set("subscribeAll", "false")
	return base + "/ari/events?" + params.Encode()
}

// Run connects and pumps events until the context is cancelled.
func (s *EventStream) Run(ctx context.Context) {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)

	operation := func() error {
		conn, _, err := s.dialer.DialContext(ctx, s.wsURL(), nil)
		if err != nil {
			return fmt.Errorf("failed to connect ARI websocket: %w", err)
		}
		logger.Base().Info("ARI event stream connected", zap.String("app", s.client.AppName))

		err = s.readPump(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		policy.Reset()
		return err
	}

	notify := func(err error, next time.Duration) {
		logger.Base().Warn("ARI event stream disconnected, reconnecting",
			zap.Error(err), zap.Duration("next_attempt_in", next))
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil && ctx.Err() == nil {
		logger.Base().Error("ARI event stream stopped", zap.Error(err))
	}
}

func (s *EventStream) readPump(ctx context.Context, conn *websocket.Conn) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read failed: %w", err)
		}
		s.handleMessage(data)
	}
}

func (s *EventStream) handleMessage(data []byte) {
	var ev ariEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		logger.Base().Warn("failed to parse ARI event", zap.Error(err))
		return
	}
	if ev.Channel.ID == "" {
		return
	}

	callID := ev.Channel.ID
	var out reconciler.Event

	switch ev.Type {
	case "ChannelStateChange":
		switch ev.Channel.State {
		case "Ring", "Ringing":
			// Placement ack already moved the record to ringing; repeated
			// ringing notifications are duplicates the reconciler absorbs.
			out = reconciler.ProgressEvent{ID: callID, NewStatus: domain.CallStatusRinging}
		case "Up":
			out = reconciler.ProgressEvent{ID: callID, NewStatus: domain.CallStatusConnected}
		}
	case "StasisStart":
		out = reconciler.ProgressEvent{ID: callID, NewStatus: domain.CallStatusConnected}
	case "ChannelTalkingStarted":
		out = reconciler.ProgressEvent{ID: callID, NewStatus: domain.CallStatusTalking}
	case "ChannelDestroyed":
		sig := reconciler.TerminationSignal{ID: callID}
		if code, ok := causeToSIP(ev.Cause); ok {
			sig.SIPCode = &code
		} else {
			sig.ProviderReason = "provider-error"
		}
		out = sig
	}

	if out == nil {
		return
	}
	if err := s.sink.Submit(out); err != nil {
		logger.Base().Debug("ARI event not applied",
			zap.String("call_id", callID),
			zap.String("type", ev.Type),
			zap.Error(err))
	}
}
