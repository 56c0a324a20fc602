package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"cortex/brain"
	"cortex/events"
)

// relayBuffer bounds the events queued for a slow client. Listeners run on
// the backend's goroutine and must not block it.
const relayBuffer = 1024

// exchangeRelay collects the events of one exchange from a Brain. The
// completion or error event travels on terminal and is never dropped.
type exchangeRelay struct {
	brain      *brain.Brain
	exchangeID string
	sub        events.Subscription
	events     chan events.Event
	terminal   chan events.Event
	closeOnce  sync.Once
	done       chan struct{}
	logger     *logrus.Entry
}

// newExchangeRelay subscribes to b before the exchange starts so that no event
// is missed. Close must be called once the relay is no longer read.
func newExchangeRelay(b *brain.Brain, exchangeID string, logger *logrus.Entry) *exchangeRelay {
	r := &exchangeRelay{
		brain:      b,
		exchangeID: exchangeID,
		events:     make(chan events.Event, relayBuffer),
		terminal:   make(chan events.Event, 1),
		done:       make(chan struct{}),
		logger:     logger,
	}
	r.sub = b.Subscribe(r.receive)
	return r
}

func (r *exchangeRelay) receive(ev events.Event) {
	if ev.Exchange != r.exchangeID {
		return
	}
	if isTerminal(ev.Kind) {
		select {
		case <-r.done:
		case r.terminal <- ev:
		}
		return
	}
	select {
	case <-r.done:
	case r.events <- ev:
	default:
		r.logger.WithField("kind", ev.Kind).Warn("Relay buffer full, dropping event")
	}
}

func isTerminal(kind events.Kind) bool {
	return kind == brain.EventCompleted || kind == brain.EventError
}

// pending returns the queued events without waiting.
func (r *exchangeRelay) pending() []events.Event {
	var queued []events.Event
	for {
		select {
		case ev := <-r.events:
			queued = append(queued, ev)
		default:
			return queued
		}
	}
}

// Close unsubscribes from the Brain.
func (r *exchangeRelay) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.brain.Unsubscribe(r.sub)
	})
}

// outcome waits for the completion or error event of the exchange.
func (r *exchangeRelay) outcome(ctx context.Context) (*brain.Response, error) {
	select {
	case ev := <-r.terminal:
		if ev.Kind == brain.EventError {
			if err, ok := ev.NewValue.(error); ok {
				return nil, err
			}
			return nil, fmt.Errorf("exchange failed: %v", ev.NewValue)
		}
		resp, _ := ev.NewValue.(*brain.Response)
		if resp == nil {
			resp = &brain.Response{}
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// streamMessage translates a Brain event into what a streaming client sees.
// The second result is false for events the client does not need.
func streamMessage(ev events.Event, truncateLength int) (StreamMessage, bool) {
	msg := StreamMessage{ExchangeID: ev.Exchange}

	switch ev.Kind {
	case brain.EventTokensCounted:
		msg.Type = "tokens"
		msg.Details = map[string]interface{}{"inputTokens": ev.NewValue}
	case brain.EventPartialChunk:
		msg.Type = "partial"
		msg.Content, _ = ev.NewValue.(string)
	case brain.EventIntermediateStep:
		msg.Type = "intermediate"
		if resp, ok := ev.NewValue.(*brain.Response); ok {
			msg.Content = resp.Text
			var tools []string
			for _, call := range resp.ToolCalls {
				if call.FunctionCall != nil {
					tools = append(tools, call.FunctionCall.Name)
				}
			}
			msg.Details = map[string]interface{}{"toolCalls": tools}
		}
	case brain.EventToolBeforeExecution:
		req, ok := ev.NewValue.(brain.ToolRequest)
		if !ok {
			return msg, false
		}
		msg.Type = "tool"
		msg.Tool = req.Name
		msg.Content = req.Arguments
		msg.Details = map[string]interface{}{"toolCallId": req.ID}
	case brain.EventToolExecuted:
		exec, ok := ev.NewValue.(brain.ToolExecution)
		if !ok {
			return msg, false
		}
		msg.Type = "tool_result"
		msg.Tool = exec.Request.Name
		msg.Content = truncate(exec.Result, truncateLength)
		msg.Complete = true
		msg.Details = map[string]interface{}{"toolCallId": exec.Request.ID}
		if exec.Err != nil {
			msg.Details["error"] = exec.Err.Error()
		}
	case brain.EventCompleted:
		msg.Type = "response"
		msg.Complete = true
		if resp, ok := ev.NewValue.(*brain.Response); ok {
			msg.Content = resp.Text
			if resp.StopReason != "" {
				msg.Details = map[string]interface{}{"stopReason": resp.StopReason}
			}
		}
	case brain.EventError:
		msg.Type = "error"
		msg.Complete = true
		err, _ := ev.NewValue.(error)
		msg.Content = brain.RenderFailure(err)
	default:
		return msg, false
	}
	return msg, true
}

func (s *Server) sendStreamMessage(c echo.Context, msg StreamMessage) {
	data, _ := json.Marshal(msg)
	fmt.Fprintf(c.Response(), "data: %s\n\n", string(data))
	c.Response().Flush()
}
