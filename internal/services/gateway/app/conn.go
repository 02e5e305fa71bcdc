package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/net/websocket"

	"github.com/parleyhq/parley/internal/authz"
	apperrors "github.com/parleyhq/parley/internal/platform/errors"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/turn"
)

// Inbound frame types.
const (
	frameTurnStart      = "turn.start"
	frameTurnCancel     = "turn.cancel"
	frameSessionReset   = "session.reset"
	frameSessionHistory = "session.history"
)

// Outbound frame types.
const (
	frameTurnEvent    = "turn.event"
	frameSessionState = "session.state"
	frameError        = "error"
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type turnStartPayload struct {
	Content            string   `json:"content"`
	Model              string   `json:"model,omitempty"`
	Capabilities       []string `json:"capabilities,omitempty"`
	Prompt             string   `json:"prompt,omitempty"`
	MaxTokens          int      `json:"max_tokens,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
	ToolChoiceRequired bool     `json:"tool_choice_required,omitempty"`
	AgentMode          bool     `json:"agent_mode,omitempty"`
	AgentMaxSteps      int      `json:"agent_max_steps,omitempty"`
}

type sessionStatePayload struct {
	SessionID    string              `json:"session_id"`
	User         string              `json:"user"`
	TurnActive   bool                `json:"turn_active"`
	Capabilities []capabilitySummary `json:"capabilities,omitempty"`
	History      []historyEntry      `json:"history,omitempty"`
}

type capabilitySummary struct {
	Server     string   `json:"server"`
	Exclusive  bool     `json:"exclusive,omitempty"`
	Operations []string `json:"operations,omitempty"`
	Prompts    []string `json:"prompts,omitempty"`
}

type historyEntry struct {
	Role         string `json:"role"`
	Content      string `json:"content,omitempty"`
	InvocationID string `json:"invocation_id,omitempty"`
	Capability   string `json:"capability,omitempty"`
	IsError      bool   `json:"is_error,omitempty"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// wsPeer serializes frame writes; the event forwarder and the frame loop
// share the connection.
type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// wsConn is the state of one connection: one session, at most one running
// turn. The frame loop is the only goroutine that touches the session while
// no turn runs; while one does, the turn task owns it.
type wsConn struct {
	peer         *wsPeer
	sess         *session.Session
	orchestrator *turn.Orchestrator
	registry     turn.Registry
	defaultModel string
	logger       *log.Logger

	mu         sync.Mutex
	cancelTurn context.CancelFunc
	turnDone   chan struct{}
}

func handleConn(conn *websocket.Conn, identity authz.Identity, orchestrator *turn.Orchestrator, config Config) {
	defer func() {
		_ = conn.Close()
	}()

	sess, err := session.New(identity, nil, nil)
	if err != nil {
		config.Logger.Printf("gateway: create session: %v", err)
		return
	}

	c := &wsConn{
		peer:         newWSPeer(json.NewEncoder(conn)),
		sess:         sess,
		orchestrator: orchestrator,
		registry:     config.Registry,
		defaultModel: config.DefaultModel,
		logger:       config.Logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer c.stopActiveTurn()

	c.writeSessionState("", false)

	decoder := json.NewDecoder(conn)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			c.writeError("", apperrors.New(apperrors.CodeProtocolInvalidFrame, "invalid frame payload"))
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			c.writeError(frame.RequestID, apperrors.New(apperrors.CodeProtocolPayloadTooLarge, "payload too large"))
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			c.writeError(frame.RequestID, apperrors.New(apperrors.CodeProtocolRateLimited, "frame rate limit exceeded"))
			return
		}

		switch frame.Type {
		case frameTurnStart:
			c.handleTurnStart(ctx, frame)
		case frameTurnCancel:
			c.handleTurnCancel(frame)
		case frameSessionReset:
			c.handleSessionReset(frame)
		case frameSessionHistory:
			c.handleSessionHistory(frame)
		default:
			c.writeError(frame.RequestID, apperrors.New(apperrors.CodeProtocolInvalidFrame, "unsupported frame type"))
		}
	}
}

func (c *wsConn) handleTurnStart(ctx context.Context, frame wsFrame) {
	var payload turnStartPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		c.writeError(frame.RequestID, apperrors.New(apperrors.CodeProtocolInvalidTurn, "invalid turn.start payload"))
		return
	}

	content := strings.TrimSpace(payload.Content)
	if content == "" {
		c.writeError(frame.RequestID, apperrors.New(apperrors.CodeTurnEmptyContent, "content is required"))
		return
	}
	if utf8.RuneCountInString(content) > maxContentRunes {
		c.writeError(frame.RequestID, apperrors.New(apperrors.CodeProtocolInvalidTurn, "content must be at most 8192 characters"))
		return
	}
	if payload.AgentMaxSteps < 0 {
		c.writeError(frame.RequestID, apperrors.New(apperrors.CodeTurnInvalidMaxSteps, "agent_max_steps must not be negative"))
		return
	}

	// A new turn replaces a running one. The old turn stops emitting
	// before the new stream starts.
	c.stopActiveTurn()

	model := strings.TrimSpace(payload.Model)
	if model == "" {
		model = c.defaultModel
	}
	c.sess.ApplySettings(session.Settings{
		Model:              model,
		Capabilities:       payload.Capabilities,
		PromptKey:          strings.TrimSpace(payload.Prompt),
		MaxTokens:          payload.MaxTokens,
		Temperature:        payload.Temperature,
		ToolChoiceRequired: payload.ToolChoiceRequired,
		AgentMode:          payload.AgentMode,
		AgentMaxSteps:      payload.AgentMaxSteps,
	})

	stream := turn.NewStream()
	turnCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.cancelTurn = cancel
	c.turnDone = done
	c.mu.Unlock()

	go c.orchestrator.Run(turnCtx, c.sess, content, stream)
	go func() {
		defer close(done)
		defer cancel()
		c.forwardEvents(stream)
	}()
}

// forwardEvents copies turn events onto the wire until the stream closes.
// Write failures are ignored so a gone client cannot stall the turn.
func (c *wsConn) forwardEvents(stream *turn.Stream) {
	for {
		event, err := stream.Next(context.Background())
		if err != nil {
			return
		}
		_ = c.peer.writeFrame(wsFrame{Type: frameTurnEvent, Payload: mustJSON(event)})
	}
}

func (c *wsConn) handleTurnCancel(frame wsFrame) {
	c.stopActiveTurn()
	c.writeSessionState(frame.RequestID, false)
}

func (c *wsConn) handleSessionReset(frame wsFrame) {
	if c.turnRunning() {
		c.writeError(frame.RequestID, apperrors.New(apperrors.CodeTurnAlreadyActive, "cancel the active turn before resetting"))
		return
	}
	c.sess.Reset()
	c.writeSessionState(frame.RequestID, false)
}

func (c *wsConn) handleSessionHistory(frame wsFrame) {
	if c.turnRunning() {
		c.writeError(frame.RequestID, apperrors.New(apperrors.CodeTurnAlreadyActive, "cancel the active turn before requesting history"))
		return
	}
	c.writeSessionState(frame.RequestID, true)
}

// stopActiveTurn cancels the running turn and waits for its stream to
// drain. After it returns the session has no open staging window.
func (c *wsConn) stopActiveTurn() {
	c.mu.Lock()
	cancel, done := c.cancelTurn, c.turnDone
	c.cancelTurn, c.turnDone = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// turnRunning reports whether a turn task still owns the session.
func (c *wsConn) turnRunning() bool {
	c.mu.Lock()
	done := c.turnDone
	c.mu.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (c *wsConn) writeSessionState(requestID string, includeHistory bool) {
	state := sessionStatePayload{
		SessionID:    c.sess.ID,
		User:         c.sess.Identity.User,
		TurnActive:   c.turnRunning(),
		Capabilities: c.capabilitySummaries(),
	}
	if includeHistory {
		for _, entry := range c.sess.History() {
			state.History = append(state.History, historyEntry{
				Role:         string(entry.Role),
				Content:      entry.Content,
				InvocationID: entry.InvocationID,
				Capability:   entry.Capability,
				IsError:      entry.IsError,
			})
		}
	}
	_ = c.peer.writeFrame(wsFrame{
		Type:      frameSessionState,
		RequestID: requestID,
		Payload:   mustJSON(state),
	})
}

// capabilitySummaries lists the servers this identity may use.
func (c *wsConn) capabilitySummaries() []capabilitySummary {
	descriptors := c.registry.AuthorizedServers(c.sess.Identity.Groups)
	summaries := make([]capabilitySummary, 0, len(descriptors))
	for _, descriptor := range descriptors {
		summary := capabilitySummary{
			Server:    descriptor.Name,
			Exclusive: descriptor.Exclusive,
		}
		for _, operation := range descriptor.Operations {
			summary.Operations = append(summary.Operations, operation.Key)
		}
		for _, prompt := range descriptor.Prompts {
			summary.Prompts = append(summary.Prompts, prompt.Key)
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// writeError emits an error frame carrying the wire form of err.
func (c *wsConn) writeError(requestID string, err error) {
	wire := apperrors.CodeOf(err).WireCode()
	_ = c.peer.writeFrame(wsFrame{
		Type:      frameError,
		RequestID: requestID,
		Payload: mustJSON(wsErrorEnvelope{Error: wsError{
			Code:      wire,
			Message:   err.Error(),
			Retryable: wire == "RESOURCE_EXHAUSTED" || wire == "UNAVAILABLE",
		}}),
	})
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return data
}
