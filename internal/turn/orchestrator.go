package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/parleyhq/parley/internal/authz"
	"github.com/parleyhq/parley/internal/capability"
	"github.com/parleyhq/parley/internal/llm"
	apperrors "github.com/parleyhq/parley/internal/platform/errors"
	"github.com/parleyhq/parley/internal/platform/id"
	"github.com/parleyhq/parley/internal/platform/timeouts"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/transcript"
)

// Turn modes.
const (
	// ModeDirect answers in one model call, plus at most one extra call to
	// fold tool results in.
	ModeDirect = "direct"
	// ModeAgent loops model calls and invocations up to the session's step
	// bound.
	ModeAgent = "agent"
)

// stepLimitNotice makes a truncated agent turn explicit to the client.
const stepLimitNotice = "agent step limit reached before a final answer"

// Registry is the capability surface a turn consults. *capability.Registry
// satisfies it.
type Registry interface {
	AuthorizedServers(groups []string) []capability.Descriptor
	ServerForKey(key string) (string, bool)
	IsExclusive(server string) bool
	OperationByKey(key string) (capability.Operation, bool)
	Invoke(ctx context.Context, key string, arguments json.RawMessage) (capability.Result, error)
	GetPrompt(ctx context.Context, key string, arguments map[string]string) (string, error)
}

// TranscriptWriter persists committed turns.
type TranscriptWriter interface {
	SaveTurn(ctx context.Context, turn transcript.Turn) error
}

// Options configure optional orchestrator collaborators.
type Options struct {
	// Transcripts receives every committed turn. Defaults to a no-op store.
	Transcripts TranscriptWriter
	Logger      *log.Logger
	Now         func() time.Time
	NewID       func() string
}

// Orchestrator drives user turns against the model and capability servers.
type Orchestrator struct {
	registry    Registry
	provider    llm.Provider
	transcripts TranscriptWriter
	logger      *log.Logger
	now         func() time.Time
	newID       func() string
}

// New creates an orchestrator over a capability registry and model provider.
func New(registry Registry, provider llm.Provider, opts Options) *Orchestrator {
	transcripts := opts.Transcripts
	if transcripts == nil {
		transcripts = transcript.NewNoop()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = id.MustNewID
	}
	return &Orchestrator{
		registry:    registry,
		provider:    provider,
		transcripts: transcripts,
		logger:      logger,
		now:         now,
		newID:       newID,
	}
}

// Run executes one user turn and closes the stream when the turn stops
// producing events. Failures inside the turn surface as a terminal error
// event; a cancelled turn discards its staged history and emits nothing
// after cancellation is observed.
func (o *Orchestrator) Run(ctx context.Context, sess *session.Session, content string, stream *Stream) {
	defer stream.Close()

	settings := sess.Settings()
	mode := ModeDirect
	maxSteps := 1
	if settings.AgentMode {
		mode = ModeAgent
		maxSteps = settings.AgentMaxSteps
		if maxSteps <= 0 {
			maxSteps = session.DefaultAgentMaxSteps
		}
	}

	run := &turnRun{
		orch:      o,
		sess:      sess,
		stream:    stream,
		settings:  settings,
		mode:      mode,
		maxSteps:  maxSteps,
		turnID:    o.newID(),
		startedAt: o.now().UTC(),
	}

	if err := sess.Begin(); err != nil {
		run.publish(TypeError, ErrorPayload{
			Code:    string(apperrors.CodeOf(err)),
			Message: err.Error(),
		})
		return
	}

	run.publish(TypeTurnStarted, TurnStartedPayload{
		SessionID:    sess.ID,
		Mode:         mode,
		Capabilities: settings.Capabilities,
	})

	run.execute(ctx, content)
}

// turnRun carries the state of one executing turn.
type turnRun struct {
	orch      *Orchestrator
	sess      *session.Session
	stream    *Stream
	settings  session.Settings
	mode      string
	maxSteps  int
	turnID    string
	startedAt time.Time
	seq       uint64
	steps     int
}

func (r *turnRun) publish(kind Type, payload any) {
	r.seq++
	r.stream.Publish(Event{
		Type:      kind,
		TurnID:    r.turnID,
		Seq:       r.seq,
		Timestamp: r.orch.now().UTC(),
		Payload:   payload,
	})
}

func (r *turnRun) execute(ctx context.Context, content string) {
	o := r.orch

	// Validation reduces the requested capability set and never fails the
	// turn; every dropped key surfaces as one warning event.
	var authorizedNames []string
	for _, descriptor := range o.registry.AuthorizedServers(r.sess.Identity.Groups) {
		authorizedNames = append(authorizedNames, descriptor.Name)
	}
	allowed, warnings := authz.ValidateAccess(r.settings.Capabilities, authorizedNames, o.registry.ServerForKey)
	final, exclusivityWarnings := authz.ApplyExclusivity(allowed, o.registry.ServerForKey, o.registry.IsExclusive)
	warnings = append(warnings, exclusivityWarnings...)
	for _, warning := range warnings {
		r.publish(TypeWarning, WarningPayload{Capability: warning.Capability, Reason: warning.Reason})
	}

	tools := make([]llm.Tool, 0, len(final))
	effective := make(map[string]capability.Operation, len(final))
	for _, key := range final {
		op, ok := o.registry.OperationByKey(key)
		if !ok {
			continue
		}
		effective[key] = op
		tools = append(tools, llm.Tool{
			Name:        op.Key,
			Description: op.Description,
			InputSchema: op.InputSchema,
		})
	}

	systemPrompt := r.resolvePrompt(ctx)
	if ctx.Err() != nil {
		r.sess.Discard()
		return
	}

	r.sess.Stage(session.Entry{
		Role:      session.RoleUser,
		Content:   content,
		CreatedAt: o.now().UTC(),
	})

	toolsOff := len(tools) == 0
	var lastText string

	for {
		// Cancellation only takes effect at state boundaries; in-flight
		// work is never force-killed.
		if ctx.Err() != nil {
			r.sess.Discard()
			return
		}

		advertised := tools
		if toolsOff {
			advertised = nil
		}

		r.publish(TypeModelCall, ModelCallPayload{
			Step:      r.steps + 1,
			Model:     r.settings.Model,
			ToolCount: len(advertised),
		})

		response, err := r.completeModelCall(ctx, systemPrompt, advertised)
		if err != nil {
			if ctx.Err() != nil {
				r.sess.Discard()
				return
			}
			r.fail(err)
			return
		}
		lastText = response.Text

		calls := normalizeCalls(response.ToolCalls, o.newID)
		if toolsOff {
			// The final round may not request further operations.
			calls = nil
		}

		if len(calls) == 0 {
			r.sess.Stage(session.Entry{
				Role:      session.RoleAssistant,
				Content:   response.Text,
				CreatedAt: o.now().UTC(),
			})
			r.finish(transcript.OutcomeDone)
			r.publish(TypeFinalAnswer, FinalAnswerPayload{Text: response.Text, Steps: r.steps})
			return
		}

		r.stageAssistant(response.Text, calls)

		if !r.dispatch(ctx, calls, effective) {
			r.sess.Discard()
			return
		}

		r.steps++
		r.publish(TypeStepComplete, StepCompletePayload{Step: r.steps, Invocations: len(calls)})

		if r.settings.AgentMode {
			if r.steps >= r.maxSteps {
				r.finish(transcript.OutcomeStepLimit)
				r.publish(TypeStepLimit, StepLimitPayload{
					Text:   lastText,
					Steps:  r.steps,
					Notice: stepLimitNotice,
				})
				return
			}
			continue
		}
		toolsOff = true
	}
}

// resolvePrompt fetches the session's prompt template. An unavailable prompt
// degrades to a warning; the turn proceeds without it.
func (r *turnRun) resolvePrompt(ctx context.Context) string {
	if r.settings.PromptKey == "" {
		return ""
	}
	text, err := r.orch.registry.GetPrompt(ctx, r.settings.PromptKey, nil)
	if err != nil {
		if ctx.Err() == nil {
			r.publish(TypeWarning, WarningPayload{
				Capability: r.settings.PromptKey,
				Reason:     fmt.Sprintf("prompt unavailable: %v", err),
			})
		}
		return ""
	}
	return text
}

func (r *turnRun) completeModelCall(ctx context.Context, systemPrompt string, tools []llm.Tool) (*llm.Response, error) {
	request := llm.Request{
		Model:          r.settings.Model,
		System:         systemPrompt,
		Messages:       conversationMessages(r.sess.History(), r.sess.Staged()),
		Tools:          tools,
		MaxTokens:      r.settings.MaxTokens,
		Temperature:    r.settings.Temperature,
		RequireToolUse: r.settings.ToolChoiceRequired && len(tools) > 0,
	}

	callCtx, cancel := context.WithTimeout(ctx, timeouts.ModelCall)
	defer cancel()

	response, err := r.orch.provider.Complete(callCtx, request)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, apperrors.Wrap(apperrors.CodeModelCallTimeout,
				fmt.Sprintf("model call timed out after %s", timeouts.ModelCall), err)
		}
		return nil, apperrors.Wrap(apperrors.CodeModelCallFailed, "model call failed", err)
	}
	return response, nil
}

func (r *turnRun) stageAssistant(text string, calls []llm.ToolCall) {
	entry := session.Entry{
		Role:      session.RoleAssistant,
		Content:   text,
		ToolCalls: make([]session.ToolCall, 0, len(calls)),
		CreatedAt: r.orch.now().UTC(),
	}
	for _, call := range calls {
		entry.ToolCalls = append(entry.ToolCalls, session.ToolCall{
			ID:        call.ID,
			Key:       call.Name,
			Arguments: call.Arguments,
		})
	}
	r.sess.Stage(entry)
}

// dispatch fans one step's invocations out, joins them all at a barrier, and
// appends results in the model's request order. It reports false when
// cancellation was observed at the barrier, in which case no resolution
// events are emitted and nothing extra is staged.
func (r *turnRun) dispatch(ctx context.Context, calls []llm.ToolCall, effective map[string]capability.Operation) bool {
	o := r.orch

	for _, call := range calls {
		payload := InvocationRequestedPayload{
			InvocationID: call.ID,
			Capability:   call.Name,
			Arguments:    call.Arguments,
		}
		if op, ok := effective[call.Name]; ok {
			payload.Server = op.Server
			payload.Tool = op.Tool
		}
		r.publish(TypeInvocationRequested, payload)
	}

	type invocationOutcome struct {
		index  int
		result capability.Result
		err    error
	}
	outcomes := make(chan invocationOutcome, len(calls))
	for i, call := range calls {
		go func(index int, call llm.ToolCall) {
			// Keys outside the turn's effective set never reach the
			// registry.
			if _, ok := effective[call.Name]; !ok {
				outcomes <- invocationOutcome{index: index, err: apperrors.WithMetadata(
					apperrors.CodeInvocationUnknownKey,
					"capability is not available for this turn",
					map[string]string{"key": call.Name},
				)}
				return
			}
			result, err := o.registry.Invoke(ctx, call.Name, call.Arguments)
			outcomes <- invocationOutcome{index: index, result: result, err: err}
		}(i, call)
	}

	resolved := make([]invocationOutcome, len(calls))
	for range calls {
		outcome := <-outcomes
		resolved[outcome.index] = outcome
	}

	if ctx.Err() != nil {
		return false
	}

	for i, call := range calls {
		outcome := resolved[i]
		payload := InvocationResolvedPayload{
			InvocationID: call.ID,
			Capability:   call.Name,
		}
		entry := session.Entry{
			Role:         session.RoleTool,
			InvocationID: call.ID,
			Capability:   call.Name,
			CreatedAt:    o.now().UTC(),
		}
		switch {
		case outcome.err != nil:
			payload.Status = InvocationFailed
			payload.Error = outcome.err.Error()
			entry.Content = outcome.err.Error()
			entry.IsError = true
		case outcome.result.IsError:
			payload.Status = InvocationFailed
			payload.Error = outcome.result.Content
			entry.Content = outcome.result.Content
			entry.IsError = true
		default:
			payload.Status = InvocationSucceeded
			payload.Content = outcome.result.Content
			entry.Content = outcome.result.Content
		}
		r.publish(TypeInvocationResolved, payload)
		r.sess.Stage(entry)
	}
	return true
}

// finish commits the staged entries and persists the turn. Persistence runs
// on its own deadline so a late cancellation cannot abort the write.
func (r *turnRun) finish(outcome string) {
	entries := r.sess.Commit()

	saveCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	err := r.orch.transcripts.SaveTurn(saveCtx, transcript.Turn{
		ID:        r.turnID,
		SessionID: r.sess.ID,
		User:      r.sess.Identity.User,
		Model:     r.settings.Model,
		Mode:      r.mode,
		Outcome:   outcome,
		Steps:     r.steps,
		StartedAt: r.startedAt,
		Entries:   transcriptEntries(entries),
	})
	if err != nil {
		r.orch.logger.Printf("save transcript for turn %s: %v", r.turnID, err)
	}
}

// fail commits what the turn staged so far and emits the terminal error
// event. The session stays usable for the next turn.
func (r *turnRun) fail(err error) {
	r.finish(transcript.OutcomeError)
	r.publish(TypeError, ErrorPayload{
		Code:    string(apperrors.CodeOf(err)),
		Message: err.Error(),
	})
}

// normalizeCalls gives every requested invocation a unique non-empty ID
// while preserving the model's request order.
func normalizeCalls(calls []llm.ToolCall, newID func() string) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	normalized := make([]llm.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, call := range calls {
		if call.ID == "" || seen[call.ID] {
			call.ID = newID()
		}
		seen[call.ID] = true
		normalized[i] = call
	}
	return normalized
}

// conversationMessages flattens committed history plus the staged entries of
// the running turn into the model's message list.
func conversationMessages(history, staged []session.Entry) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+len(staged))
	for _, entry := range history {
		messages = append(messages, entryMessage(entry))
	}
	for _, entry := range staged {
		messages = append(messages, entryMessage(entry))
	}
	return messages
}

func entryMessage(entry session.Entry) llm.Message {
	message := llm.Message{
		Role:    llm.Role(entry.Role),
		Content: entry.Content,
	}
	switch entry.Role {
	case session.RoleAssistant:
		for _, call := range entry.ToolCalls {
			message.ToolCalls = append(message.ToolCalls, llm.ToolCall{
				ID:        call.ID,
				Name:      call.Key,
				Arguments: call.Arguments,
			})
		}
	case session.RoleTool:
		message.ToolCallID = entry.InvocationID
	}
	return message
}

func transcriptEntries(entries []session.Entry) []transcript.Entry {
	if len(entries) == 0 {
		return nil
	}
	converted := make([]transcript.Entry, 0, len(entries))
	for _, entry := range entries {
		record := transcript.Entry{
			Role:         string(entry.Role),
			Content:      entry.Content,
			InvocationID: entry.InvocationID,
			Capability:   entry.Capability,
			IsError:      entry.IsError,
			CreatedAt:    entry.CreatedAt,
		}
		for _, call := range entry.ToolCalls {
			record.ToolCalls = append(record.ToolCalls, transcript.ToolCall{
				ID:        call.ID,
				Key:       call.Key,
				Arguments: call.Arguments,
			})
		}
		converted = append(converted, record)
	}
	return converted
}
