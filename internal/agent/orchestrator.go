package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/youruser/patchwork/internal/diff"
	"github.com/youruser/patchwork/internal/llm"
	"github.com/youruser/patchwork/internal/logging"
)

var (
	ErrBusy       = errors.New("a request is already in flight")
	ErrNoResponse = errors.New("no response to apply")

	log = logging.Get()
)

// State is the orchestrator's lifecycle phase, reported to the host so the
// editor can show what the assistant is doing.
type State string

const (
	StateIdle     State = "idle"
	StatePlanning State = "planning"
	StateCoding   State = "coding"
	StateError    State = "error"
)

// Sink receives orchestrator events. Implemented by the host adapter. All
// methods are called from the goroutine running the turn; any number of
// OnDelta calls is followed by at most one OnResult.
type Sink interface {
	OnState(turnID string, state State, detail string)
	OnDelta(turnID, content string)
	OnResult(turnID string, resp *Response, usage *llm.Usage)
}

// Streamer is the LLM client surface the orchestrator needs.
type Streamer interface {
	ChatStream(ctx context.Context, model, systemPrompt string, messages []llm.Message, callback llm.StreamCallback) error
}

// Orchestrator runs one conversational turn at a time: send the prompt,
// stream the response, parse it, and hold the parsed changes until the
// host previews or applies them. Strictly single-flight; a second Run
// while one is in flight fails fast with ErrBusy.
type Orchestrator struct {
	client       Streamer
	store        diff.FileStore
	model        string
	systemPrompt string
	sink         Sink

	busy atomic.Bool

	mu           sync.Mutex
	cancel       context.CancelFunc
	history      []llm.Message
	lastResponse *Response
}

// NewOrchestrator wires a client, a file store and an event sink.
func NewOrchestrator(client Streamer, store diff.FileStore, model, systemPrompt string, sink Sink) *Orchestrator {
	return &Orchestrator{
		client:       client,
		store:        store,
		model:        model,
		systemPrompt: systemPrompt,
		sink:         sink,
	}
}

// Busy reports whether a turn is in flight.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// Cancel aborts the in-flight turn, if any. Returns whether there was one.
// The canceled turn emits no terminal result; the host sees a transition
// back to idle.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel == nil {
		return false
	}
	o.cancel()
	o.cancel = nil
	return true
}

// Run executes one turn synchronously: stream the model's answer, emit
// deltas to the sink, then parse and emit the result. Returns the turn ID
// assigned to this run.
func (o *Orchestrator) Run(ctx context.Context, prompt string) (string, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	defer o.busy.Store(false)

	turnID := uuid.NewString()

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.history = append(o.history, llm.Message{Role: "user", Content: prompt})
	messages := make([]llm.Message, len(o.history))
	copy(messages, o.history)
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
	}()

	log.Info("Turn %s: %d messages, ~%d prompt tokens", turnID, len(messages), llm.EstimateTokensSimple(prompt))
	o.sink.OnState(turnID, StatePlanning, "")

	var (
		fullText  string
		usage     *llm.Usage
		streamErr string
	)
	err := o.client.ChatStream(ctx, o.model, o.systemPrompt, messages, func(ev llm.StreamEvent) {
		switch ev.Type {
		case llm.EventDelta:
			o.sink.OnDelta(turnID, ev.Content)
		case llm.EventComplete:
			fullText = ev.FullText
			usage = ev.Usage
		case llm.EventError:
			streamErr = ev.Error
		}
	})

	if ctx.Err() != nil {
		log.Info("Turn %s canceled", turnID)
		o.sink.OnState(turnID, StateIdle, "canceled")
		return turnID, ctx.Err()
	}
	if err != nil {
		detail := err.Error()
		if streamErr != "" {
			detail = streamErr
		}
		log.Error("Turn %s failed: %s", turnID, detail)
		o.sink.OnState(turnID, StateError, detail)
		o.sink.OnState(turnID, StateIdle, "")
		return turnID, err
	}

	resp := ParseResponse(fullText)

	o.mu.Lock()
	o.history = append(o.history, llm.Message{Role: "assistant", Content: fullText})
	o.lastResponse = resp
	o.mu.Unlock()

	if resp.HasChanges() {
		o.sink.OnState(turnID, StateCoding, fmt.Sprintf("%d changes", len(resp.Changes)))
	}
	o.sink.OnResult(turnID, resp, usage)
	o.sink.OnState(turnID, StateIdle, "")
	return turnID, nil
}

// Reset clears conversation history and any pending response.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = nil
	o.lastResponse = nil
}

// LastResponse returns the most recent parsed response, or nil.
func (o *Orchestrator) LastResponse() *Response {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastResponse
}

// ApplySummary aggregates per-file patch results for one apply or preview
// pass over a response's changes.
type ApplySummary struct {
	Results   []diff.PatchResult
	Applied   int
	Conflicts int
	Errors    int
	Additions int
	Deletions int
}

// Message renders a one-line human summary, listing the reasons for any
// files that did not apply.
func (s *ApplySummary) Message() string {
	msg := fmt.Sprintf("%d applied, %d conflicts, %d errors (+%d/-%d lines)",
		s.Applied, s.Conflicts, s.Errors, s.Additions, s.Deletions)
	var reasons []string
	for _, r := range s.Results {
		if r.Outcome != diff.Applied {
			reasons = append(reasons, fmt.Sprintf("%s: %s", r.Path, r.Reason))
		}
	}
	if len(reasons) > 0 {
		msg += "; " + strings.Join(reasons, "; ")
	}
	return msg
}

// Preview validates the pending response's diffs without writing anything.
func (o *Orchestrator) Preview() (*ApplySummary, error) {
	return o.applyPending(true)
}

// Apply writes the pending response's diffs to the file store. Files are
// independent: a conflict in one file does not stop the others.
func (o *Orchestrator) Apply() (*ApplySummary, error) {
	return o.applyPending(false)
}

func (o *Orchestrator) applyPending(preview bool) (*ApplySummary, error) {
	o.mu.Lock()
	resp := o.lastResponse
	o.mu.Unlock()
	if resp == nil || !resp.HasChanges() {
		return nil, ErrNoResponse
	}

	applier := &diff.Applier{Store: o.store, Preview: preview}
	summary := &ApplySummary{}
	for _, fd := range resp.ParseDiffs() {
		r := applier.Apply(fd)
		summary.Results = append(summary.Results, r)
		switch r.Outcome {
		case diff.Applied:
			summary.Applied++
			summary.Additions += r.Additions
			summary.Deletions += r.Deletions
		case diff.Conflicted:
			summary.Conflicts++
		case diff.Errored:
			summary.Errors++
		}
	}
	log.Info("Apply (preview=%v): %s", preview, summary.Message())
	return summary, nil
}
