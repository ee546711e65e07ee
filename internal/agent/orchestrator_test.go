package agent

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youruser/patchwork/internal/llm"
)

type memStore struct {
	mu     sync.Mutex
	files  map[string]string
	writes int
}

func newMemStore(files map[string]string) *memStore {
	if files == nil {
		files = map[string]string{}
	}
	return &memStore{files: files}
}

func (m *memStore) Read(p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return []byte(content), nil
}

func (m *memStore) Write(p string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.files[p] = string(data)
	return nil
}

func (m *memStore) Delete(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, p)
	return nil
}

func (m *memStore) Exists(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p == "." {
		return true
	}
	if _, ok := m.files[p]; ok {
		return true
	}
	for stored := range m.files {
		if strings.HasPrefix(stored, p+"/") {
			return true
		}
	}
	return false
}

// scriptedStreamer replays a fixed answer as deltas and a complete event.
type scriptedStreamer struct {
	answer  string
	err     error
	started chan struct{}
}

func (s *scriptedStreamer) ChatStream(ctx context.Context, model, systemPrompt string, messages []llm.Message, cb llm.StreamCallback) error {
	if s.started != nil {
		close(s.started)
		s.started = nil
	}
	if s.err != nil {
		cb(llm.StreamEvent{Type: llm.EventError, Error: s.err.Error()})
		return s.err
	}
	for _, chunk := range splitChunks(s.answer, 7) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		cb(llm.StreamEvent{Type: llm.EventDelta, Content: chunk})
	}
	cb(llm.StreamEvent{Type: llm.EventComplete, FullText: s.answer, Usage: &llm.Usage{PromptTokens: 5, CompletionTokens: 9, TotalTokens: 14}})
	return nil
}

func splitChunks(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// blockingStreamer holds the stream open until the context is canceled.
type blockingStreamer struct {
	started chan struct{}
}

func (s *blockingStreamer) ChatStream(ctx context.Context, model, systemPrompt string, messages []llm.Message, cb llm.StreamCallback) error {
	close(s.started)
	<-ctx.Done()
	return ctx.Err()
}

type recordingSink struct {
	mu      sync.Mutex
	states  []State
	details []string
	deltas  []string
	results []*Response
}

func (s *recordingSink) OnState(turnID string, state State, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	s.details = append(s.details, detail)
}

func (s *recordingSink) OnDelta(turnID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltas = append(s.deltas, content)
}

func (s *recordingSink) OnResult(turnID string, resp *Response, usage *llm.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, resp)
}

const twoFileAnswer = `{"plan":["fix both files"],"changes":[
	{"file":"ok.go","diff":"--- a/ok.go\n+++ b/ok.go\n@@ -1,2 +1,2 @@\n package p\n-var a = 1\n+var a = 2\n","action":"modify"},
	{"file":"bad.go","diff":"--- a/bad.go\n+++ b/bad.go\n@@ -1,1 +1,1 @@\n-not the real line\n+replacement\n","action":"modify"}
],"summary":"two edits"}`

func TestRunStreamsAndParses(t *testing.T) {
	streamer := &scriptedStreamer{answer: twoFileAnswer}
	sink := &recordingSink{}
	o := NewOrchestrator(streamer, newMemStore(nil), "test-model", "sys", sink)

	turnID, err := o.Run(context.Background(), "fix it")
	require.NoError(t, err)
	assert.NotEmpty(t, turnID)
	assert.False(t, o.Busy())

	assert.Equal(t, twoFileAnswer, strings.Join(sink.deltas, ""))
	require.Len(t, sink.results, 1)
	assert.Equal(t, "two edits", sink.results[0].Summary)
	assert.Len(t, sink.results[0].Changes, 2)

	// planning -> coding -> idle for a response with changes.
	assert.Equal(t, []State{StatePlanning, StateCoding, StateIdle}, sink.states)
}

func TestRunSingleFlight(t *testing.T) {
	streamer := &blockingStreamer{started: make(chan struct{})}
	sink := &recordingSink{}
	o := NewOrchestrator(streamer, newMemStore(nil), "m", "sys", sink)

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), "first")
		done <- err
	}()
	<-streamer.started

	_, err := o.Run(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)
	assert.True(t, o.Busy())

	o.Cancel()
	<-done
	assert.False(t, o.Busy())
}

func TestRunStreamFailure(t *testing.T) {
	streamer := &scriptedStreamer{err: llm.ErrStreamError}
	sink := &recordingSink{}
	o := NewOrchestrator(streamer, newMemStore(nil), "m", "sys", sink)

	_, err := o.Run(context.Background(), "hi")
	require.Error(t, err)

	assert.Empty(t, sink.results, "failed turn must not emit a result")
	assert.Equal(t, []State{StatePlanning, StateError, StateIdle}, sink.states)
}

func TestRunCancel(t *testing.T) {
	streamer := &blockingStreamer{started: make(chan struct{})}
	sink := &recordingSink{}
	o := NewOrchestrator(streamer, newMemStore(nil), "m", "sys", sink)

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), "long task")
		done <- err
	}()
	<-streamer.started

	require.True(t, o.Cancel())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Empty(t, sink.results, "canceled turn must not emit a result")
	require.NotEmpty(t, sink.states)
	assert.Equal(t, StateIdle, sink.states[len(sink.states)-1])
	assert.Equal(t, "canceled", sink.details[len(sink.details)-1])

	assert.False(t, o.Cancel(), "no turn left to cancel")
}

func TestApplyAggregatesMixedOutcomes(t *testing.T) {
	store := newMemStore(map[string]string{
		"ok.go":  "package p\nvar a = 1\n",
		"bad.go": "totally different content\n",
	})
	streamer := &scriptedStreamer{answer: twoFileAnswer}
	sink := &recordingSink{}
	o := NewOrchestrator(streamer, store, "m", "sys", sink)

	_, err := o.Run(context.Background(), "go")
	require.NoError(t, err)

	summary, err := o.Apply()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Applied)
	assert.Equal(t, 1, summary.Conflicts)
	assert.Equal(t, 0, summary.Errors)
	assert.Equal(t, 1, summary.Additions)
	assert.Equal(t, 1, summary.Deletions)

	// The clean file is written, the conflicted one untouched.
	assert.Equal(t, "package p\nvar a = 2\n", store.files["ok.go"])
	assert.Equal(t, "totally different content\n", store.files["bad.go"])

	assert.Contains(t, summary.Message(), "1 applied, 1 conflicts")
	assert.Contains(t, summary.Message(), "bad.go")
}

func TestPreviewDoesNotWrite(t *testing.T) {
	store := newMemStore(map[string]string{
		"ok.go":  "package p\nvar a = 1\n",
		"bad.go": "totally different content\n",
	})
	streamer := &scriptedStreamer{answer: twoFileAnswer}
	o := NewOrchestrator(streamer, store, "m", "sys", &recordingSink{})

	_, err := o.Run(context.Background(), "go")
	require.NoError(t, err)

	summary, err := o.Preview()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Applied)
	assert.Equal(t, 1, summary.Conflicts)
	assert.Equal(t, 0, store.writes)
}

func TestApplyWithoutResponse(t *testing.T) {
	o := NewOrchestrator(&scriptedStreamer{}, newMemStore(nil), "m", "sys", &recordingSink{})
	_, err := o.Apply()
	assert.ErrorIs(t, err, ErrNoResponse)
	_, err = o.Preview()
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestResetClearsPendingResponse(t *testing.T) {
	streamer := &scriptedStreamer{answer: twoFileAnswer}
	o := NewOrchestrator(streamer, newMemStore(nil), "m", "sys", &recordingSink{})

	_, err := o.Run(context.Background(), "go")
	require.NoError(t, err)
	require.NotNil(t, o.LastResponse())

	o.Reset()
	assert.Nil(t, o.LastResponse())
	_, err = o.Apply()
	assert.ErrorIs(t, err, ErrNoResponse)
}
