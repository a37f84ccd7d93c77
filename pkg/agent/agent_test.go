package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	embedmock "github.com/lexlapax/ragmem/pkg/embedding/adapters/mock"
	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/mem/ltm"
	storemock "github.com/lexlapax/ragmem/pkg/mem/ltm/adapters/mock"
	vectormock "github.com/lexlapax/ragmem/pkg/mem/ltm/adapters/vector/mock"
	"github.com/lexlapax/ragmem/pkg/mem/stm"
	"github.com/lexlapax/ragmem/pkg/mmu"
	"github.com/lexlapax/ragmem/pkg/reasoning"
	"github.com/lexlapax/ragmem/pkg/rerank"
	"github.com/lexlapax/ragmem/pkg/session"
)

// scriptedEngine returns canned responses in order, repeating the last
// one, and tracks prompts and concurrency for assertions.
type scriptedEngine struct {
	mu          sync.Mutex
	responses   []string
	prompts     []string
	calls       int
	err         error
	delay       time.Duration
	inflight    int32
	maxInflight int32
}

func (e *scriptedEngine) Process(ctx context.Context, prompt string, opts ...reasoning.Option) (string, error) {
	cur := atomic.AddInt32(&e.inflight, 1)
	for {
		max := atomic.LoadInt32(&e.maxInflight)
		if cur <= max || atomic.CompareAndSwapInt32(&e.maxInflight, max, cur) {
			break
		}
	}
	defer atomic.AddInt32(&e.inflight, -1)

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.prompts = append(e.prompts, prompt)
	if e.err != nil {
		return "", e.err
	}
	idx := e.calls
	if idx >= len(e.responses) {
		idx = len(e.responses) - 1
	}
	e.calls++
	return e.responses[idx], nil
}

func (e *scriptedEngine) promptAt(i int) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.prompts) {
		return ""
	}
	return e.prompts[i]
}

func newMemory(t *testing.T) (*mmu.Manager, *storemock.MockStore) {
	t.Helper()
	index := vectormock.NewMockIndex()
	records := storemock.NewMockStore()
	embed := embedmock.NewMockProvider(embedmock.WithDimensions(3))
	longterm, err := ltm.NewManager(index, records, embed, ltm.Config{
		ChunkSize:    400,
		ChunkOverlap: 40,
	}, nil)
	require.NoError(t, err)

	store, err := stm.NewStore(stm.Config{Capacity: 32})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m, err := mmu.NewManager(store, longterm, rerank.NewLexical(), mmu.Config{})
	require.NoError(t, err)
	return m, records
}

func newLoop(t *testing.T, engine reasoning.Engine, tools *Registry, cfg Config) (*Loop, *mmu.Manager, *storemock.MockStore) {
	t.Helper()
	memory, records := newMemory(t)
	loop, err := NewLoop(memory, engine, tools, cfg)
	require.NoError(t, err)
	return loop, memory, records
}

func sessionCtx(id string) context.Context {
	return session.ContextWithSession(context.Background(), session.ID(id))
}

func calculatorTool(got *map[string]interface{}) Tool {
	return ToolFunc{
		ToolName:        "calculator",
		ToolDescription: "evaluates an arithmetic expression passed as {\"expression\": \"...\"}",
		Fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			if got != nil {
				*got = args
			}
			return "4", nil
		},
	}
}

func TestNewLoop_Validation(t *testing.T) {
	memory, _ := newMemory(t)

	_, err := NewLoop(nil, &scriptedEngine{responses: []string{"x"}}, nil, Config{})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = NewLoop(memory, nil, nil, Config{})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	loop, err := NewLoop(memory, &scriptedEngine{responses: []string{"x"}}, nil, Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxIterations, loop.cfg.MaxIterations)
}

func TestRun_FinalAnswer(t *testing.T) {
	engine := &scriptedEngine{responses: []string{`{"action": "final", "answer": "Paris"}`}}
	loop, memory, records := newLoop(t, engine, nil, Config{})
	ctx := sessionCtx("alpha")

	result, err := loop.Run(ctx, "What is the capital of France?")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "Paris", result.Answer)
	assert.Equal(t, 1, result.Iterations)
	assert.Empty(t, result.ToolsUsed)

	// the final answer was promoted to long-term memory
	assert.Equal(t, 1, records.Len())

	// both the question and the answer are in the short-term window
	bundle, err := memory.Retrieve(ctx, "")
	require.NoError(t, err)
	require.Len(t, bundle.RecentTurns, 2)
	assert.Equal(t, stm.RoleUser, bundle.RecentTurns[0].Role)
	assert.Equal(t, stm.RoleAssistant, bundle.RecentTurns[1].Role)
	assert.Equal(t, stm.SourceFinal, bundle.RecentTurns[1].Source)
}

func TestRun_ToolThenAnswer(t *testing.T) {
	engine := &scriptedEngine{responses: []string{
		`{"action": "tool", "tool": "calculator", "args": {"expression": "2+2"}}`,
		`{"action": "final", "answer": "2+2 is 4"}`,
	}}
	var gotArgs map[string]interface{}
	tools := NewRegistry()
	require.NoError(t, tools.Register(calculatorTool(&gotArgs)))

	loop, memory, records := newLoop(t, engine, tools, Config{})
	ctx := sessionCtx("alpha")

	result, err := loop.Run(ctx, "what is 2+2?")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "2+2 is 4", result.Answer)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, []string{"calculator"}, result.ToolsUsed)
	assert.Equal(t, map[string]interface{}{"expression": "2+2"}, gotArgs)

	// observation and final answer were both promoted
	assert.Equal(t, 2, records.Len())

	bundle, err := memory.Retrieve(ctx, "")
	require.NoError(t, err)
	require.Len(t, bundle.RecentTurns, 3)
	assert.Equal(t, stm.RoleTool, bundle.RecentTurns[1].Role)
	assert.Equal(t, "calculator: 4", bundle.RecentTurns[1].Content)

	// the second planning prompt saw the observation
	assert.Contains(t, engine.promptAt(1), "calculator: 4")
}

func TestRun_UnknownToolRecovers(t *testing.T) {
	engine := &scriptedEngine{responses: []string{
		`{"action": "tool", "tool": "time_machine", "args": {}}`,
		`{"action": "final", "answer": "sorry, no time travel"}`,
	}}
	loop, _, _ := newLoop(t, engine, NewRegistry(), Config{})

	result, err := loop.Run(sessionCtx("alpha"), "go back to 1985")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 2, result.Iterations)
	assert.Empty(t, result.ToolsUsed, "an unknown tool never counts as used")
	assert.Contains(t, engine.promptAt(1), "no tool named")
}

func TestRun_ToolErrorFails(t *testing.T) {
	engine := &scriptedEngine{responses: []string{
		`{"action": "tool", "tool": "flaky", "args": {}}`,
	}}
	boom := fmt.Errorf("backend exploded")
	tools := NewRegistry()
	require.NoError(t, tools.Register(ToolFunc{
		ToolName:        "flaky",
		ToolDescription: "always fails",
		Fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "", boom
		},
	}))

	loop, _, _ := newLoop(t, engine, tools, Config{})
	result, err := loop.Run(sessionCtx("alpha"), "do the thing")

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, result)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 1, result.Iterations)
	assert.Empty(t, result.ToolsUsed)
}

func TestRun_EngineErrorFails(t *testing.T) {
	engine := &scriptedEngine{responses: []string{"unused"}, err: fmt.Errorf("model offline")}
	loop, _, _ := newLoop(t, engine, nil, Config{})

	result, err := loop.Run(sessionCtx("alpha"), "hello")
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, StatusFailed, result.Status)
}

func TestRun_MaxIterationsYieldsPartialResult(t *testing.T) {
	directive := `{"action": "tool", "tool": "echo", "args": {"text": "again"}}`
	engine := &scriptedEngine{responses: []string{directive}}
	tools := NewRegistry()
	require.NoError(t, tools.Register(ToolFunc{
		ToolName:        "echo",
		ToolDescription: "echoes text",
		Fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "again", nil
		},
	}))

	loop, _, _ := newLoop(t, engine, tools, Config{MaxIterations: 3})
	result, err := loop.Run(sessionCtx("alpha"), "loop forever")

	require.NoError(t, err, "hitting the iteration bound is not an error")
	assert.Equal(t, StatusPartialResult, result.Status)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, []string{"echo", "echo", "echo"}, result.ToolsUsed)
	assert.Equal(t, directive, result.Answer, "the partial answer is the last model response")
}

func TestRun_RequiresSession(t *testing.T) {
	engine := &scriptedEngine{responses: []string{"x"}}
	loop, _, _ := newLoop(t, engine, nil, Config{})

	_, err := loop.Run(context.Background(), "hello")
	assert.ErrorIs(t, err, session.ErrMissingSessionContext)
}

func TestRun_SerializesWithinSession(t *testing.T) {
	engine := &scriptedEngine{
		responses: []string{`{"action": "final", "answer": "done"}`},
		delay:     20 * time.Millisecond,
	}
	loop, _, _ := newLoop(t, engine, nil, Config{})
	ctx := sessionCtx("alpha")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := loop.Run(ctx, "concurrent input")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&engine.maxInflight),
		"runs for one session must never overlap")
}

func TestRun_CancellationStopsBeforeNextPhase(t *testing.T) {
	ctx, cancel := context.WithCancel(sessionCtx("alpha"))
	engine := &scriptedEngine{responses: []string{
		`{"action": "tool", "tool": "stopper", "args": {}}`,
	}}
	tools := NewRegistry()
	require.NoError(t, tools.Register(ToolFunc{
		ToolName:        "stopper",
		ToolDescription: "cancels the run",
		Fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			cancel()
			return "stopping", nil
		},
	}))

	loop, _, _ := newLoop(t, engine, tools, Config{})
	result, err := loop.Run(ctx, "please stop")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
}

func TestParseDirective(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		wantAction string
		wantTool   string
		wantAnswer string
	}{
		{
			name:       "final answer",
			response:   `{"action": "final", "answer": "Paris"}`,
			wantAction: actionFinal,
			wantAnswer: "Paris",
		},
		{
			name:       "tool call",
			response:   `{"action": "tool", "tool": "calculator", "args": {"expression": "2+2"}}`,
			wantAction: actionTool,
			wantTool:   "calculator",
		},
		{
			name:       "json wrapped in prose",
			response:   "Sure, let me use a tool.\n{\"action\": \"tool\", \"tool\": \"search\", \"args\": {}}\nDone.",
			wantAction: actionTool,
			wantTool:   "search",
		},
		{
			name:       "plain prose is a final answer",
			response:   "The capital of France is Paris.",
			wantAction: actionFinal,
			wantAnswer: "The capital of France is Paris.",
		},
		{
			name:       "malformed json falls back to prose",
			response:   `{"action": "tool", "tool": `,
			wantAction: actionFinal,
			wantAnswer: `{"action": "tool", "tool":`,
		},
		{
			name:       "unknown action falls back to prose",
			response:   `{"action": "dance"}`,
			wantAction: actionFinal,
			wantAnswer: `{"action": "dance"}`,
		},
		{
			name:       "tool action without a name falls back to prose",
			response:   `{"action": "tool", "args": {}}`,
			wantAction: actionFinal,
			wantAnswer: `{"action": "tool", "args": {}}`,
		},
		{
			name:       "final without answer keeps raw text",
			response:   `{"action": "final"}`,
			wantAction: actionFinal,
			wantAnswer: `{"action": "final"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := parseDirective(tt.response)
			assert.Equal(t, tt.wantAction, d.Action)
			assert.Equal(t, tt.wantTool, d.Tool)
			assert.Equal(t, tt.wantAnswer, d.Answer)
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Zero(t, r.Len())

	err := r.Register(ToolFunc{ToolName: "b", ToolDescription: "second"})
	require.NoError(t, err)
	err = r.Register(ToolFunc{ToolName: "a", ToolDescription: "first"})
	require.NoError(t, err)

	err = r.Register(ToolFunc{ToolName: "a", ToolDescription: "dup"})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	err = r.Register(ToolFunc{})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	tool, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "first", tool.Description())

	_, ok = r.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, r.Names())
	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name())
	assert.Equal(t, 2, r.Len())
}

func TestBuildPrompt(t *testing.T) {
	tools := []Tool{ToolFunc{ToolName: "calculator", ToolDescription: "does math"}}
	bundle := &mmu.ContextBundle{
		RecentTurns: []stm.Turn{
			{Role: stm.RoleUser, Content: "hi"},
			{Role: stm.RoleAssistant, Content: "hello"},
		},
		Memories: []ltm.RetrievedChunk{
			{Chunk: ltm.Chunk{Text: "user prefers metric units"}},
		},
	}

	prompt := buildPrompt("how far is the moon?", bundle, tools)
	assert.Contains(t, prompt, "calculator: does math")
	assert.Contains(t, prompt, "user: hi")
	assert.Contains(t, prompt, "assistant: hello")
	assert.Contains(t, prompt, "user prefers metric units")
	assert.Contains(t, prompt, "Request: how far is the moon?")

	empty := buildPrompt("q", &mmu.ContextBundle{}, nil)
	assert.Contains(t, empty, "No tools are available.")
	assert.Contains(t, empty, "(none)")
}
