// Package agent runs the plan, act, observe loop on top of the memory
// manager: retrieve context, ask the reasoning engine for a directive,
// invoke tools, record observations, repeat until a final answer or the
// iteration bound.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/log"
	"github.com/lexlapax/ragmem/pkg/mem/stm"
	"github.com/lexlapax/ragmem/pkg/mmu"
	"github.com/lexlapax/ragmem/pkg/reasoning"
	"github.com/lexlapax/ragmem/pkg/session"
)

// DefaultMaxIterations bounds a run when the config leaves it zero.
const DefaultMaxIterations = 20

// State names the loop's phases. Transitions are logged, not exposed;
// callers observe only the terminal Result.
type State string

const (
	StateIdle           State = "idle"
	StatePlanning       State = "planning"
	StateToolInvocation State = "tool_invocation"
	StateObserving      State = "observing"
	StateTerminal       State = "terminal"
)

// Status is the terminal outcome of a run.
type Status string

const (
	// StatusCompleted means the model produced a final answer
	StatusCompleted Status = "completed"

	// StatusPartialResult means the iteration bound ended the run; the
	// answer is the best available, not an error
	StatusPartialResult Status = "partial_result"

	// StatusFailed means an unrecoverable error ended the run
	StatusFailed Status = "failed"
)

// Result reports how a run ended.
type Result struct {
	Status     Status
	Answer     string
	Iterations int
	ToolsUsed  []string
}

// Config holds the loop parameters.
type Config struct {
	// MaxIterations bounds planning cycles per run; 0 means the default
	MaxIterations int
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	return c
}

// Loop drives one agent conversation turn at a time. Runs for the same
// session serialize; distinct sessions proceed in parallel.
type Loop struct {
	memory *mmu.Manager
	engine reasoning.Engine
	tools  *Registry
	cfg    Config

	mu       sync.Mutex
	inflight map[session.ID]chan struct{}
}

// NewLoop creates an agent loop. The memory manager and reasoning engine
// are required; a nil registry means no tools.
func NewLoop(memory *mmu.Manager, engine reasoning.Engine, tools *Registry, cfg Config) (*Loop, error) {
	if memory == nil || engine == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "memory manager and reasoning engine are required")
	}
	if tools == nil {
		tools = NewRegistry()
	}
	return &Loop{
		memory:   memory,
		engine:   engine,
		tools:    tools,
		cfg:      cfg.withDefaults(),
		inflight: make(map[session.ID]chan struct{}),
	}, nil
}

// Run processes one user input for the session carried in ctx. It
// records the input, then alternates planning, tool invocation, and
// observation until the model answers or the iteration bound is hit.
// Hitting the bound is not an error: the Result carries
// StatusPartialResult and a nil error. On StatusFailed the Result is
// returned alongside the error so callers still see iterations and
// tools used.
func (l *Loop) Run(ctx context.Context, input string) (*Result, error) {
	sessionID, ok := session.GetSessionID(ctx)
	if !ok {
		return nil, session.ErrMissingSessionContext
	}
	release, err := l.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := l.memory.Record(ctx, stm.Turn{Role: stm.RoleUser, Content: input}); err != nil {
		return nil, errors.Wrap(err, "recording user input")
	}

	result := &Result{Status: StatusPartialResult}
	state := StateIdle
	var lastResponse string

	for iteration := 1; iteration <= l.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Iterations = iteration
		state = l.transition(ctx, state, StatePlanning, iteration)

		bundle, err := l.memory.Retrieve(ctx, input)
		if err != nil {
			result.Status = StatusFailed
			return result, errors.Wrap(err, "retrieving context")
		}
		response, err := l.engine.Process(ctx, buildPrompt(input, bundle, l.tools.List()))
		if err != nil {
			result.Status = StatusFailed
			return result, errors.Wrap(err, "planning iteration %d", iteration)
		}
		lastResponse = response

		d := parseDirective(response)
		if d.Action == actionFinal {
			if err := l.recordAnswer(ctx, d.Answer); err != nil {
				result.Status = StatusFailed
				return result, err
			}
			result.Status = StatusCompleted
			result.Answer = d.Answer
			l.transition(ctx, state, StateTerminal, iteration)
			return result, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		state = l.transition(ctx, state, StateToolInvocation, iteration)

		observation, err := l.invokeTool(ctx, d, result)
		if err != nil {
			result.Status = StatusFailed
			l.transition(ctx, state, StateTerminal, iteration)
			return result, err
		}

		state = l.transition(ctx, state, StateObserving, iteration)
		turn, err := stm.NewToolTurn(d.Tool, observation)
		if err != nil {
			result.Status = StatusFailed
			return result, err
		}
		if _, err := l.memory.Record(ctx, turn); err != nil {
			result.Status = StatusFailed
			return result, errors.Wrap(err, "recording observation")
		}
	}

	// iteration bound reached: hand back what we have
	log.InfoContext(ctx, "Iteration bound reached, returning partial result",
		"iterations", l.cfg.MaxIterations)
	result.Answer = lastResponse
	l.transition(ctx, state, StateTerminal, result.Iterations)
	return result, nil
}

// invokeTool resolves and runs the directive's tool. A name the registry
// does not know is recoverable: the mistake is fed back to the model as
// the observation. A tool that runs and fails is not.
func (l *Loop) invokeTool(ctx context.Context, d directive, result *Result) (string, error) {
	tool, ok := l.tools.Get(d.Tool)
	if !ok {
		log.DebugContext(ctx, "Model called an unknown tool", "tool", d.Tool)
		return fmt.Sprintf("no tool named %q is available; available tools: %v", d.Tool, l.tools.Names()), nil
	}
	output, err := tool.Invoke(ctx, d.Args)
	if err != nil {
		return "", errors.Wrap(err, "tool %s failed", d.Tool)
	}
	result.ToolsUsed = append(result.ToolsUsed, d.Tool)
	return output, nil
}

// recordAnswer stores the final answer as an assistant turn marked
// SourceFinal so the default importance rules promote it.
func (l *Loop) recordAnswer(ctx context.Context, answer string) error {
	if answer == "" {
		return nil
	}
	_, err := l.memory.Record(ctx, stm.Turn{
		Role:    stm.RoleAssistant,
		Content: answer,
		Source:  stm.SourceFinal,
	})
	if err != nil {
		return errors.Wrap(err, "recording final answer")
	}
	return nil
}

func (l *Loop) transition(ctx context.Context, from, to State, iteration int) State {
	log.DebugContext(ctx, "Agent state transition",
		"from", string(from), "to", string(to), "iteration", iteration)
	return to
}

// acquire takes the session's single-flight slot, honoring cancellation
// while waiting.
func (l *Loop) acquire(ctx context.Context, id session.ID) (func(), error) {
	l.mu.Lock()
	slot, ok := l.inflight[id]
	if !ok {
		slot = make(chan struct{}, 1)
		l.inflight[id] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
