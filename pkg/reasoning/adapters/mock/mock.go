package mock

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/lexlapax/ragmem/pkg/log"
	"github.com/lexlapax/ragmem/pkg/reasoning"
)

// Call represents a recorded method call on the mock engine.
type Call struct {
	// Method is the name of the method that was called.
	Method string

	// Args contains the arguments passed to the method.
	Args []interface{}
}

// MockEngine implements the reasoning.Engine interface with canned responses.
type MockEngine struct {
	// cannedResponses maps prompts to predetermined responses
	cannedResponses map[string]string

	// defaultResponse is returned when no matching canned response is found
	defaultResponse string

	// exactMatch determines if prompt matching is exact or uses Contains
	exactMatch bool

	// shouldError indicates if the engine should return errors
	shouldError bool

	// mutex protects the maps from concurrent access
	mutex sync.RWMutex

	// callHistory records all calls to Process
	callHistory []Call
}

// MockOption is a function that configures a MockEngine.
type MockOption func(*MockEngine)

// WithDefaultResponse sets the default response for the mock engine.
func WithDefaultResponse(resp string) MockOption {
	return func(m *MockEngine) {
		m.defaultResponse = resp
	}
}

// WithExactMatch configures whether the mock engine uses exact matching.
func WithExactMatch(exact bool) MockOption {
	return func(m *MockEngine) {
		m.exactMatch = exact
	}
}

// WithShouldError configures whether the mock engine returns errors.
func WithShouldError(shouldErr bool) MockOption {
	return func(m *MockEngine) {
		m.shouldError = shouldErr
	}
}

// NewMockEngine creates a new MockEngine with the given options.
func NewMockEngine(opts ...MockOption) *MockEngine {
	m := &MockEngine{
		cannedResponses: make(map[string]string),
		defaultResponse: "This is a mock response",
		exactMatch:      false, // Default to substring matching
		shouldError:     false,
		callHistory:     make([]Call, 0),
	}

	for _, opt := range opts {
		opt(m)
	}

	log.Debug("Created mock reasoning engine", "exact_match", m.exactMatch)
	return m
}

// Process implements the reasoning.Engine interface.
func (m *MockEngine) Process(ctx context.Context, prompt string, opts ...reasoning.Option) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	// Record the call
	m.callHistory = append(m.callHistory, Call{
		Method: "Process",
		Args:   []interface{}{ctx, prompt, opts},
	})

	if m.shouldError {
		return "", errors.New("mock reasoning engine error")
	}

	options := reasoning.DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	log.Debug("Processing prompt with mock engine",
		"prompt_length", len(prompt),
		"temperature", options.Temperature,
		"max_tokens", options.MaxTokens,
		"model", options.Model)

	if m.exactMatch {
		if response, ok := m.cannedResponses[prompt]; ok {
			return response, nil
		}
	} else {
		for key, response := range m.cannedResponses {
			if strings.Contains(prompt, key) {
				return response, nil
			}
		}
	}

	return m.defaultResponse, nil
}

// AddResponse adds a canned response for a specific prompt.
func (m *MockEngine) AddResponse(prompt, response string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.cannedResponses[prompt] = response
	log.Debug("Added canned response", "prompt", prompt)
}

// SetDefaultResponse sets the default response.
func (m *MockEngine) SetDefaultResponse(response string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.defaultResponse = response
}

// SetExactMatch configures whether the engine uses exact matching.
func (m *MockEngine) SetExactMatch(exact bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.exactMatch = exact
}

// SetShouldError configures whether the engine returns errors.
func (m *MockEngine) SetShouldError(shouldErr bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.shouldError = shouldErr
}

// GetCallHistory returns a copy of the call history.
func (m *MockEngine) GetCallHistory() []Call {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	history := make([]Call, len(m.callHistory))
	copy(history, m.callHistory)

	return history
}

// ClearHistory clears the call history.
func (m *MockEngine) ClearHistory() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.callHistory = make([]Call, 0)
}
