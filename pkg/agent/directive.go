package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lexlapax/ragmem/pkg/mmu"
)

// Directive actions the model may emit.
const (
	actionFinal = "final"
	actionTool  = "tool"
)

// directive is the parsed form of one model response.
type directive struct {
	Action string                 `json:"action"`
	Tool   string                 `json:"tool,omitempty"`
	Args   map[string]interface{} `json:"args,omitempty"`
	Answer string                 `json:"answer,omitempty"`
}

// parseDirective extracts the JSON directive from a model response.
// Responses without a usable directive are treated as a final answer in
// prose, so a model that simply answers still terminates the loop.
func parseDirective(response string) directive {
	trimmed := strings.TrimSpace(response)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return directive{Action: actionFinal, Answer: trimmed}
	}

	var d directive
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &d); err != nil {
		return directive{Action: actionFinal, Answer: trimmed}
	}
	switch d.Action {
	case actionFinal:
		if d.Answer == "" {
			d.Answer = trimmed
		}
		return d
	case actionTool:
		if d.Tool == "" {
			return directive{Action: actionFinal, Answer: trimmed}
		}
		return d
	default:
		return directive{Action: actionFinal, Answer: trimmed}
	}
}

const promptTemplate = `You are an assistant with a two-tier memory. Use the conversation and
the remembered facts below to fulfill the request. You may call tools.

%s
Recent conversation:
%s
Remembered facts:
%s
Respond with ONLY a JSON object, one of:
  {"action": "tool", "tool": "<name>", "args": {...}}
  {"action": "final", "answer": "<your answer>"}

Request: %s`

// buildPrompt renders the planning prompt from the retrieved context.
func buildPrompt(input string, bundle *mmu.ContextBundle, tools []Tool) string {
	var toolSection strings.Builder
	if len(tools) > 0 {
		toolSection.WriteString("Available tools:\n")
		for _, tool := range tools {
			fmt.Fprintf(&toolSection, "- %s: %s\n", tool.Name(), tool.Description())
		}
	} else {
		toolSection.WriteString("No tools are available.\n")
	}

	var turns strings.Builder
	if len(bundle.RecentTurns) == 0 {
		turns.WriteString("(none)\n")
	}
	for _, turn := range bundle.RecentTurns {
		fmt.Fprintf(&turns, "%s: %s\n", turn.Role, turn.Content)
	}

	var memories strings.Builder
	if len(bundle.Memories) == 0 {
		memories.WriteString("(none)\n")
	}
	for _, mem := range bundle.Memories {
		fmt.Fprintf(&memories, "- %s\n", mem.Text)
	}

	return fmt.Sprintf(promptTemplate, toolSection.String(), turns.String(), memories.String(), input)
}
