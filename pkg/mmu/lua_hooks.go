package mmu

import (
	"context"

	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/log"
	"github.com/lexlapax/ragmem/pkg/mem/ltm"
	"github.com/lexlapax/ragmem/pkg/mem/stm"
	"github.com/lexlapax/ragmem/pkg/scripting"
)

// Script hook entry points. Hooks advise: any error or unexpected return
// shape is logged and ignored, never failing the memory operation.
const (
	classifyImportanceFunc = "classify_importance"
	filterRetrievedFunc    = "filter_retrieved"
)

// classifyImportanceHook asks the script layer for an importance verdict
// on a turn. The first return reports whether the hook produced one.
func (m *Manager) classifyImportanceHook(ctx context.Context, turn stm.Turn) (bool, bool) {
	if m.scripts == nil {
		return false, false
	}
	result, err := m.scripts.ExecuteFunction(ctx, classifyImportanceFunc, turnToLua(turn))
	if err != nil {
		if !errors.Is(err, scripting.ErrFunctionNotFound) {
			log.WarnContext(ctx, "classify_importance hook failed, using default importance",
				"turn_id", turn.ID, "error", err)
		}
		return false, false
	}
	verdict, ok := result.(bool)
	if !ok {
		log.WarnContext(ctx, "classify_importance hook returned a non-boolean, ignoring",
			"turn_id", turn.ID)
		return false, false
	}
	return true, verdict
}

// filterRetrievedHook lets a script trim or reorder retrieved memories.
// The hook receives the query and an array of chunk tables and returns
// the chunk IDs to keep, in the desired order (either bare IDs or tables
// carrying an "id" field).
func (m *Manager) filterRetrievedHook(ctx context.Context, query string, memories []ltm.RetrievedChunk) []ltm.RetrievedChunk {
	if m.scripts == nil || len(memories) == 0 {
		return memories
	}

	payload := make([]interface{}, len(memories))
	for i, mem := range memories {
		payload[i] = map[string]interface{}{
			"id":        mem.ID,
			"record_id": mem.RecordID,
			"seq":       mem.Seq,
			"text":      mem.Text,
			"score":     mem.Score,
		}
	}

	result, err := m.scripts.ExecuteFunction(ctx, filterRetrievedFunc, query, payload)
	if err != nil {
		if !errors.Is(err, scripting.ErrFunctionNotFound) {
			log.WarnContext(ctx, "filter_retrieved hook failed, keeping original results",
				"error", err)
		}
		return memories
	}

	keep, ok := hookKeepList(result)
	if !ok {
		log.WarnContext(ctx, "filter_retrieved hook returned an unexpected shape, keeping original results")
		return memories
	}

	byID := make(map[string]ltm.RetrievedChunk, len(memories))
	for _, mem := range memories {
		byID[mem.ID] = mem
	}
	filtered := make([]ltm.RetrievedChunk, 0, len(keep))
	seen := make(map[string]bool, len(keep))
	for _, id := range keep {
		if mem, found := byID[id]; found && !seen[id] {
			filtered = append(filtered, mem)
			seen[id] = true
		}
	}
	return filtered
}

// hookKeepList normalizes a hook result into an ordered ID list. An
// empty lua table arrives as an empty map and means "keep nothing".
func hookKeepList(result interface{}) ([]string, bool) {
	if m, ok := result.(map[string]interface{}); ok && len(m) == 0 {
		return nil, true
	}
	items, ok := result.([]interface{})
	if !ok {
		return nil, false
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			ids = append(ids, v)
		case map[string]interface{}:
			id, ok := v["id"].(string)
			if !ok {
				return nil, false
			}
			ids = append(ids, id)
		default:
			return nil, false
		}
	}
	return ids, true
}

func turnToLua(turn stm.Turn) map[string]interface{} {
	return map[string]interface{}{
		"id":         turn.ID,
		"session_id": string(turn.SessionID),
		"seq":        turn.Seq,
		"role":       turn.Role,
		"content":    turn.Content,
		"source":     turn.Source,
		"created_at": turn.CreatedAt,
	}
}
