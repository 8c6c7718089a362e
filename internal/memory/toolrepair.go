package memory

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/google/uuid"
)

// interruptedPayload is the JSON body of a synthesized tool-result
// standing in for a missing response.
type interruptedPayload struct {
	Success     bool   `json:"success"`
	Error       string `json:"error"`
	Interrupted bool   `json:"interrupted"`
	Message     string `json:"message"`
}

func interruptedToolResult(toolCallID string) Message {
	body, _ := json.Marshal(interruptedPayload{
		Success:     false,
		Error:       "TOOL_CALL_INTERRUPTED",
		Interrupted: true,
		Message:     "The tool call was interrupted before a response was recorded.",
	})
	return Message{
		MessageID:  uuid.NewString(),
		Role:       RoleTool,
		ToolCallID: toolCallID,
		Type:       MessageTypeToolResult,
		Content:    string(body),
	}
}

// RepairStreamingToolCalls scans messages for assistant entries carrying
// tool_calls, and for every tool_call with no matching tool-role response
// in the contiguous run that follows, inserts a synthesized
// TOOL_CALL_INTERRUPTED tool-result directly after the existing
// responses. persist, if non-nil, is invoked once per synthesized
// message so a caller can append it to its own write path.
func RepairStreamingToolCalls(messages []Message, persist func(Message)) []Message {
	out := make([]Message, 0, len(messages))
	i := 0
	for i < len(messages) {
		m := messages[i]
		out = append(out, m)
		i++

		if m.Role != RoleAssistant || len(m.ToolCalls) == 0 {
			continue
		}

		answered := make(map[string]bool, len(m.ToolCalls))
		for i < len(messages) && messages[i].Role == RoleTool {
			t := messages[i]
			answered[t.ToolCallID] = true
			out = append(out, t)
			i++
		}
		for _, tc := range m.ToolCalls {
			if answered[tc.ID] {
				continue
			}
			synth := interruptedToolResult(tc.ID)
			out = append(out, synth)
			if persist != nil {
				persist(synth)
			}
		}
	}
	return out
}

func validToolCall(tc ToolCall) bool {
	return tc.ID != "" && tc.Type == "function" && tc.FunctionName != ""
}

func filterValidToolCalls(tcs []ToolCall) []ToolCall {
	var out []ToolCall
	for _, tc := range tcs {
		if validToolCall(tc) {
			out = append(out, tc)
		}
	}
	return out
}

// NormalizeResult is the outcome of one pass of NormalizeToolCallProtocol.
type NormalizeResult struct {
	Context     Context
	Changed     bool
	Dropped     []string  // messageIds to mark excludedFromContext(reason=invalid_response)
	Synthesized []Message // new Context-and-History messages to add
	Updated     []Message // messages whose content changed in place
}

// NormalizeToolCallProtocol produces a normalized Context and a Changed
// flag by walking the message list once: assistant tool-call entries
// with no syntactically valid call are dropped or downgraded; mixed
// valid/invalid entries keep only the valid calls; each kept assistant's
// following tool-role run is trimmed to expected, unanswered ids and
// missing ones are synthesized as interrupted; a tool-role message
// outside any assistant-tool-call block is dropped; an assistant message
// with no content and no tool calls is dropped. Running this twice on
// its own output reports Changed=false the second time.
func NormalizeToolCallProtocol(c Context) NormalizeResult {
	msgs := c.Messages
	var newMessages []Message
	var dropped []string
	var synthesized []Message
	var updated []Message
	changed := false

	i := 0
	for i < len(msgs) {
		m := msgs[i]

		switch {
		case m.Role == RoleTool:
			dropped = append(dropped, m.MessageID)
			changed = true
			i++

		case m.Role == RoleAssistant && len(m.ToolCalls) > 0:
			valid := filterValidToolCalls(m.ToolCalls)
			hasOtherOutput := m.Content != "" || len(m.Parts) > 0

			if len(valid) == 0 {
				if !hasOtherOutput {
					dropped = append(dropped, m.MessageID)
					changed = true
					i++
					continue
				}
				downgraded := m
				downgraded.ToolCalls = nil
				downgraded.Type = MessageTypeText
				newMessages = append(newMessages, downgraded)
				updated = append(updated, downgraded)
				changed = true
				i++
				continue
			}

			kept := m
			kept.ToolCalls = valid
			kept.Type = MessageTypeToolCall
			if !reflect.DeepEqual(kept, m) {
				changed = true
				updated = append(updated, kept)
			}
			newMessages = append(newMessages, kept)
			i++

			expected := make(map[string]bool, len(valid))
			for _, tc := range valid {
				expected[tc.ID] = true
			}
			answered := make(map[string]bool, len(valid))
			for i < len(msgs) && msgs[i].Role == RoleTool {
				t := msgs[i]
				if expected[t.ToolCallID] && !answered[t.ToolCallID] {
					newMessages = append(newMessages, t)
					answered[t.ToolCallID] = true
				} else {
					dropped = append(dropped, t.MessageID)
					changed = true
				}
				i++
			}
			for _, tc := range valid {
				if answered[tc.ID] {
					continue
				}
				synth := interruptedToolResult(tc.ID)
				newMessages = append(newMessages, synth)
				synthesized = append(synthesized, synth)
				changed = true
			}

		case m.Role == RoleAssistant && m.Content == "" && len(m.Parts) == 0:
			dropped = append(dropped, m.MessageID)
			changed = true
			i++

		default:
			newMessages = append(newMessages, m)
			i++
		}
	}

	out := c
	out.Messages = newMessages
	if changed {
		out.Version++
	}
	return NormalizeResult{Context: out, Changed: changed, Dropped: dropped, Synthesized: synthesized, Updated: updated}
}

// NormalizeContextProtocol runs NormalizeToolCallProtocol against
// sessionID's current Context and, if anything changed, persists the
// three effects §4.13 specifies: in-place updates to changed messages
// (propagating to History too), dropped messages marked
// excludedFromContext, synthesized messages added as new Context-and-
// History entries, and finally the normalized Context itself with its
// bumped Version. It returns whether anything changed.
func (e *Engine) NormalizeContextProtocol(ctx context.Context, sessionID string) (bool, error) {
	if err := e.requireInitialized(); err != nil {
		return false, err
	}
	c, ok := e.cache.getContext(sessionID)
	if !ok {
		return false, newErr(KindNotFound, "context for session %q not found", sessionID)
	}

	result := NormalizeToolCallProtocol(c)
	if !result.Changed {
		return false, nil
	}

	for _, m := range result.Updated {
		content := m.Content
		mtype := m.Type
		toolCalls := m.ToolCalls
		if toolCalls == nil {
			toolCalls = []ToolCall{} // non-nil empty slice clears any existing tool_calls
		}
		updates := MessageUpdate{Content: &content, Type: &mtype, ToolCalls: toolCalls}
		if err := e.updateMessageInHistoryOnly(ctx, sessionID, m.MessageID, updates); err != nil {
			return false, err
		}
	}

	for _, id := range result.Dropped {
		if _, err := e.markExcludedInHistory(ctx, sessionID, id, "invalid_response"); err != nil {
			return false, err
		}
	}

	for _, m := range result.Synthesized {
		hist, _ := e.cache.getHistory(sessionID)
		hist = append(hist, HistoryMessage{Message: m, SessionID: sessionID, Sequence: len(hist) + 1})
		e.cache.setHistory(sessionID, hist)
		if err := e.store.Histories.Save(ctx, sessionID, hist); err != nil {
			return false, wrapErr(KindWriteFailure, err, "persist synthesized history entry for %s", sessionID)
		}
	}

	e.cache.setContext(result.Context)
	if err := e.store.Contexts.Save(ctx, sessionID, result.Context); err != nil {
		return false, wrapErr(KindWriteFailure, err, "persist normalized context for %s", sessionID)
	}
	return true, nil
}

// updateMessageInHistoryOnly applies updates to messageID's History
// entry only (Context was already rewritten wholesale by the caller),
// preserving Sequence.
func (e *Engine) updateMessageInHistoryOnly(ctx context.Context, sessionID, messageID string, updates MessageUpdate) error {
	hist, ok := e.cache.getHistory(sessionID)
	if !ok {
		return nil
	}
	for i, h := range hist {
		if h.MessageID == messageID {
			applyMessageUpdate(&hist[i].Message, updates)
			e.cache.setHistory(sessionID, hist)
			if err := e.store.Histories.Save(ctx, sessionID, hist); err != nil {
				return wrapErr(KindWriteFailure, err, "persist history for %s", sessionID)
			}
			return nil
		}
	}
	return nil
}

// markExcludedInHistory marks a single History entry excludedFromContext
// without removing it.
func (e *Engine) markExcludedInHistory(ctx context.Context, sessionID, messageID, reason string) (bool, error) {
	hist, ok := e.cache.getHistory(sessionID)
	if !ok {
		return false, nil
	}
	for i, h := range hist {
		if h.MessageID == messageID {
			hist[i].ExcludedFromContext = true
			hist[i].ExcludedReason = reason
			e.cache.setHistory(sessionID, hist)
			if err := e.store.Histories.Save(ctx, sessionID, hist); err != nil {
				return false, wrapErr(KindWriteFailure, err, "persist history for %s", sessionID)
			}
			return true, nil
		}
	}
	return false, nil
}
