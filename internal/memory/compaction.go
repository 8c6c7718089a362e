package memory

import (
	"context"
	"fmt"
	"strings"

	"memoryengine/internal/llm"
	"memoryengine/internal/observability"
	"memoryengine/internal/util"
)

// CompactionConfig tunes the trigger and sizing knobs of the compaction
// engine. MaxTokens and MaxOutputTokens describe the target model's
// context window; TriggerRatio scales that window into the trigger
// threshold and KeepLastN is the number of trailing non-system messages
// a compaction keeps.
type CompactionConfig struct {
	MaxTokens       int
	MaxOutputTokens int
	TriggerRatio    float64
	KeepLastN       int
	Model           string
}

// DefaultCompactionConfig mirrors the trigger defaults a typical
// large-context chat model ships with.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		MaxTokens:       200_000,
		MaxOutputTokens: 8_192,
		TriggerRatio:    0.8,
		KeepLastN:       20,
		Model:           "",
	}
}

// CompactionEngine decides when a Context has grown large enough to
// summarize, performs the region split and tool-pair migration, and
// calls an llm.Provider to synthesize the replacement summary. When
// wired to an *Engine it persists the transition via CompactContext as
// a side effect; used standalone (engine == nil) it only computes a
// CompactionPlan via Plan, for callers that want to inspect the plan
// before committing it.
type CompactionEngine struct {
	provider llm.Provider
	engine   *Engine
	cfg      CompactionConfig
}

// NewCompactionEngine constructs a CompactionEngine. engine may be nil
// for a dry-run planner that never persists.
func NewCompactionEngine(provider llm.Provider, engine *Engine, cfg CompactionConfig) *CompactionEngine {
	return &CompactionEngine{provider: provider, engine: engine, cfg: cfg}
}

// tokenAccounting holds the two candidate token figures and which one
// won out, per §4.12's reliability rule.
type tokenAccounting struct {
	accumulated int
	reliable    bool
	estimate    int
	used        int
}

func countAccumulated(messages []Message) (total int, withUsage int, hasSummary bool) {
	for _, m := range messages {
		if m.Type == MessageTypeSummary {
			hasSummary = true
		}
		if m.Usage != nil {
			total += m.Usage.TotalTokens
			withUsage++
		}
	}
	return total, withUsage, hasSummary
}

func estimateTokens(messages []Message) int {
	const overheadPerMessage = 4
	total := 0
	for _, m := range messages {
		total += overheadPerMessage
		total += util.CountTokens(m.Content)
		for _, p := range m.Parts {
			total += util.CountTokens(p.Text)
		}
		for _, tc := range m.ToolCalls {
			total += util.CountTokens(tc.FunctionName) + util.CountTokens(tc.Arguments)
		}
	}
	return total
}

func accountTokens(messages []Message) tokenAccounting {
	accumulated, withUsage, hasSummary := countAccumulated(messages)
	estimate := estimateTokens(messages)
	reliable := len(messages) > 0 && withUsage*2 > len(messages) && !hasSummary

	acc := tokenAccounting{accumulated: accumulated, reliable: reliable, estimate: estimate}
	if reliable {
		acc.used = accumulated
	} else {
		acc.used = estimate
	}
	return acc
}

// ShouldCompact reports whether cfg's trigger condition holds for the
// given Context.
func (ce *CompactionEngine) ShouldCompact(c Context) bool {
	nonSystemCount := 0
	for _, m := range c.Messages {
		if m.Role != RoleSystem {
			nonSystemCount++
		}
	}
	if nonSystemCount <= ce.cfg.KeepLastN {
		return false
	}
	acc := accountTokens(c.Messages)
	threshold := ce.cfg.TriggerRatio * float64(ce.cfg.MaxTokens-ce.cfg.MaxOutputTokens)
	return float64(acc.used) >= threshold
}

// regionSplit is the (system, pending, active) partition of a Context's
// messages; each region is a fresh slice copied from the original list.
type regionSplit struct {
	system  []Message
	pending []Message
	active  []Message
}

func splitRegions(messages []Message, keepLastN int) regionSplit {
	var system []Message
	var nonSystem []Message
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			nonSystem = append(nonSystem, m)
		}
	}

	splitIdx := len(nonSystem) - keepLastN
	if splitIdx < 0 {
		splitIdx = 0
	}

	// Shift left to the last user message at-or-before splitIdx's
	// region boundary if the message at splitIdx's predecessor side
	// would otherwise orphan the active region of a leading user turn.
	for splitIdx > 0 && !lastUserBeforeOrAt(nonSystem, splitIdx) {
		splitIdx--
	}

	return regionSplit{
		system:  system,
		pending: append([]Message{}, nonSystem[:splitIdx]...),
		active:  append([]Message{}, nonSystem[splitIdx:]...),
	}
}

// lastUserBeforeOrAt reports whether the active region starting at idx
// contains at least one user-role message, which is the condition §4.12
// requires before accepting a split point.
func lastUserBeforeOrAt(nonSystem []Message, idx int) bool {
	for i := idx; i < len(nonSystem); i++ {
		if nonSystem[i].Role == RoleUser {
			return true
		}
	}
	return false
}

// migrateToolPairs moves an assistant tool-call message (and every tool
// response it issued) from pending to the front of active whenever a
// kept tool-role message in active references an assistant still
// sitting in pending, so that no tool response in active is ever
// orphaned from its issuing call.
func migrateToolPairs(pending, active []Message) (newPending, newActive []Message) {
	issuedBy := make(map[string]int) // tool_call_id -> index into pending
	for i, m := range pending {
		for _, tc := range m.ToolCalls {
			issuedBy[tc.ID] = i
		}
	}

	migrate := make(map[int]bool)
	for _, m := range active {
		if m.Role != RoleTool {
			continue
		}
		if idx, ok := issuedBy[m.ToolCallID]; ok {
			migrate[idx] = true
		}
	}
	if len(migrate) == 0 {
		return pending, active
	}

	var migrated []Message
	var keptPending []Message
	migratedIDs := make(map[string]bool)
	for i, m := range pending {
		if migrate[i] {
			migrated = append(migrated, m)
			for _, tc := range m.ToolCalls {
				migratedIDs[tc.ID] = true
			}
			continue
		}
		keptPending = append(keptPending, m)
	}
	// Bring along any tool responses for migrated calls that happen to
	// still live in pending (already-archived-order edge case).
	var migratedResponses []Message
	var finalPending []Message
	for _, m := range keptPending {
		if m.Role == RoleTool && migratedIDs[m.ToolCallID] {
			migratedResponses = append(migratedResponses, m)
			continue
		}
		finalPending = append(finalPending, m)
	}

	newActive = make([]Message, 0, len(migrated)+len(migratedResponses)+len(active))
	newActive = append(newActive, migrated...)
	newActive = append(newActive, migratedResponses...)
	newActive = append(newActive, active...)
	return finalPending, newActive
}

const summaryPromptTemplate = `Summarize the conversation segment below into a compact briefing a successor agent can resume from. Use exactly these eight sections, each as a short paragraph or bullet list:

1. Goal — what the user is trying to accomplish.
2. Constraints — limits, preferences, or requirements stated so far.
3. Decisions — choices already made and why.
4. Files touched — paths created, read, or modified.
5. Commands run — notable shell/tool invocations and their outcomes.
6. Open threads — unresolved questions or half-finished steps.
7. Errors encountered — failures and how they were (or were not) resolved.
8. Next steps — what should happen next.

%s
Conversation segment to summarize:
%s`

const previousSummaryMarkerStart = "<<<PREVIOUS_SUMMARY>>>"
const previousSummaryMarkerEnd = "<<<END_PREVIOUS_SUMMARY>>>"

// truncateForSummary keeps a message's serialized form bounded: ~60% of
// the head and ~40% of the tail, joined by a [TRUNCATED] marker, so one
// oversized message cannot blow out the summarization prompt.
func truncateForSummary(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	headLen := maxLen * 6 / 10
	tailLen := maxLen - headLen
	return s[:headLen] + "\n...[TRUNCATED]...\n" + s[len(s)-tailLen:]
}

func serializeForSummary(messages []Message, perMessageLimit int) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Type == MessageTypeSummary {
			continue
		}
		line := fmt.Sprintf("[%s] %s", m.Role, m.Content)
		for _, tc := range m.ToolCalls {
			line += fmt.Sprintf(" (tool_call %s: %s)", tc.FunctionName, tc.Arguments)
		}
		b.WriteString(truncateForSummary(line, perMessageLimit))
		b.WriteString("\n")
	}
	return b.String()
}

func leadingSummary(messages []Message) (string, bool) {
	for _, m := range messages {
		if m.Type == MessageTypeSummary {
			return m.Content, true
		}
	}
	return "", false
}

// synthesizeSummary calls the provider with the fixed compression
// prompt. On provider error it falls back to a static truncation
// notice rather than failing compaction outright.
func (ce *CompactionEngine) synthesizeSummary(ctx context.Context, pending []Message) string {
	previous, hasPrevious := leadingSummary(pending)
	var previousBlock string
	if hasPrevious {
		previousBlock = fmt.Sprintf("%s\n%s\n%s\n\n", previousSummaryMarkerStart, previous, previousSummaryMarkerEnd)
	}

	body := serializeForSummary(pending, 2000)
	prompt := fmt.Sprintf(summaryPromptTemplate, previousBlock, body)

	if ce.provider == nil {
		return "[TRUNCATED] prior conversation history was compacted without a configured summarizer."
	}

	reply, err := ce.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You are a precise, low-temperature conversation summarizer."},
		{Role: "user", Content: prompt},
	}, nil, ce.cfg.Model)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("compaction summary synthesis failed, using static fallback")
		return "[TRUNCATED] prior conversation history could not be summarized: " + err.Error()
	}
	return reply.Content
}

// CompactionPlan is the computed outcome of running the compaction
// algorithm against a Context, before any persistence happens.
type CompactionPlan struct {
	KeepLastN      int
	SummaryContent string
	TokensBefore   int
	TokensAfter    int
}

// Plan runs the full §4.12 algorithm — region split, tool-pair
// migration, summary synthesis — and returns the resulting plan without
// persisting anything.
func (ce *CompactionEngine) Plan(ctx context.Context, c Context) CompactionPlan {
	acc := accountTokens(c.Messages)
	split := splitRegions(c.Messages, ce.cfg.KeepLastN)
	pending, active := migrateToolPairs(split.pending, split.active)

	summary := ce.synthesizeSummary(ctx, pending)

	finalMessages := make([]Message, 0, len(split.system)+1+len(active))
	finalMessages = append(finalMessages, split.system...)
	finalMessages = append(finalMessages, Message{Role: RoleAssistant, Type: MessageTypeSummary, Content: summary})
	finalMessages = append(finalMessages, active...)
	tokensAfter := estimateTokens(finalMessages)

	return CompactionPlan{
		KeepLastN:      len(active),
		SummaryContent: summary,
		TokensBefore:   acc.used,
		TokensAfter:    tokensAfter,
	}
}

// CompactIfNeeded checks ShouldCompact and, if triggered and an Engine
// is wired in, computes and persists the compaction via
// Engine.CompactContext. Returns the zero CompactionRecord and ok=false
// when no compaction was needed or no Engine is configured.
func (ce *CompactionEngine) CompactIfNeeded(ctx context.Context, sessionID string) (CompactionRecord, bool, error) {
	if ce.engine == nil {
		return CompactionRecord{}, false, nil
	}
	c, err := ce.engine.GetCurrentContext(ctx, sessionID)
	if err != nil {
		return CompactionRecord{}, false, err
	}
	if !ce.ShouldCompact(c) {
		return CompactionRecord{}, false, nil
	}

	plan := ce.Plan(ctx, c)
	before := plan.TokensBefore
	after := plan.TokensAfter
	record, err := ce.engine.CompactContext(ctx, sessionID, CompactOptions{
		KeepLastN:      plan.KeepLastN,
		SummaryContent: plan.SummaryContent,
		Reason:         CompactionTokenLimit,
		TokensBefore:   &before,
		TokensAfter:    &after,
	})
	if err != nil {
		return CompactionRecord{}, false, err
	}
	return record, true, nil
}
