package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// CreateSession allocates a fresh sessionId when id is empty, fails with
// AlreadyExists if the id is already present, and builds+persists the
// Session/Context/History/Compaction quartet in parallel.
func (e *Engine) CreateSession(ctx context.Context, sessionID, systemPrompt string) (string, error) {
	if err := e.requireInitialized(); err != nil {
		return "", err
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if _, exists := e.cache.getSession(sessionID); exists {
		err := newErr(KindAlreadyExists, "session %q already exists", sessionID)
		e.observe("CreateSession", err)
		return "", err
	}

	now := time.Now().UTC()
	sysMsg := Message{MessageID: "system-" + sessionID, Role: RoleSystem, Content: systemPrompt, Type: MessageTypeText}
	contextID := uuid.NewString()

	session := Session{
		SessionID:        sessionID,
		SystemPrompt:     systemPrompt,
		CurrentContextID: contextID,
		TotalMessages:    1,
		CompactionCount:  0,
		Status:           SessionActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	newContext := Context{SessionID: sessionID, ContextID: contextID, Messages: []Message{sysMsg}, Version: 1}
	zero := 0
	history := []HistoryMessage{{Message: sysMsg, SessionID: sessionID, Sequence: 1, Turn: &zero}}
	compactions := []CompactionRecord{}

	e.cache.setSession(session)
	e.cache.setContext(newContext)
	e.cache.setHistory(sessionID, history)
	e.cache.setCompactions(sessionID, compactions)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.store.Sessions.Save(gctx, sessionID, session) })
	g.Go(func() error { return e.store.Contexts.Save(gctx, sessionID, newContext) })
	g.Go(func() error { return e.store.Histories.Save(gctx, sessionID, history) })
	g.Go(func() error { return e.store.Compactions.Save(gctx, sessionID, compactions) })
	if err := g.Wait(); err != nil {
		err = wrapErr(KindWriteFailure, err, "persist new session %s", sessionID)
		e.observe("CreateSession", err)
		return "", err
	}

	e.observe("CreateSession", nil)
	return sessionID, nil
}

// GetSession returns a deep-cloned snapshot of the Session, or NotFound.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (Session, error) {
	if err := e.requireInitialized(); err != nil {
		return Session{}, err
	}
	s, ok := e.cache.getSession(sessionID)
	if !ok {
		return Session{}, newErr(KindNotFound, "session %q not found", sessionID)
	}
	return s, nil
}

// SessionFilter narrows QuerySessions results.
type SessionFilter struct {
	Status *SessionStatus
}

// QuerySessions returns deep-cloned Sessions matching filter.
func (e *Engine) QuerySessions(ctx context.Context, filter SessionFilter) ([]Session, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	var out []Session
	for _, s := range e.cache.allSessions() {
		if filter.Status != nil && s.Status != *filter.Status {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetCurrentContext returns a deep-cloned Context, or NotFound.
func (e *Engine) GetCurrentContext(ctx context.Context, sessionID string) (Context, error) {
	if err := e.requireInitialized(); err != nil {
		return Context{}, err
	}
	c, ok := e.cache.getContext(sessionID)
	if !ok {
		return Context{}, newErr(KindNotFound, "context for session %q not found", sessionID)
	}
	return c, nil
}

// SaveCurrentContext overwrites the engine's Context snapshot for
// sessionID wholesale. Used by the Session facade's sync() to flush its
// local working copy back into the engine.
func (e *Engine) SaveCurrentContext(ctx context.Context, sessionID string, c Context) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	if _, ok := e.cache.getSession(sessionID); !ok {
		return newErr(KindNotFound, "session %q not found", sessionID)
	}
	e.cache.setContext(c)
	if err := e.store.Contexts.Save(ctx, sessionID, c); err != nil {
		return wrapErr(KindWriteFailure, err, "persist context for %s", sessionID)
	}
	return nil
}

// AddMessageOptions controls AddMessageToContext's History side effect.
type AddMessageOptions struct {
	AddToHistory bool
}

// AddMessageToContext upserts message into the session's Context: a
// messageId matching the last Context message replaces it in place (the
// streaming-token case), otherwise the message is appended and Version
// bumped. If AddToHistory, the same upsert-by-messageId semantics apply
// to History, preserving an existing entry's Sequence.
func (e *Engine) AddMessageToContext(ctx context.Context, sessionID string, message Message, opts AddMessageOptions) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	session, ok := e.cache.getSession(sessionID)
	if !ok {
		return newErr(KindNotFound, "session %q not found", sessionID)
	}

	c, ok := e.cache.getContext(sessionID)
	if !ok {
		return newErr(KindNotFound, "context for session %q not found", sessionID)
	}

	if n := len(c.Messages); n > 0 && c.Messages[n-1].MessageID == message.MessageID {
		c.Messages[n-1] = message
	} else {
		c.Messages = append(c.Messages, message)
		c.Version++
	}
	e.cache.setContext(c)

	historyChanged := false
	if opts.AddToHistory {
		hist, _ := e.cache.getHistory(sessionID)
		found := false
		for i, h := range hist {
			if h.MessageID == message.MessageID {
				seq := h.Sequence
				turn := h.Turn
				hist[i] = HistoryMessage{Message: message, SessionID: sessionID, Sequence: seq, Turn: turn}
				found = true
				break
			}
		}
		if !found {
			hist = append(hist, HistoryMessage{Message: message, SessionID: sessionID, Sequence: len(hist) + 1})
			historyChanged = true
		}
		e.cache.setHistory(sessionID, hist)
		if err := e.store.Histories.Save(ctx, sessionID, hist); err != nil {
			return wrapErr(KindWriteFailure, err, "persist history for %s", sessionID)
		}
	}

	session.UpdatedAt = time.Now().UTC()
	if historyChanged {
		hist, _ := e.cache.getHistory(sessionID)
		session.TotalMessages = len(hist)
	}
	e.cache.setSession(session)

	if err := e.store.Contexts.Save(ctx, sessionID, c); err != nil {
		err = wrapErr(KindWriteFailure, err, "persist context for %s", sessionID)
		e.observe("AddMessageToContext", err)
		return err
	}
	if err := e.store.Sessions.Save(ctx, sessionID, session); err != nil {
		err = wrapErr(KindWriteFailure, err, "persist session for %s", sessionID)
		e.observe("AddMessageToContext", err)
		return err
	}
	e.observe("AddMessageToContext", nil)
	return nil
}

// MessageUpdate is a partial update applied to an existing message.
// MessageID can never be changed by an update: any attempt is ignored.
type MessageUpdate struct {
	Content      *string
	Parts        []ContentPart
	Type         *MessageType
	ToolCalls    []ToolCall
	ToolCallID   *string
	FinishReason *string
	Usage        *Usage
}

func applyMessageUpdate(m *Message, u MessageUpdate) {
	if u.Content != nil {
		m.Content = *u.Content
	}
	if u.Parts != nil {
		m.Parts = u.Parts
	}
	if u.Type != nil {
		m.Type = *u.Type
	}
	if u.ToolCalls != nil {
		m.ToolCalls = u.ToolCalls
	}
	if u.ToolCallID != nil {
		m.ToolCallID = *u.ToolCallID
	}
	if u.FinishReason != nil {
		m.FinishReason = *u.FinishReason
	}
	if u.Usage != nil {
		m.Usage = u.Usage
	}
}

// UpdateMessageInContext locates the last occurrence of messageId in
// Context, applies updates (messageId itself is never changed), and
// propagates the same updates to the matching History entry while
// preserving its Sequence.
func (e *Engine) UpdateMessageInContext(ctx context.Context, sessionID, messageID string, updates MessageUpdate) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	c, ok := e.cache.getContext(sessionID)
	if !ok {
		return newErr(KindNotFound, "context for session %q not found", sessionID)
	}

	idx := -1
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].MessageID == messageID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return newErr(KindNotFound, "message %q not found in context for session %q", messageID, sessionID)
	}
	applyMessageUpdate(&c.Messages[idx], updates)
	e.cache.setContext(c)
	if err := e.store.Contexts.Save(ctx, sessionID, c); err != nil {
		return wrapErr(KindWriteFailure, err, "persist context for %s", sessionID)
	}

	hist, ok := e.cache.getHistory(sessionID)
	if ok {
		for i, h := range hist {
			if h.MessageID == messageID {
				applyMessageUpdate(&hist[i].Message, updates)
				break
			}
		}
		e.cache.setHistory(sessionID, hist)
		if err := e.store.Histories.Save(ctx, sessionID, hist); err != nil {
			return wrapErr(KindWriteFailure, err, "persist history for %s", sessionID)
		}
	}
	return nil
}

// RemoveMessageFromContext splices messageId out of Context (a no-op for
// the system role) and marks the matching History entry
// ExcludedFromContext with reason, without deleting it. Returns whether a
// removal occurred.
func (e *Engine) RemoveMessageFromContext(ctx context.Context, sessionID, messageID, reason string) (bool, error) {
	if err := e.requireInitialized(); err != nil {
		return false, err
	}
	if reason == "" {
		reason = "manual"
	}
	c, ok := e.cache.getContext(sessionID)
	if !ok {
		return false, newErr(KindNotFound, "context for session %q not found", sessionID)
	}

	idx := -1
	for i, m := range c.Messages {
		if m.MessageID == messageID {
			if m.Role == RoleSystem {
				return false, nil
			}
			idx = i
			break
		}
	}
	if idx == -1 {
		return false, nil
	}
	c.Messages = append(c.Messages[:idx], c.Messages[idx+1:]...)
	c.Version++
	e.cache.setContext(c)
	if err := e.store.Contexts.Save(ctx, sessionID, c); err != nil {
		return false, wrapErr(KindWriteFailure, err, "persist context for %s", sessionID)
	}

	hist, ok := e.cache.getHistory(sessionID)
	if ok {
		for i, h := range hist {
			if h.MessageID == messageID {
				hist[i].ExcludedFromContext = true
				hist[i].ExcludedReason = reason
				break
			}
		}
		e.cache.setHistory(sessionID, hist)
		if err := e.store.Histories.Save(ctx, sessionID, hist); err != nil {
			return true, wrapErr(KindWriteFailure, err, "persist history for %s", sessionID)
		}
	}
	return true, nil
}

// ClearContext resets Context to just the system message; History is
// unchanged.
func (e *Engine) ClearContext(ctx context.Context, sessionID string) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	c, ok := e.cache.getContext(sessionID)
	if !ok {
		return newErr(KindNotFound, "context for session %q not found", sessionID)
	}
	if len(c.Messages) == 0 {
		return nil
	}
	c.Messages = c.Messages[:1]
	c.Version++
	e.cache.setContext(c)
	if err := e.store.Contexts.Save(ctx, sessionID, c); err != nil {
		return wrapErr(KindWriteFailure, err, "persist context for %s", sessionID)
	}
	return nil
}

// CompactOptions parameterizes CompactContext. KeepLastN is the number
// of trailing non-system messages to retain (already adjusted for
// tool-pair preservation by the caller, typically the compaction engine
// in compaction.go); SummaryContent is the already-synthesized summary
// text.
type CompactOptions struct {
	KeepLastN        int
	SummaryMessageID string
	SummaryContent   string
	Reason           CompactionReason
	TokensBefore     *int
	TokensAfter      *int
}

// CompactContext partitions Context's non-system messages into an
// archive prefix and a kept suffix, stamps the archived History entries
// with the new CompactionRecord id, inserts the summary message into
// History, rebuilds Context as [system, summary, ...kept], and persists
// all four touched aggregates.
func (e *Engine) CompactContext(ctx context.Context, sessionID string, opts CompactOptions) (CompactionRecord, error) {
	if err := e.requireInitialized(); err != nil {
		return CompactionRecord{}, err
	}
	session, ok := e.cache.getSession(sessionID)
	if !ok {
		return CompactionRecord{}, newErr(KindNotFound, "session %q not found", sessionID)
	}
	c, ok := e.cache.getContext(sessionID)
	if !ok {
		return CompactionRecord{}, newErr(KindNotFound, "context for session %q not found", sessionID)
	}
	if len(c.Messages) == 0 || c.Messages[0].Role != RoleSystem {
		return CompactionRecord{}, newErr(KindInvariantViolation, "context for session %q has no leading system message", sessionID)
	}

	nonSystem := c.Messages[1:]
	archiveCount := len(nonSystem) - opts.KeepLastN
	if archiveCount < 0 {
		archiveCount = 0
	}
	archived := nonSystem[:archiveCount]
	kept := nonSystem[archiveCount:]

	archivedIDs := make([]string, 0, len(archived))
	archivedSet := make(map[string]bool, len(archived))
	for _, m := range archived {
		archivedIDs = append(archivedIDs, m.MessageID)
		archivedSet[m.MessageID] = true
	}

	recordID := uuid.NewString()
	summaryID := opts.SummaryMessageID
	if summaryID == "" {
		summaryID = uuid.NewString()
	}
	summaryMsg := Message{MessageID: summaryID, Role: RoleAssistant, Content: opts.SummaryContent, Type: MessageTypeSummary}

	hist, _ := e.cache.getHistory(sessionID)
	for i := range hist {
		if archivedSet[hist[i].MessageID] {
			id := recordID
			hist[i].ArchivedBy = &id
		}
	}
	summaryFound := false
	for i := range hist {
		if hist[i].MessageID == summaryID {
			hist[i].Message = summaryMsg
			hist[i].IsSummary = true
			hist[i].ArchivedBy = nil
			summaryFound = true
			break
		}
	}
	if !summaryFound {
		hist = append(hist, HistoryMessage{Message: summaryMsg, SessionID: sessionID, Sequence: len(hist) + 1, IsSummary: true})
	}
	e.cache.setHistory(sessionID, hist)

	messageCountBefore := len(c.Messages)
	newMessages := make([]Message, 0, len(kept)+2)
	newMessages = append(newMessages, c.Messages[0], summaryMsg)
	newMessages = append(newMessages, kept...)
	c.Messages = newMessages
	c.Version++
	c.LastCompactionID = &recordID
	e.cache.setContext(c)

	record := CompactionRecord{
		SessionID:          sessionID,
		RecordID:           recordID,
		CompactedAt:        time.Now().UTC(),
		MessageCountBefore: messageCountBefore,
		MessageCountAfter:  len(c.Messages),
		ArchivedMessageIDs: archivedIDs,
		SummaryMessageID:   summaryID,
		Reason:             opts.Reason,
		TokensBefore:       opts.TokensBefore,
		TokensAfter:        opts.TokensAfter,
	}
	records, _ := e.cache.getCompactions(sessionID)
	records = append(records, record)
	e.cache.setCompactions(sessionID, records)

	session.CompactionCount = len(records)
	session.UpdatedAt = time.Now().UTC()
	e.cache.setSession(session)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.store.Contexts.Save(gctx, sessionID, c) })
	g.Go(func() error { return e.store.Histories.Save(gctx, sessionID, hist) })
	g.Go(func() error { return e.store.Compactions.Save(gctx, sessionID, records) })
	g.Go(func() error { return e.store.Sessions.Save(gctx, sessionID, session) })
	if err := g.Wait(); err != nil {
		err = wrapErr(KindWriteFailure, err, "persist compaction for %s", sessionID)
		e.observe("CompactContext", err)
		return CompactionRecord{}, err
	}

	e.observe("CompactContext", nil)
	return record, nil
}

// HistoryFilter narrows GetFullHistory results.
type HistoryFilter struct {
	MessageIDs      map[string]bool
	SequenceFrom    *int
	SequenceTo      *int
	IncludeSummary  *bool
	ArchivedBy      *string
}

// HistoryPage paginates GetFullHistory results.
type HistoryPage struct {
	Offset int
	Limit  int // 0 means unlimited
}

// GetFullHistory returns History entries matching filter, sorted by
// Sequence ascending, then paginated.
func (e *Engine) GetFullHistory(ctx context.Context, sessionID string, filter HistoryFilter, page HistoryPage) ([]HistoryMessage, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	hist, _ := e.cache.getHistory(sessionID)

	var matched []HistoryMessage
	for _, h := range hist {
		if filter.MessageIDs != nil && !filter.MessageIDs[h.MessageID] {
			continue
		}
		if filter.SequenceFrom != nil && h.Sequence < *filter.SequenceFrom {
			continue
		}
		if filter.SequenceTo != nil && h.Sequence > *filter.SequenceTo {
			continue
		}
		if filter.IncludeSummary != nil && h.IsSummary != *filter.IncludeSummary {
			continue
		}
		if filter.ArchivedBy != nil {
			if h.ArchivedBy == nil || *h.ArchivedBy != *filter.ArchivedBy {
				continue
			}
		}
		matched = append(matched, h)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Sequence < matched[j].Sequence })

	if page.Offset > 0 {
		if page.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(matched) {
		matched = matched[:page.Limit]
	}
	return matched, nil
}

// GetCompactionRecords returns every CompactionRecord for sessionID.
func (e *Engine) GetCompactionRecords(ctx context.Context, sessionID string) ([]CompactionRecord, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	records, _ := e.cache.getCompactions(sessionID)
	return records, nil
}
