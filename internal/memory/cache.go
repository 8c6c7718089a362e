package memory

import "sync"

// cache is the in-memory mirror of every loaded aggregate. It is the
// engine's operational state; the store bundle is the durability layer.
// All reads serve from cache; all writes update cache first, then fan
// out to the store. Only the orchestrator's own methods touch cache
// directly — callers see only deep-cloned snapshots.
type cache struct {
	mu sync.RWMutex

	sessions    map[string]Session
	contexts    map[string]Context
	histories   map[string][]HistoryMessage
	compactions map[string][]CompactionRecord
	tasks       map[string][]TaskData
	subTasks    map[string]SubTaskRunData
}

func newCache() *cache {
	return &cache{
		sessions:    map[string]Session{},
		contexts:    map[string]Context{},
		histories:   map[string][]HistoryMessage{},
		compactions: map[string][]CompactionRecord{},
		tasks:       map[string][]TaskData{},
		subTasks:    map[string]SubTaskRunData{},
	}
}

func (c *cache) getSession(id string) (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	return s.Clone(), ok
}

func (c *cache) setSession(s Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[s.SessionID] = s
}

func (c *cache) allSessions() []Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s.Clone())
	}
	return out
}

func (c *cache) getContext(sessionID string) (Context, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ctx, ok := c.contexts[sessionID]
	return ctx.Clone(), ok
}

func (c *cache) setContext(ctx Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contexts[ctx.SessionID] = ctx
}

func (c *cache) getHistory(sessionID string) ([]HistoryMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.histories[sessionID]
	return cloneHistory(h), ok
}

func (c *cache) setHistory(sessionID string, h []HistoryMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.histories[sessionID] = h
}

func cloneHistory(h []HistoryMessage) []HistoryMessage {
	out := make([]HistoryMessage, len(h))
	for i, m := range h {
		out[i] = m.Clone()
	}
	return out
}

func (c *cache) getCompactions(sessionID string) ([]CompactionRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rs, ok := c.compactions[sessionID]
	out := make([]CompactionRecord, len(rs))
	for i, r := range rs {
		out[i] = r.Clone()
	}
	return out, ok
}

func (c *cache) setCompactions(sessionID string, rs []CompactionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compactions[sessionID] = rs
}

func (c *cache) getTasks(sessionID string) []TaskData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ts := c.tasks[sessionID]
	out := make([]TaskData, len(ts))
	for i, t := range ts {
		out[i] = t.Clone()
	}
	return out
}

func (c *cache) setTasks(sessionID string, ts []TaskData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks[sessionID] = ts
}

func (c *cache) allTasks() []TaskData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []TaskData
	for _, ts := range c.tasks {
		for _, t := range ts {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (c *cache) getSubTaskRun(runID string) (SubTaskRunData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.subTasks[runID]
	return r.Clone(), ok
}

func (c *cache) setSubTaskRun(r SubTaskRunData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subTasks[r.RunID] = r
}

func (c *cache) deleteSubTaskRun(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subTasks, runID)
}

func (c *cache) allSubTaskRuns() []SubTaskRunData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]SubTaskRunData, 0, len(c.subTasks))
	for _, r := range c.subTasks {
		out = append(out, r.Clone())
	}
	return out
}
