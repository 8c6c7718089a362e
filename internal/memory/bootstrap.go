package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"memoryengine/internal/memory/store"
)

// Observer is the optional downstream hook a caller may inject to watch
// operation outcomes (name plus error) without the engine depending on any specific
// metrics library (see SPEC_FULL.md §4.16).
type Observer interface {
	ObserveOperation(name string, err error)
}

// initFuture is the "in-flight" half of the two-field initialization
// guard: a done channel closed once bootstrap settles, carrying its
// result for every concurrent waiter.
type initFuture struct {
	done chan struct{}
	err  error
}

// Engine is the conversation memory engine: cache + store bundle +
// lifecycle, and the orchestrator for every public operation in §6.
type Engine struct {
	store    store.Bundle
	observer Observer

	mu          sync.Mutex
	initialized bool
	inFlight    *initFuture

	cache *cache
}

// New constructs an Engine over the given store bundle. Initialize must
// be called (directly, or via WaitForInitialization) before any other
// public operation.
func New(bundle store.Bundle, observer Observer) *Engine {
	return &Engine{store: bundle, observer: observer, cache: newCache()}
}

func (e *Engine) observe(op string, err error) {
	if e.observer != nil {
		e.observer.ObserveOperation(op, err)
	}
}

// Initialize runs the one-shot bootstrap (prepare + loadAll + repair) at
// most once, even under N concurrent callers: the first caller installs
// an in-flight future and runs bootstrap; every other concurrent caller
// awaits that same future instead of re-running it.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	if e.initialized {
		e.mu.Unlock()
		return nil
	}
	if f := e.inFlight; f != nil {
		e.mu.Unlock()
		<-f.done
		return f.err
	}
	f := &initFuture{done: make(chan struct{})}
	e.inFlight = f
	e.mu.Unlock()

	err := e.bootstrap(ctx)

	e.mu.Lock()
	f.err = err
	if err == nil {
		e.initialized = true
	}
	e.inFlight = nil
	e.mu.Unlock()
	close(f.done)
	return err
}

// WaitForInitialization lets a caller that did not itself start
// initialization (a concurrently spawned sub-agent, typically) safely
// enter the engine: it returns immediately if already initialized,
// awaits an in-flight initialization, or starts one itself.
func (e *Engine) WaitForInitialization(ctx context.Context) error {
	return e.Initialize(ctx)
}

// Close awaits any in-flight initialization (ignoring its error), then
// closes the store bundle and marks the engine uninitialized, so a later
// Initialize call can re-open it.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	f := e.inFlight
	e.mu.Unlock()
	if f != nil {
		<-f.done
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.store.Close(ctx)
	e.initialized = false
	return err
}

func (e *Engine) requireInitialized() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return newErr(KindNotInitialized, "engine operation called before initialize() completed")
	}
	return nil
}

// bootstrap prepares every store, loads every aggregate into the cache,
// and repairs cross-aggregate invariants without discarding data. It
// runs exactly once per successful Initialize.
func (e *Engine) bootstrap(ctx context.Context) error {
	if err := e.store.PrepareAll(ctx); err != nil {
		return wrapErr(KindBackendUnavailable, err, "prepare store bundle")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := e.store.Sessions.LoadAll(gctx)
		if err != nil {
			return wrapErr(KindBackendUnavailable, err, "load sessions")
		}
		for id, s := range m {
			e.cache.setSession(s)
			_ = id
		}
		return nil
	})
	g.Go(func() error {
		m, err := e.store.Contexts.LoadAll(gctx)
		if err != nil {
			return wrapErr(KindBackendUnavailable, err, "load contexts")
		}
		for id, c := range m {
			e.cache.setContext(c)
			_ = id
		}
		return nil
	})
	g.Go(func() error {
		m, err := e.store.Histories.LoadAll(gctx)
		if err != nil {
			return wrapErr(KindBackendUnavailable, err, "load histories")
		}
		for id, h := range m {
			e.cache.setHistory(id, h)
		}
		return nil
	})
	g.Go(func() error {
		m, err := e.store.Compactions.LoadAll(gctx)
		if err != nil {
			return wrapErr(KindBackendUnavailable, err, "load compactions")
		}
		for id, c := range m {
			e.cache.setCompactions(id, c)
		}
		return nil
	})
	g.Go(func() error {
		m, err := e.store.Tasks.LoadAll(gctx)
		if err != nil {
			return wrapErr(KindBackendUnavailable, err, "load tasks")
		}
		for id, t := range m {
			e.cache.setTasks(id, t)
		}
		return nil
	})
	g.Go(func() error {
		m, err := e.store.SubTaskRuns.LoadAll(gctx)
		if err != nil {
			return wrapErr(KindBackendUnavailable, err, "load sub-task runs")
		}
		for id, r := range m {
			e.cache.setSubTaskRun(r)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	return e.repair(ctx)
}

// repair enforces cross-aggregate invariants after a fresh load, without
// re-running after the first Initialize: missing Context is synthesized
// from History, missing History is synthesized from Context, and a
// missing Compaction list is written as empty. All repair writes are
// batched into one concurrent fan-out.
func (e *Engine) repair(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, s := range e.cache.allSessions() {
		s := s
		if _, ok := e.cache.getContext(s.SessionID); !ok {
			g.Go(func() error { return e.repairMissingContext(gctx, s) })
		}
		if _, ok := e.cache.getHistory(s.SessionID); !ok {
			g.Go(func() error { return e.repairMissingHistory(gctx, s) })
		}
		if _, ok := e.cache.getCompactions(s.SessionID); !ok {
			g.Go(func() error { return e.repairMissingCompactions(gctx, s) })
		}
	}

	return g.Wait()
}

// repairMissingContext synthesizes a Context from History: messages not
// archivedBy anything and not excludedFromContext, with a leading system
// message matching Session.systemPrompt.
func (e *Engine) repairMissingContext(ctx context.Context, s Session) error {
	hist, _ := e.cache.getHistory(s.SessionID)

	var messages []Message
	messages = append(messages, Message{
		MessageID: "system-" + s.SessionID,
		Role:      RoleSystem,
		Content:   s.SystemPrompt,
		Type:      MessageTypeText,
	})
	for _, h := range hist {
		if h.ArchivedBy != nil || h.ExcludedFromContext || h.Role == RoleSystem {
			continue
		}
		messages = append(messages, h.Message)
	}

	contextID := s.CurrentContextID
	if contextID == "" {
		contextID = uuid.NewString()
	}
	repaired := Context{SessionID: s.SessionID, ContextID: contextID, Messages: messages, Version: 1}
	e.cache.setContext(repaired)

	if s.CurrentContextID == "" {
		s.CurrentContextID = contextID
		e.cache.setSession(s)
		if err := e.store.Sessions.Save(ctx, s.SessionID, s); err != nil {
			log.Warn().Err(err).Str("session_id", s.SessionID).Msg("memory: repair failed to persist session")
		}
	}

	if err := e.store.Contexts.Save(ctx, s.SessionID, repaired); err != nil {
		return wrapErr(KindWriteFailure, err, "persist repaired context for %s", s.SessionID)
	}
	return nil
}

// repairMissingHistory synthesizes History by projecting the Context's
// messages with dense 1-based sequence values; the leading system
// message gets turn=0.
func (e *Engine) repairMissingHistory(ctx context.Context, s Session) error {
	c, ok := e.cache.getContext(s.SessionID)
	if !ok {
		return nil // nothing to project from; leave history absent
	}

	hist := make([]HistoryMessage, 0, len(c.Messages))
	for i, m := range c.Messages {
		seq := i + 1
		hm := HistoryMessage{Message: m, SessionID: s.SessionID, Sequence: seq}
		if m.Role == RoleSystem {
			zero := 0
			hm.Turn = &zero
		}
		hist = append(hist, hm)
	}
	e.cache.setHistory(s.SessionID, hist)

	if err := e.store.Histories.Save(ctx, s.SessionID, hist); err != nil {
		return wrapErr(KindWriteFailure, err, "persist repaired history for %s", s.SessionID)
	}
	return nil
}

func (e *Engine) repairMissingCompactions(ctx context.Context, s Session) error {
	e.cache.setCompactions(s.SessionID, []CompactionRecord{})
	if err := e.store.Compactions.Save(ctx, s.SessionID, []CompactionRecord{}); err != nil {
		return wrapErr(KindWriteFailure, err, "persist empty compaction list for %s", s.SessionID)
	}
	return nil
}
