package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"memoryengine/internal/observability"
)

// SessionFacade wraps a single sessionId for an agent loop. It holds a local
// in-memory message array that is the working copy callers read and
// mutate, and serializes all per-message writes against the engine
// through a tail-chained persist queue so two rapid updates to the same
// messageId cannot interleave and produce duplicate history entries.
//
// Construction does not touch the engine; Initialize does, creating a
// fresh session when newSessionSystemPrompt is non-empty or resuming an
// existing one otherwise.
type SessionFacade struct {
	engine      *Engine
	compaction  *CompactionEngine
	sessionID   string
	newPrompt   string

	initMu      sync.Mutex
	initialized bool
	inFlight    *initFuture

	queueMu sync.Mutex
	tail    chan struct{} // closed when the previously-queued op completes

	msgMu    sync.RWMutex
	messages []Message
}

// NewSessionFacade constructs a facade for sessionID. If
// newSessionSystemPrompt is non-empty, Initialize creates a fresh
// session with that prompt; otherwise Initialize resumes the existing
// session's Context. compaction may be nil to disable
// CompactBeforeLLMCall's summarization side effect.
func NewSessionFacade(engine *Engine, compaction *CompactionEngine, sessionID, newSessionSystemPrompt string) *SessionFacade {
	return &SessionFacade{
		engine:    engine,
		compaction: compaction,
		sessionID: sessionID,
		newPrompt: newSessionSystemPrompt,
	}
}

// SessionID returns the id this facade wraps.
func (s *SessionFacade) SessionID() string { return s.sessionID }

// Initialize runs the facade's one-shot setup at most once, under the
// same two-field guard as the engine: the first caller creates-or-
// resumes the session and loads its local working copy; concurrent
// callers await that result instead of repeating it.
func (s *SessionFacade) Initialize(ctx context.Context) error {
	s.initMu.Lock()
	if s.initialized {
		s.initMu.Unlock()
		return nil
	}
	if f := s.inFlight; f != nil {
		s.initMu.Unlock()
		<-f.done
		return f.err
	}
	f := &initFuture{done: make(chan struct{})}
	s.inFlight = f
	s.initMu.Unlock()

	err := s.doInitialize(ctx)

	s.initMu.Lock()
	f.err = err
	if err == nil {
		s.initialized = true
	}
	s.inFlight = nil
	s.initMu.Unlock()
	close(f.done)
	return err
}

func (s *SessionFacade) doInitialize(ctx context.Context) error {
	if err := s.engine.WaitForInitialization(ctx); err != nil {
		return err
	}

	if s.newPrompt != "" {
		id, err := s.engine.CreateSession(ctx, s.sessionID, s.newPrompt)
		if err != nil && !IsKind(err, KindAlreadyExists) {
			return err
		}
		s.sessionID = id
	}

	c, err := s.engine.GetCurrentContext(ctx, s.sessionID)
	if err != nil {
		return err
	}
	s.msgMu.Lock()
	s.messages = append([]Message{}, c.Messages...)
	s.msgMu.Unlock()

	if _, err := s.engine.NormalizeContextProtocol(ctx, s.sessionID); err != nil {
		return err
	}
	return s.refreshLocal(ctx)
}

func (s *SessionFacade) refreshLocal(ctx context.Context) error {
	c, err := s.engine.GetCurrentContext(ctx, s.sessionID)
	if err != nil {
		return err
	}
	s.msgMu.Lock()
	s.messages = append([]Message{}, c.Messages...)
	s.msgMu.Unlock()
	return nil
}

// Messages returns a copy of the facade's local working copy.
func (s *SessionFacade) Messages() []Message {
	s.msgMu.RLock()
	defer s.msgMu.RUnlock()
	return append([]Message{}, s.messages...)
}

// enqueue tail-chains fn behind whatever op is currently in flight on
// this facade's persist queue, so per-message writes against the same
// session never interleave. Errors are logged and swallowed per §4.15:
// one bad write must not permanently stall the chain.
func (s *SessionFacade) enqueue(fn func()) {
	s.queueMu.Lock()
	prev := s.tail
	done := make(chan struct{})
	s.tail = done
	s.queueMu.Unlock()

	go func() {
		if prev != nil {
			<-prev
		}
		defer close(done)
		fn()
	}()
}

// awaitQueue blocks until every previously-enqueued op has completed.
func (s *SessionFacade) awaitQueue() {
	s.queueMu.Lock()
	tail := s.tail
	s.queueMu.Unlock()
	if tail != nil {
		<-tail
	}
}

// AddMessage upserts message into the local working copy by messageId
// (last-entry match, same streaming-token semantics as the engine) and
// enqueues the matching engine write.
func (s *SessionFacade) AddMessage(ctx context.Context, message Message, addToHistory bool) {
	s.msgMu.Lock()
	if n := len(s.messages); n > 0 && s.messages[n-1].MessageID == message.MessageID {
		s.messages[n-1] = message
	} else {
		s.messages = append(s.messages, message)
	}
	s.msgMu.Unlock()

	s.enqueue(func() {
		if err := s.engine.AddMessageToContext(ctx, s.sessionID, message, AddMessageOptions{AddToHistory: addToHistory}); err != nil {
			ev := log.Warn().Err(err).Str("session_id", s.sessionID).Str("message_id", message.MessageID)
			if raw, marshalErr := json.Marshal(message); marshalErr == nil {
				ev = ev.RawJSON("message", observability.RedactJSON(raw))
			}
			ev.Msg("memory: facade persist failed")
		}
	})
}

// Sync awaits the persist queue, then overwrites the engine's Context
// snapshot wholesale with the facade's local working copy.
func (s *SessionFacade) Sync(ctx context.Context) error {
	s.awaitQueue()
	s.msgMu.RLock()
	c := Context{SessionID: s.sessionID, Messages: append([]Message{}, s.messages...)}
	s.msgMu.RUnlock()

	existing, err := s.engine.GetCurrentContext(ctx, s.sessionID)
	if err == nil {
		c.ContextID = existing.ContextID
		c.Version = existing.Version + 1
		c.LastCompactionID = existing.LastCompactionID
	} else {
		c.Version = 1
	}
	return s.engine.SaveCurrentContext(ctx, s.sessionID, c)
}

// CompactBeforeLLMCall runs context-level tool-call protocol
// normalization, refreshes the local copy if anything changed, and then
// — only when a CompactionEngine was configured — checks and applies
// compaction before the caller hands the conversation to an LLM.
func (s *SessionFacade) CompactBeforeLLMCall(ctx context.Context) error {
	changed, err := s.engine.NormalizeContextProtocol(ctx, s.sessionID)
	if err != nil {
		return err
	}
	if changed {
		if err := s.refreshLocal(ctx); err != nil {
			return err
		}
	}

	if s.compaction == nil {
		return nil
	}
	if _, compacted, err := s.compaction.CompactIfNeeded(ctx, s.sessionID); err != nil {
		return err
	} else if compacted {
		return s.refreshLocal(ctx)
	}
	return nil
}
