package memory

import (
	"context"
	"sort"
	"time"
)

// SaveTask validates the session-binding invariant (a taskId belongs to
// exactly one sessionId for its lifetime) before upserting, preserving
// CreatedAt across updates. Persistence rewrites the containing
// session's whole task list.
func (e *Engine) SaveTask(ctx context.Context, task TaskData) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}

	existing, existingSessionID, found := e.findTask(task.TaskID)
	if found && existingSessionID != task.SessionID {
		err := newErr(KindInvariantViolation, "Task ID collision detected")
		e.observe("SaveTask", err)
		return err
	}

	now := time.Now().UTC()
	if found {
		task.CreatedAt = existing.CreatedAt
	} else if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	list := e.cache.getTasks(task.SessionID)
	replaced := false
	for i, t := range list {
		if t.TaskID == task.TaskID {
			list[i] = task
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, task)
	}
	e.cache.setTasks(task.SessionID, list)

	if err := e.store.Tasks.SaveBySession(ctx, task.SessionID, list); err != nil {
		err = wrapErr(KindWriteFailure, err, "persist task list for %s", task.SessionID)
		e.observe("SaveTask", err)
		return err
	}
	e.observe("SaveTask", nil)
	return nil
}

func (e *Engine) findTask(taskID string) (TaskData, string, bool) {
	for _, t := range e.cache.allTasks() {
		if t.TaskID == taskID {
			return t, t.SessionID, true
		}
	}
	return TaskData{}, "", false
}

// GetTask returns a single TaskData by id, or NotFound.
func (e *Engine) GetTask(ctx context.Context, taskID string) (TaskData, error) {
	if err := e.requireInitialized(); err != nil {
		return TaskData{}, err
	}
	t, _, found := e.findTask(taskID)
	if !found {
		return TaskData{}, newErr(KindNotFound, "task %q not found", taskID)
	}
	return t, nil
}

// TaskFilter narrows QueryTasks results. ParentTaskID distinguishes "not
// set" (nil) from "explicitly no parent" (pointer to empty string) so
// callers can ask for exactly the top-level tasks of a session.
type TaskFilter struct {
	SessionID    *string
	TaskID       *string
	ParentTaskID *string
	Status       *TaskStatus
}

// QueryTasks filters by SessionID, TaskID, ParentTaskID (nil parent
// matched with a pointer to ""), and Status.
func (e *Engine) QueryTasks(ctx context.Context, filter TaskFilter) ([]TaskData, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}

	var candidates []TaskData
	if filter.SessionID != nil {
		candidates = e.cache.getTasks(*filter.SessionID)
	} else {
		candidates = e.cache.allTasks()
	}

	var out []TaskData
	for _, t := range candidates {
		if filter.TaskID != nil && t.TaskID != *filter.TaskID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.ParentTaskID != nil {
			if *filter.ParentTaskID == "" {
				if t.ParentTaskID != nil {
					continue
				}
			} else {
				if t.ParentTaskID == nil || *t.ParentTaskID != *filter.ParentTaskID {
					continue
				}
			}
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteTask removes the task and rewrites its session's list (possibly
// deleting the file/document if the list becomes empty).
func (e *Engine) DeleteTask(ctx context.Context, taskID string) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	_, sessionID, found := e.findTask(taskID)
	if !found {
		return nil
	}
	list := e.cache.getTasks(sessionID)
	out := list[:0:0]
	for _, t := range list {
		if t.TaskID != taskID {
			out = append(out, t)
		}
	}
	e.cache.setTasks(sessionID, out)
	if err := e.store.Tasks.SaveBySession(ctx, sessionID, out); err != nil {
		return wrapErr(KindWriteFailure, err, "persist task list for %s", sessionID)
	}
	return nil
}

// SubTaskRunInput is the caller-facing shape for SaveSubTaskRun: Messages
// is accepted only to derive MessageCount and is never persisted.
type SubTaskRunInput struct {
	SubTaskRunData
	Messages []Message
}

// SaveSubTaskRun normalizes the input (MessageCount from len(Messages) if
// unset, then Messages stripped) before persisting, so records stay
// compact and never embed the child session's messages.
func (e *Engine) SaveSubTaskRun(ctx context.Context, input SubTaskRunInput) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}

	run := input.SubTaskRunData
	if run.MessageCount == nil && input.Messages != nil {
		n := len(input.Messages)
		run.MessageCount = &n
	}
	now := time.Now().UTC()
	if existing, ok := e.cache.getSubTaskRun(run.RunID); ok {
		run.CreatedAt = existing.CreatedAt
	} else if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	e.cache.setSubTaskRun(run)
	if err := e.store.SubTaskRuns.Save(ctx, run.RunID, run); err != nil {
		return wrapErr(KindWriteFailure, err, "persist sub-task run %s", run.RunID)
	}
	return nil
}

// GetSubTaskRun returns a single SubTaskRunData by id, or NotFound.
func (e *Engine) GetSubTaskRun(ctx context.Context, runID string) (SubTaskRunData, error) {
	if err := e.requireInitialized(); err != nil {
		return SubTaskRunData{}, err
	}
	r, ok := e.cache.getSubTaskRun(runID)
	if !ok {
		return SubTaskRunData{}, newErr(KindNotFound, "sub-task run %q not found", runID)
	}
	return r, nil
}

// SubTaskRunFilter narrows QuerySubTaskRuns results.
type SubTaskRunFilter struct {
	ParentSessionID *string
	Status          *SubTaskRunStatus
	Mode            *SubTaskRunMode
}

// QuerySubTaskRuns filters by ParentSessionID, Status, and Mode.
func (e *Engine) QuerySubTaskRuns(ctx context.Context, filter SubTaskRunFilter) ([]SubTaskRunData, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	var out []SubTaskRunData
	for _, r := range e.cache.allSubTaskRuns() {
		if filter.ParentSessionID != nil && r.ParentSessionID != *filter.ParentSessionID {
			continue
		}
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		if filter.Mode != nil && r.Mode != *filter.Mode {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteSubTaskRun removes the record from cache and store.
func (e *Engine) DeleteSubTaskRun(ctx context.Context, runID string) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	e.cache.deleteSubTaskRun(runID)
	if err := e.store.SubTaskRuns.Delete(ctx, runID); err != nil {
		return wrapErr(KindWriteFailure, err, "delete sub-task run %s", runID)
	}
	return nil
}
