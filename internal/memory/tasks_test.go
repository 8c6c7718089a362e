package memory

import (
	"context"
	"testing"
)

func TestSaveTask_CollisionAcrossSessionsIsRejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	s1, err := e.CreateSession(ctx, "", "system prompt")
	if err != nil {
		t.Fatalf("create session 1: %v", err)
	}
	s2, err := e.CreateSession(ctx, "", "system prompt")
	if err != nil {
		t.Fatalf("create session 2: %v", err)
	}

	if err := e.SaveTask(ctx, TaskData{TaskID: "shared-task", SessionID: s1, Status: "open"}); err != nil {
		t.Fatalf("save task under s1: %v", err)
	}

	err = e.SaveTask(ctx, TaskData{TaskID: "shared-task", SessionID: s2, Status: "open"})
	if err == nil || !IsKind(err, KindInvariantViolation) {
		t.Fatalf("expected KindInvariantViolation for a task id bound to a different session, got %v", err)
	}
}

func TestSaveTask_UpdatePreservesCreatedAt(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	sid, err := e.CreateSession(ctx, "", "system prompt")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := e.SaveTask(ctx, TaskData{TaskID: "t1", SessionID: sid, Status: "open"}); err != nil {
		t.Fatalf("save task: %v", err)
	}
	first, err := e.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}

	if err := e.SaveTask(ctx, TaskData{TaskID: "t1", SessionID: sid, Status: "done"}); err != nil {
		t.Fatalf("update task: %v", err)
	}
	second, err := e.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get updated task: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("expected CreatedAt preserved across update, got %v vs %v", first.CreatedAt, second.CreatedAt)
	}
	if second.Status != "done" {
		t.Fatalf("expected status updated, got %q", second.Status)
	}
}

func TestDeleteTask_RemovesFromSessionList(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	sid, err := e.CreateSession(ctx, "", "system prompt")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := e.SaveTask(ctx, TaskData{TaskID: "t1", SessionID: sid, Status: "open"}); err != nil {
		t.Fatalf("save task: %v", err)
	}
	if err := e.DeleteTask(ctx, "t1"); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if _, err := e.GetTask(ctx, "t1"); err == nil || !IsKind(err, KindNotFound) {
		t.Fatalf("expected KindNotFound after delete, got %v", err)
	}
}

func TestSaveSubTaskRun_DerivesMessageCountFromInput(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	input := SubTaskRunInput{
		SubTaskRunData: SubTaskRunData{RunID: "r1", ParentSessionID: "p1", ChildSessionID: "c1", Mode: SubTaskRunForeground, Status: SubTaskRunRunning},
		Messages:       []Message{textMsg("m1", RoleUser, "hi"), textMsg("m2", RoleAssistant, "hello")},
	}
	if err := e.SaveSubTaskRun(ctx, input); err != nil {
		t.Fatalf("save sub-task run: %v", err)
	}
	got, err := e.GetSubTaskRun(ctx, "r1")
	if err != nil {
		t.Fatalf("get sub-task run: %v", err)
	}
	if got.MessageCount == nil || *got.MessageCount != 2 {
		t.Fatalf("expected MessageCount derived as 2, got %+v", got.MessageCount)
	}
}
