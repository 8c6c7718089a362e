package memory

import "memoryengine/internal/memory/store"

// The engine's public aggregate and value types are defined in the store
// package (so adapters can reference them without importing this package)
// and re-exported here under their natural names for orchestrator code
// and callers of the public contract.

type (
	Role             = store.Role
	MessageType      = store.MessageType
	ContentPartType  = store.ContentPartType
	ContentPart      = store.ContentPart
	ToolCall         = store.ToolCall
	Usage            = store.Usage
	Message          = store.Message
	SessionStatus    = store.SessionStatus
	Session          = store.Session
	Context          = store.Context
	HistoryMessage   = store.HistoryMessage
	CompactionReason = store.CompactionReason
	CompactionRecord = store.CompactionRecord
	TaskStatus       = store.TaskStatus
	TaskData         = store.TaskData
	SubTaskRunMode   = store.SubTaskRunMode
	SubTaskRunStatus = store.SubTaskRunStatus
	SubTaskRunData   = store.SubTaskRunData
)

const (
	RoleSystem    = store.RoleSystem
	RoleUser      = store.RoleUser
	RoleAssistant = store.RoleAssistant
	RoleTool      = store.RoleTool

	MessageTypeText       = store.MessageTypeText
	MessageTypeToolCall   = store.MessageTypeToolCall
	MessageTypeToolResult = store.MessageTypeToolResult
	MessageTypeSummary    = store.MessageTypeSummary

	ContentPartText       = store.ContentPartText
	ContentPartImageURL   = store.ContentPartImageURL
	ContentPartFile       = store.ContentPartFile
	ContentPartInputAudio = store.ContentPartInputAudio
	ContentPartInputVideo = store.ContentPartInputVideo

	SessionActive   = store.SessionActive
	SessionArchived = store.SessionArchived
	SessionDeleted  = store.SessionDeleted

	CompactionTokenLimit = store.CompactionTokenLimit
	CompactionManual     = store.CompactionManual
	CompactionAuto       = store.CompactionAuto

	SubTaskRunForeground = store.SubTaskRunForeground
	SubTaskRunBackground = store.SubTaskRunBackground

	SubTaskRunQueued     = store.SubTaskRunQueued
	SubTaskRunRunning    = store.SubTaskRunRunning
	SubTaskRunCancelling = store.SubTaskRunCancelling
	SubTaskRunCancelled  = store.SubTaskRunCancelled
	SubTaskRunCompleted  = store.SubTaskRunCompleted
	SubTaskRunFailed     = store.SubTaskRunFailed
)
