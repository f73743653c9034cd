package domain

import "time"

// Stage is a state of the per-request orchestration machine.
type Stage string

const (
	StageReceived   Stage = "RECEIVED"
	StageRetrieving Stage = "RETRIEVING"
	StageFusing     Stage = "FUSING"
	StageFiltering  Stage = "FILTERING"
	StagePrompting  Stage = "PROMPTING"
	StageGenerating Stage = "GENERATING"
	StageCiting     Stage = "CITING"
	StagePersisting Stage = "PERSISTING"
	StageResponded  Stage = "RESPONDED"
	StageFailed     Stage = "FAILED"
)

type QueryRequest struct {
	Query          string
	ConversationID string
	Temperature    *float64
	MaxTokens      int
	K              int
	Filter         SearchFilter
}

type GenerationRequest struct {
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int
}

type StreamEventType string

const (
	StreamEventSources StreamEventType = "sources"
	StreamEventToken   StreamEventType = "token"
	StreamEventDone    StreamEventType = "done"
	StreamEventError   StreamEventType = "error"
)

type StreamEvent struct {
	Type      StreamEventType
	Citations []Citation
	Token     string
	Err       error
}

type IndexStatus struct {
	Ready   bool   `json:"ready"`
	Backend string `json:"backend,omitempty"`
	Size    int    `json:"size"`
}

type SystemStatus struct {
	GenerationReachable bool                   `json:"generation_reachable"`
	Model               string                 `json:"model"`
	CorpusVersion       string                 `json:"corpus_version"`
	EmbeddingModel      string                 `json:"embedding_model"`
	ChunkCount          int                    `json:"chunk_count"`
	BuiltAt             time.Time              `json:"built_at,omitzero"`
	Indexes             map[string]IndexStatus `json:"indexes"`
}
