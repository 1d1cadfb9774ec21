package types

// SubmitRequest is the body of POST /messages.
type SubmitRequest struct {
	// User text to send. Leading and trailing whitespace is trimmed.
	// example: Tell me a short story about a lighthouse.
	Text string `json:"text" example:"Tell me a short story about a lighthouse."`
}

// SubmitResponse is returned by POST /messages once the reply started streaming.
type SubmitResponse struct {
	// Generation id of the assistant reply being produced.
	// example: 3
	GenerationID uint64 `json:"generation_id" example:"3"`
	// ID of the in-progress assistant message.
	// example: 2b1f3c1e-8d4a-4f7e-9a55-0c3d3e0f6a11
	MessageID string `json:"message_id" example:"2b1f3c1e-8d4a-4f7e-9a55-0c3d3e0f6a11"`
}

// LoadRequest is the body of POST /load. Path wins over Model.
type LoadRequest struct {
	// Filesystem path to a GGUF file.
	// example: /home/user/models/llm/qwen2.5-1.5b-instruct-q4_k_m.gguf
	Path string `json:"path,omitempty" example:"/home/user/models/llm/qwen2.5-1.5b-instruct-q4_k_m.gguf"`
	// Model name resolved in the configured search dirs.
	// example: qwen2.5-1.5b-instruct-q4_k_m
	Model string `json:"model,omitempty" example:"qwen2.5-1.5b-instruct-q4_k_m"`
}

// ModelInfo describes the loaded model.
type ModelInfo struct {
	// example: qwen2.5-1.5b-instruct
	Name string `json:"name" example:"qwen2.5-1.5b-instruct"`
	// example: /home/user/models/llm/qwen2.5-1.5b-instruct-q4_k_m.gguf
	Path string `json:"path" example:"/home/user/models/llm/qwen2.5-1.5b-instruct-q4_k_m.gguf"`
	// example: qwen2
	Architecture string `json:"architecture,omitempty" example:"qwen2"`
	// Context window used for this load.
	// example: 2048
	ContextSize int `json:"context_size" example:"2048"`
	// example: gpt2 (151936 tokens)
	Vocab string `json:"vocab" example:"gpt2 (151936 tokens)"`
	// example: 1117320736
	FileSizeBytes int64 `json:"file_size_bytes" example:"1117320736"`
	// Engine backing the model.
	// example: server
	Backend string `json:"backend" example:"server"`
}

// StatusResponse is returned by GET /status and POST /load.
type StatusResponse struct {
	// Session state: idle, loading, ready, generating or failed.
	// example: ready
	State string `json:"state" example:"ready"`
	// Failure reason when State is failed.
	Reason string `json:"reason,omitempty"`
	// Id of the active or last generation.
	// example: 3
	GenerationID uint64 `json:"generation_id" example:"3"`
	// True while a reply is being streamed into the conversation.
	// example: false
	Generating bool `json:"generating" example:"false"`
	// Path of the current (or last attempted) model.
	ModelPath string `json:"model_path,omitempty"`
	// Loaded model, absent when none is loaded.
	Model *ModelInfo `json:"model,omitempty"`
	// Number of messages in the conversation.
	// example: 4
	MessageCount int `json:"message_count" example:"4"`
	// Last load or generation error seen by the conversation.
	LastError string `json:"last_error,omitempty"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// MessageView is one conversation entry.
type MessageView struct {
	// example: 2b1f3c1e-8d4a-4f7e-9a55-0c3d3e0f6a11
	ID string `json:"id" example:"2b1f3c1e-8d4a-4f7e-9a55-0c3d3e0f6a11"`
	// user or assistant.
	// example: assistant
	Role string `json:"role" example:"assistant"`
	// example: Once upon a time
	Content string `json:"content" example:"Once upon a time"`
	// RFC 3339 creation time.
	// example: 2026-01-17T10:00:00Z
	CreatedAt string `json:"created_at" example:"2026-01-17T10:00:00Z"`
	// Generation that produced this message (assistant only).
	// example: 3
	GenerationID uint64 `json:"generation_id,omitempty" example:"3"`
	// True while content is still being appended.
	// example: true
	InProgress bool `json:"in_progress,omitempty" example:"true"`
}

// MessagesResponse is returned by GET /messages.
type MessagesResponse struct {
	Messages   []MessageView `json:"messages"`
	Generating bool          `json:"generating"`
}

// ModelEntry is a model file found in the models directory.
type ModelEntry struct {
	// example: qwen2.5-1.5b-instruct-q4_k_m.gguf
	ID string `json:"id" example:"qwen2.5-1.5b-instruct-q4_k_m.gguf"`
	// example: qwen2.5-1.5b-instruct-q4_k_m
	Name string `json:"name" example:"qwen2.5-1.5b-instruct-q4_k_m"`
	// example: /home/user/models/llm/qwen2.5-1.5b-instruct-q4_k_m.gguf
	Path string `json:"path" example:"/home/user/models/llm/qwen2.5-1.5b-instruct-q4_k_m.gguf"`
	// example: 1117320736
	SizeBytes int64 `json:"size_bytes" example:"1117320736"`
}

// ModelsResponse wraps the list returned by GET /models.
type ModelsResponse struct {
	Models []ModelEntry `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
