package client

// ImageFile identifies a generated file on the ComfyUI server. The trio of
// filename, subfolder and type is what the /view endpoint expects back.
type ImageFile struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// PromptRequest is the body sent to POST /prompt.
type PromptRequest struct {
	Prompt   any    `json:"prompt"`
	ClientID string `json:"client_id"`
}

// QueueResponse is returned from POST /prompt when the job was accepted.
// Acceptance only means "queued"; completion arrives over the push channel.
type QueueResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors"`
}

// PromptError is the structured error body ComfyUI returns when it rejects a
// prompt outright.
type PromptError struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Details   string         `json:"details"`
	ExtraInfo map[string]any `json:"extra_info"`
}

type PromptErrorMessage struct {
	Error      PromptError `json:"error"`
	NodeErrors any         `json:"node_errors"`
}

type SystemStats struct {
	System  System `json:"system"`
	Devices []GPU  `json:"devices"`
}

type System struct {
	OS             string `json:"os"`
	PythonVersion  string `json:"python_version"`
	EmbeddedPython bool   `json:"embedded_python"`
}

type GPU struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	Index            int    `json:"index"`
	VRAM_Total       int64  `json:"vram_total"`
	VRAM_Free        int64  `json:"vram_free"`
	Torch_VRAM_Total int64  `json:"torch_vram_total"`
	Torch_VRAM_Free  int64  `json:"torch_vram_free"`
}
