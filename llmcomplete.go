// Package llmcomplete defines the request/response types for llm-complete IPC.
// Messages are JSON-encoded and sent over a Unix domain socket, one per line.
package llmcomplete

// Error codes returned to the notebook frontend.
const (
	CodeInvalidRequest = "invalid_request"
	CodeBusy           = "busy"
	CodeAPIError       = "api_error"
	CodeConfigError    = "config_error"
	CodeUnknownAction  = "unknown_action"
)

// Request is sent from the notebook frontend to the daemon when the user
// invokes the completion command.
type Request struct {
	// RequestID is assigned by the frontend and echoed back in the response.
	RequestID int `json:"request_id"`
	// Path identifies the notebook document and keys in-flight requests.
	// Required.
	Path string `json:"path"`
	// Language is the kernel language used to annotate code fences.
	Language string `json:"language,omitempty"`
	// Cells is the full notebook in document order. A nil slice means the
	// notebook model is not loaded.
	Cells []Cell `json:"cells"`
	// ActiveCell is the index of the active cell, nil when no cell is active.
	ActiveCell *int `json:"active_cell,omitempty"`
	// Cursor is the editor cursor inside the active cell.
	Cursor Cursor `json:"cursor"`
	// NoEditor is set when the active cell has no attached editor.
	NoEditor bool `json:"no_editor,omitempty"`
}

// Cell is a single notebook cell as seen by the frontend.
type Cell struct {
	ID       string `json:"id,omitempty"`
	CellType string `json:"cell_type"`
	Source   string `json:"source"`
}

// Cursor is a zero-based line/column position. Columns count UTF-16 code
// units, the unit CodeMirror reports; the daemon converts them to characters.
type Cursor struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Response is sent from the daemon back to the notebook frontend.
type Response struct {
	// RequestID is echoed from the request.
	RequestID int `json:"request_id"`
	// Source is the new full text of the active cell when Changed is true.
	Source string `json:"source,omitempty"`
	// Changed reports whether the active cell must be replaced with Source.
	Changed bool `json:"changed"`
	// Error is set when the completion could not be produced.
	Error *Error `json:"error,omitempty"`
}

// Error describes a daemon-side error returned to the frontend.
type Error struct {
	// Code is a machine-readable error identifier (e.g. "busy", "api_error").
	Code string `json:"code"`
	// Message is a human-readable error description.
	Message string `json:"message"`
}

// ConfigRequest is sent from the frontend for configuration operations.
type ConfigRequest struct {
	// Action is the config operation: "get", "defaults", "default_prompt" or "validate".
	Action string `json:"action"`
}

// ConfigResponse is sent from the daemon in response to a ConfigRequest.
type ConfigResponse struct {
	Config   *Config  `json:"config,omitempty"`
	Prompt   string   `json:"prompt,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Error    *Error   `json:"error,omitempty"`
}
