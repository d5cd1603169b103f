package api

// Machine codes returned in error bodies that do not come from the upload
// package.
const (
	CodeTooLarge           = "TOO_LARGE"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeConfigurationFault = "CONFIGURATION_FAULT"
	CodeNotFound           = "NOT_FOUND"
)

// UploadResponse is the payload for a successful POST /upload.
type UploadResponse struct {
	Message              string `json:"message"`
	RelativePathReported string `json:"relative_path_reported"`
	DetectedType         string `json:"detected_type"`
	Bytes                int64  `json:"bytes"`
}

// ReloadResponse is the payload for POST /admin/reload-tokens.
type ReloadResponse struct {
	Message     string `json:"message"`
	TotalTokens int    `json:"total_tokens"`
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	TokensLoaded int    `json:"tokens_loaded"`
	Version      string `json:"version"`
}

// errorResponse is the JSON body for all error responses.
type errorResponse struct {
	Error        string `json:"error"`
	Code         string `json:"code"`
	ReceivedType string `json:"received_type,omitempty"`
	TotalTokens  *int   `json:"total_tokens,omitempty"`
}
