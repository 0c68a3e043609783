package api

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ServerConfig holds the API server configuration
type ServerConfig struct {
	Port   int
	Bind   string
	APIKey string
}
