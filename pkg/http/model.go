package http

// APIResponse is the envelope every endpoint writes. Status mirrors the
// HTTP status code.
type APIResponse struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string                 `json:"code"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// ListData wraps collection results.
type ListData struct {
	Rows  interface{} `json:"rows"`
	Total int64       `json:"total"`
}
