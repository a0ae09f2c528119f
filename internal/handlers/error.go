package handlers

// ErrorResponse is the standard API error body. Hint carries the remediation
// step for configuration failures, empty otherwise.
type ErrorResponse struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Hint    string `json:"hint,omitempty"`
}
