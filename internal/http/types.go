package http

// GenerateTokenRequest is the body for POST /api/generate_token.
type GenerateTokenRequest struct {
	Email string `json:"email"`
}

// GenerateTokenResponse returns the identifier of the accepted job.
type GenerateTokenResponse struct {
	JobID string `json:"jobId"`
}

// JobResponse is the status view of a job for GET /api/job/:id.
type JobResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Token   string `json:"token"`
}

// ErrorResponse is the error envelope for all API failures.
type ErrorResponse struct {
	Error string `json:"error"`
}
