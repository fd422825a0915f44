package server

import "github.com/typelark/fontdex/models"

// HTTPError is the uniform error body produced by the error handler.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// SearchRequest is the body of POST /api/search.
type SearchRequest struct {
	Message string               `json:"message"`
	History []models.ChatMessage `json:"history,omitempty"`
}

// QueueHealthResponse is the body of GET /api/ops/queue.
type QueueHealthResponse struct {
	Counts         map[string]int   `json:"counts"`
	Stuck          []QueueJobDigest `json:"stuck"`
	RecentFailures []QueueJobDigest `json:"recent_failures"`
}

// QueueJobDigest is the operator-facing summary of a job.
type QueueJobDigest struct {
	ID        string `json:"id"`
	FontName  string `json:"font_name"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	WorkerID  string `json:"worker_id,omitempty"`
	LastError string `json:"last_error,omitempty"`
	ClaimedAt string `json:"claimed_at,omitempty"`
	UpdatedAt string `json:"updated_at"`
}
