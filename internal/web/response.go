package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Message types.
const (
	MessageError   = "error"
	MessageSuccess = "success"
)

// Result values.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

const msgUnexpected = "Unexpected error during sending e-mail. Please try again."

// Message is one user-facing note.
type Message struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Response is the body of every send response.
type Response struct {
	Result   string    `json:"result"`
	Messages []Message `json:"messages"`
}

func failed(messages ...string) Response {
	resp := Response{Result: ResultFailed, Messages: []Message{}}
	for _, m := range messages {
		resp.Messages = append(resp.Messages, Message{Type: MessageError, Message: m})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		requestLogger(r).Debug("failed to write response", slog.String("error", err.Error()))
	}
}
