package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

type contextKey string

const contextUserIDKey contextKey = "user_id"

// maxBodyBytes caps request bodies read by the JSON handlers.
const maxBodyBytes = 1 << 20

func withUserID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, contextUserIDKey, id)
}

// UserIDFromContext returns the id attached by RequireSession.
func UserIDFromContext(ctx context.Context) (int, error) {
	id, ok := ctx.Value(contextUserIDKey).(int)
	if !ok || id < 1 {
		return 0, errors.New("missing session user")
	}
	return id, nil
}

// MessageResponse is the body of every non-data response.
type MessageResponse struct {
	Message string   `json:"mensaje"`
	Errors  []string `json:"errores,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, MessageResponse{Message: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}
