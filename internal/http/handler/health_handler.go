package handler

import (
	"encoding/json"
	"net/http"
)

const Version = "1.0.0"

// Health is the liveness probe. It touches no backing service.
func Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "version": Version})
}
