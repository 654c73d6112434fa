package ratelimiter

import (
	"encoding/json"
	"net/http"
)

// ClientsHandler exposes CRUD for per-client limit overrides.
func (tb *TokenBucketLimiter) ClientsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tb.handleListClients(w)
	case http.MethodPost:
		tb.handleCreateClient(w, r)
	case http.MethodDelete:
		tb.handleDeleteClient(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (tb *TokenBucketLimiter) handleListClients(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tb.ListClients())
}

func (tb *TokenBucketLimiter) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var cfg ClientConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if cfg.ClientID == "" {
		http.Error(w, "client_id is required", http.StatusBadRequest)
		return
	}

	tb.AddClient(&cfg)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(cfg)
}

func (tb *TokenBucketLimiter) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		http.Error(w, "client_id is required", http.StatusBadRequest)
		return
	}

	tb.DeleteClient(clientID)
	w.WriteHeader(http.StatusNoContent)
}
