package registry

import (
	"encoding/json"
	"net/http"
	"time"
)

// ServicesHandler handles POST (register) and GET (list names) on
// /registry/services.
func (s *Service) ServicesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleRegister(w, r)
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Services())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Service == "" || req.Address == "" || req.Port == 0 {
		http.Error(w, "service, address and port are required", http.StatusBadRequest)
		return
	}

	inst := s.Register(Instance{
		InstanceID: req.InstanceID,
		Service:    req.Service,
		Address:    req.Address,
		Port:       req.Port,
		TTL:        time.Duration(req.TTLSeconds) * time.Second,
		Metadata:   req.Metadata,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(inst)
}

// InstancesHandler handles GET /registry/services/{service}: live instances.
func (s *Service) InstancesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	instances := s.Discover(r.PathValue("service"))
	if instances == nil {
		instances = []Instance{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(instances)
}

// InstanceHandler handles DELETE /registry/services/{service}/{instance}.
func (s *Service) InstanceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.Deregister(r.PathValue("service"), r.PathValue("instance")) {
		http.Error(w, "instance not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HeartbeatHandler handles PUT .../{service}/{instance}/heartbeat.
func (s *Service) HeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.Heartbeat(r.PathValue("service"), r.PathValue("instance")) {
		http.Error(w, "instance not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
