package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	endpoints := []endpointInfo{
		{"/api/v1/health", []string{"GET"}, "Server health, framework id and queue depth"},
		{"/api/v1/tasks", []string{"GET"}, "List tracked tasks. Accepts ?state=, ?limit= and ?offset="},
		{"/api/v1/tasks/{id}", []string{"GET"}, "Single task summary"},
		{"/api/v1/tasks/{id}/kill", []string{"POST"}, "Ask the resource manager to kill a task"},
	}
	if s.metrics != nil {
		endpoints = append(endpoints, endpointInfo{"/metrics", []string{"GET"}, "Prometheus metrics"})
	}
	respondOK(w, reqID, discoveryResponse{
		Name:        "quiver API",
		Version:     "v1",
		Description: "Status of the tasks scheduled by a quiver framework",
		Endpoints:   endpoints,
	})
}
