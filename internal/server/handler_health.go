package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	GoVersion   string `json:"go_version"`
	Uptime      string `json:"uptime"`
	FrameworkID string `json:"framework_id,omitempty"`
	Registered  bool   `json:"registered"`
	Pending     int    `json:"pending"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	fwID := s.scheduler.FrameworkID()
	respondOK(w, reqID, healthResponse{
		Status:      "healthy",
		Version:     s.version,
		GoVersion:   runtime.Version(),
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		FrameworkID: fwID,
		Registered:  fwID != "",
		Pending:     s.scheduler.Pending(),
	})
}
