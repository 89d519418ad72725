package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/quiver/pkg/model"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	q := r.URL.Query()

	state := model.TaskState(q.Get("state"))
	if state != "" && !state.Valid() {
		respondError(w, reqID, http.StatusBadRequest, validationError("unknown state "+strconv.Quote(string(state))))
		return
	}
	limit, err := intParam(q.Get("limit"), defaultLimit)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, validationError("limit: "+err.Error()))
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, validationError("offset: "+err.Error()))
		return
	}
	limit = min(max(limit, 1), maxLimit)
	offset = max(offset, 0)

	tasks := s.scheduler.Snapshot()
	if state != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if t.State == state {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}

	total := len(tasks)
	page := tasks[min(offset, total):min(offset+limit, total)]
	respondList(w, reqID, page, &model.Pagination{
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	task, ok := s.scheduler.Get(id)
	if !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", id))
		return
	}
	respondOK(w, reqID, task)
}

func (s *Server) handleKillTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	err := s.scheduler.Kill(r.Context(), id)
	var unknown *model.UnknownTaskIDError
	switch {
	case err == nil:
		respondAccepted(w, reqID, map[string]string{"id": id, "status": "kill requested"})
	case errors.As(err, &unknown) && unknown.State == "":
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", id))
	case errors.As(err, &unknown):
		respondError(w, reqID, http.StatusConflict,
			&model.APIError{Code: model.ErrConflict, Message: "task " + id + " already " + string(unknown.State)})
	default:
		s.logger.Error("kill task", "task_id", id, "error", err)
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
	}
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
