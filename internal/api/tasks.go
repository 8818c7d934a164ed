package api

import (
	"net/http"

	"github.com/triage-io/triage/internal/task"
)

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductView, "") {
		return
	}

	admin := s.hasScope(r, ScopeSuperuser, "")

	record, err := s.tasks.Get(r.Context(), r.PathValue("token"), s.principal(r), admin)
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, taskResponse(record))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductView, "") {
		return
	}

	params := r.URL.Query()

	filter := task.Filter{
		Kinds: params["kind"],
	}

	for _, st := range params["status"] {
		filter.Statuses = append(filter.Statuses, task.Status(st))
	}

	// Only superusers may see other actors' tasks.
	if s.hasScope(r, ScopeSuperuser, "") {
		filter.Actors = params["actor"]
	} else {
		filter.Actors = []string{s.principal(r)}
	}

	records, err := s.tasks.List(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)

		return
	}

	resp := make([]TaskResponse, 0, len(records))
	for _, record := range records {
		resp = append(resp, taskResponse(record))
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductView, "") {
		return
	}

	token := r.PathValue("token")
	admin := s.hasScope(r, ScopeSuperuser, "")

	// Ownership check: non-admins may only cancel their own tasks. Peek
	// keeps the record unconsumed for a later status read.
	if _, err := s.tasks.Peek(r.Context(), token, s.principal(r), admin); err != nil {
		s.fail(w, r, err)

		return
	}

	cancelled, err := s.tasks.RequestCancel(r.Context(), token)
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]bool{"cancelled": cancelled})
}
