package api

import (
	"net/http"

	"github.com/triage-io/triage/internal/query"
)

func (s *Server) handleListComponents(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductView, r.PathValue("endpoint")) {
		return
	}

	handle, ok := s.openProduct(w, r)
	if !ok {
		return
	}

	store, ok := s.queryStore(w, r, handle)
	if !ok {
		return
	}

	components, err := store.ListComponents(r.Context())
	if err != nil {
		s.fail(w, r, err)

		return
	}

	resp := make([]ComponentResponse, 0, len(components))
	for _, c := range components {
		resp = append(resp, ComponentResponse{
			Name: c.Name, Value: c.Value, Description: c.Description,
		})
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleGetComponent(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductView, r.PathValue("endpoint")) {
		return
	}

	handle, ok := s.openProduct(w, r)
	if !ok {
		return
	}

	store, ok := s.queryStore(w, r, handle)
	if !ok {
		return
	}

	c, err := store.GetComponent(r.Context(), r.PathValue("name"))
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, ComponentResponse{
		Name: c.Name, Value: c.Value, Description: c.Description,
	})
}

func (s *Server) handleSaveComponent(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductAdmin, r.PathValue("endpoint")) {
		return
	}

	var req ComponentRequest
	if err := s.decode(w, r, &req); err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	handle, ok := s.openProduct(w, r)
	if !ok {
		return
	}

	store, ok := s.queryStore(w, r, handle)
	if !ok {
		return
	}

	component := query.Component{
		Name:        r.PathValue("name"),
		Value:       req.Value,
		Description: req.Description,
	}

	if err := store.SaveComponent(r.Context(), component); err != nil {
		s.fail(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveComponent(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductAdmin, r.PathValue("endpoint")) {
		return
	}

	handle, ok := s.openProduct(w, r)
	if !ok {
		return
	}

	store, ok := s.queryStore(w, r, handle)
	if !ok {
		return
	}

	if err := store.RemoveComponent(r.Context(), r.PathValue("name")); err != nil {
		s.fail(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
