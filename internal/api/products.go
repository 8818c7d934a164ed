package api

import (
	"net/http"

	"github.com/triage-io/triage/internal/product"
)

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductView, "") {
		return
	}

	includeRetired := r.URL.Query().Get("include_retired") == "true" &&
		s.hasScope(r, ScopeSuperuser, "")

	products, err := s.registry.Store().List(r.Context(), includeRetired)
	if err != nil {
		s.fail(w, r, err)

		return
	}

	resp := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, productResponse(p))
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeSuperuser, "") {
		return
	}

	var req ProductRequest
	if err := s.decode(w, r, &req); err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	created, err := s.registry.Store().Create(r.Context(), &product.Product{
		Endpoint:                   req.Endpoint,
		DisplayedName:              req.DisplayedName,
		Description:                req.Description,
		DatabaseURL:                req.DatabaseURL,
		RunLimit:                   req.RunLimit,
		PoolSize:                   req.PoolSize,
		ReviewStatusChangeDisabled: req.ReviewStatusChangeDisabled,
	})
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusCreated, productResponse(created))
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")

	if !s.require(w, r, ScopeProductView, endpoint) {
		return
	}

	p, err := s.registry.Store().GetByEndpoint(r.Context(), endpoint)
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, productResponse(p))
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")

	if !s.require(w, r, ScopeProductAdmin, endpoint) {
		return
	}

	var req ProductRequest
	if err := s.decode(w, r, &req); err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	p, err := s.registry.Store().GetByEndpoint(r.Context(), endpoint)
	if err != nil {
		s.fail(w, r, err)

		return
	}

	p.DisplayedName = req.DisplayedName
	p.Description = req.Description
	p.RunLimit = req.RunLimit
	p.PoolSize = req.PoolSize
	p.ReviewStatusChangeDisabled = req.ReviewStatusChangeDisabled

	if err := s.registry.Store().Update(r.Context(), p); err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, productResponse(p))
}

func (s *Server) handleRetireProduct(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeSuperuser, "") {
		return
	}

	p, err := s.registry.Store().GetByEndpoint(r.Context(), r.PathValue("endpoint"))
	if err != nil {
		s.fail(w, r, err)

		return
	}

	if err := s.registry.Retire(r.Context(), p.ID); err != nil {
		s.fail(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProductStatus(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")

	if !s.require(w, r, ScopeProductView, endpoint) {
		return
	}

	status, err := s.registry.Status(r.Context(), endpoint)
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": status.String()})
}

func (s *Server) handleProductUpgrade(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")

	if !s.require(w, r, ScopeProductAdmin, endpoint) {
		return
	}

	status, err := s.registry.Upgrade(r.Context(), endpoint)
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": status.String()})
}
