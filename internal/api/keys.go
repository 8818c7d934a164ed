package api

import (
	"net/http"
)

// Key listing is a read-only permission audit, so PERMISSION_VIEW is
// enough; creating and revoking keys stays superuser-only.
func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopePermissionView, "") {
		return
	}

	keys, err := s.keys.List(r.Context())
	if err != nil {
		s.fail(w, r, err)

		return
	}

	resp := make([]APIKeyResponse, 0, len(keys))
	for _, key := range keys {
		permissions := key.Permissions
		if permissions == nil {
			permissions = []string{}
		}

		resp = append(resp, APIKeyResponse{
			ID:          key.ID,
			Principal:   key.Principal,
			Name:        key.Name,
			Permissions: permissions,
			CreatedAt:   key.CreatedAt,
			ExpiresAt:   key.ExpiresAt,
			Active:      key.Active,
		})
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeSuperuser, "") {
		return
	}

	var req APIKeyRequest
	if err := s.decode(w, r, &req); err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	if req.ID == "" || req.Principal == "" {
		s.badRequest(w, r, "id and principal are required")

		return
	}

	rawKey, err := s.keys.Create(r.Context(), APIKey{
		ID:          req.ID,
		Principal:   req.Principal,
		Name:        req.Name,
		Permissions: req.Permissions,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusCreated, APIKeyCreatedResponse{ID: req.ID, Key: rawKey})
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeSuperuser, "") {
		return
	}

	if err := s.keys.Revoke(r.Context(), r.PathValue("keyID")); err != nil {
		s.fail(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
