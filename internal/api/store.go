package api

import (
	"encoding/json"
	"net/http"

	"github.com/triage-io/triage/internal/storage"
)

// maxStoreBody bounds the JSON envelope of a store upload. The decoded
// bundle is checked again against the engine's own size limit.
const maxStoreBody = 1 << 30

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")

	if !s.require(w, r, ScopeProductStore, endpoint) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxStoreBody)

	var req StoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, r, "invalid request body: "+err.Error())

		return
	}

	token, err := s.engine.MassStoreRun(r.Context(), endpoint, req.ToParams(s.principal(r)))
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusAccepted, StoreResponse{TaskToken: token})
}

func (s *Server) contentStore(w http.ResponseWriter, r *http.Request) (*storage.ContentStore, bool) {
	handle, ok := s.openProduct(w, r)
	if !ok {
		return nil, false
	}

	store, err := storage.NewContentStore(handle.Conn, s.logger)
	if err != nil {
		s.fail(w, r, err)

		return nil, false
	}

	return store, true
}

func (s *Server) handleMissingContent(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductStore, r.PathValue("endpoint")) {
		return
	}

	var req HashListRequest
	if err := s.decode(w, r, &req); err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	store, ok := s.contentStore(w, r)
	if !ok {
		return
	}

	missing, err := store.MissingContentHashes(r.Context(), req.Hashes)
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, HashListResponse{Hashes: missing})
}

func (s *Server) handleMissingBlame(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductStore, r.PathValue("endpoint")) {
		return
	}

	var req HashListRequest
	if err := s.decode(w, r, &req); err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	store, ok := s.contentStore(w, r)
	if !ok {
		return
	}

	missing, err := store.MissingBlameHashes(r.Context(), req.Hashes)
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, HashListResponse{Hashes: missing})
}

func (s *Server) handlePutContent(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductStore, r.PathValue("endpoint")) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxStoreBody)

	var req ContentUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, r, "invalid request body: "+err.Error())

		return
	}

	store, ok := s.contentStore(w, r)
	if !ok {
		return
	}

	encoding := req.Encoding
	if encoding == "" {
		encoding = storage.EncodingPlain
	}

	if err := store.PutContent(r.Context(), req.Hash, req.Content, encoding); err != nil {
		s.fail(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutBlame(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductStore, r.PathValue("endpoint")) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxStoreBody)

	var req BlameUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, r, "invalid request body: "+err.Error())

		return
	}

	store, ok := s.contentStore(w, r)
	if !ok {
		return
	}

	if err := store.PutBlameInfo(r.Context(), req.Hash, req.Blame); err != nil {
		s.fail(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
