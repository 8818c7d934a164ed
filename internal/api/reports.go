package api

import (
	"net/http"

	"github.com/triage-io/triage/internal/storage"
)

func (s *Server) handleReportDetails(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductView, r.PathValue("endpoint")) {
		return
	}

	reportID, err := pathID(r, "reportID")
	if err != nil {
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

	details, err := store.GetReportDetails(r.Context(), reportID)
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, detailsResponse(details))
}

func (s *Server) handleSourceFile(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductView, r.PathValue("endpoint")) {
		return
	}

	fileID, err := pathID(r, "fileID")
	if err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	includeContent := r.URL.Query().Get("content") == "true"

	encoding := r.URL.Query().Get("encoding")
	if encoding == "" {
		encoding = storage.EncodingPlain
	}

	handle, ok := s.openProduct(w, r)
	if !ok {
		return
	}

	store, ok := s.queryStore(w, r, handle)
	if !ok {
		return
	}

	data, err := store.GetSourceFileData(r.Context(), fileID, includeContent, encoding)
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, SourceFileResponse{
		FileID:      data.FileID,
		FilePath:    data.FilePath,
		ContentHash: data.ContentHash,
		Content:     data.Content,
		Encoding:    data.Encoding,
	})
}
