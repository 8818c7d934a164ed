package api

import (
	"net/http"

	"github.com/triage-io/triage/internal/query"
	"github.com/triage-io/triage/internal/report"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
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

	runs, err := store.GetRunData(r.Context(),
		r.URL.Query().Get("name"),
		queryInt(r, "limit", 0),
		queryInt(r, "offset", 0),
	)
	if err != nil {
		s.fail(w, r, err)

		return
	}

	resp := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, runResponse(run))
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleRemoveRun(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductAdmin, r.PathValue("endpoint")) {
		return
	}

	runID, err := pathID(r, "runID")
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

	if err := store.RemoveRun(r.Context(), runID); err != nil {
		s.fail(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductView, r.PathValue("endpoint")) {
		return
	}

	var req ResultsRequest
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

	results, err := store.GetRunResults(r.Context(), req.RunIDs, req.Limit, req.Offset,
		toSorts(req.Sort), req.Filter.ToFilter(), req.Compare.ToCompare())
	if err != nil {
		s.fail(w, r, err)

		return
	}

	resp := make([]ReportResponse, 0, len(results))
	for _, result := range results {
		resp = append(resp, reportResponse(result.Report, result.FilePath))
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleResultCount(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductView, r.PathValue("endpoint")) {
		return
	}

	var req ResultsRequest
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

	count, err := store.GetRunResultCount(r.Context(), req.RunIDs,
		req.Filter.ToFilter(), req.Compare.ToCompare())
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, CountResponse{Count: count})
}

func (s *Server) handleCountBy(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductView, r.PathValue("endpoint")) {
		return
	}

	var req ResultsRequest
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

	counts, err := store.CountBy(r.Context(), query.Dimension(r.PathValue("dimension")),
		req.RunIDs, req.Filter.ToFilter(), req.Compare.ToCompare())
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, CountByResponse{Counts: counts})
}

func (s *Server) handleRemoveResults(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductAdmin, r.PathValue("endpoint")) {
		return
	}

	var req ResultsRequest
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

	removed, err := store.RemoveRunReports(r.Context(), req.RunIDs, req.Filter.ToFilter())
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, CountResponse{Count: removed})
}

func (s *Server) handleHashDiff(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductView, r.PathValue("endpoint")) {
		return
	}

	var req HashDiffRequest
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

	skip := make([]report.DetectionStatus, 0, len(req.SkipStatuses))
	for _, st := range req.SkipStatuses {
		skip = append(skip, report.DetectionStatus(st))
	}

	hashes, err := store.GetDiffResultsHash(r.Context(), req.RunIDs, req.ReportHashes,
		query.DiffType(req.DiffType), skip, req.OpenReportsDate)
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, HashDiffResponse{ReportHashes: hashes})
}
