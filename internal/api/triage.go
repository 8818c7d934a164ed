package api

import (
	"net/http"

	"github.com/triage-io/triage/internal/product"
	"github.com/triage-io/triage/internal/report"
	"github.com/triage-io/triage/internal/triage"
)

// openTriage resolves the product and its triage manager in one step.
func (s *Server) openTriage(w http.ResponseWriter, r *http.Request) (*triage.Manager, *product.Handle, bool) {
	handle, ok := s.openProduct(w, r)
	if !ok {
		return nil, nil, false
	}

	manager, ok := s.triageManager(w, r, handle)
	if !ok {
		return nil, nil, false
	}

	return manager, handle, true
}

func (s *Server) handleChangeReviewStatus(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")

	if !s.require(w, r, ScopeProductAccess, endpoint) {
		return
	}

	reportID, err := pathID(r, "reportID")
	if err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	var req ReviewStatusRequest
	if err := s.decode(w, r, &req); err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	manager, _, ok := s.openTriage(w, r)
	if !ok {
		return
	}

	err = manager.ChangeReviewStatus(r.Context(), reportID,
		report.ReviewStatus(req.Status), req.Message, s.actorFor(r, endpoint))
	if err != nil {
		s.fail(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRuleQuery(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductView, r.PathValue("endpoint")) {
		return
	}

	var req RuleQueryRequest
	if err := s.decode(w, r, &req); err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	manager, _, ok := s.openTriage(w, r)
	if !ok {
		return
	}

	rules, err := manager.GetReviewStatusRules(r.Context(), req.ToRuleFilter(),
		req.toRuleSorts(), req.Limit, req.Offset)
	if err != nil {
		s.fail(w, r, err)

		return
	}

	resp := make([]RuleResponse, 0, len(rules))
	for _, rule := range rules {
		resp = append(resp, ruleResponse(rule))
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleRuleCount(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductView, r.PathValue("endpoint")) {
		return
	}

	var req RuleQueryRequest
	if err := s.decode(w, r, &req); err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	manager, _, ok := s.openTriage(w, r)
	if !ok {
		return
	}

	count, err := manager.GetReviewStatusRuleCount(r.Context(), req.ToRuleFilter())
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, CountResponse{Count: count})
}

func (s *Server) handleRuleRemove(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductAdmin, r.PathValue("endpoint")) {
		return
	}

	var req RuleQueryRequest
	if err := s.decode(w, r, &req); err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	manager, _, ok := s.openTriage(w, r)
	if !ok {
		return
	}

	removed, err := manager.RemoveReviewStatusRules(r.Context(), req.ToRuleFilter())
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, CountResponse{Count: removed})
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductView, r.PathValue("endpoint")) {
		return
	}

	reportID, err := pathID(r, "reportID")
	if err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	manager, _, ok := s.openTriage(w, r)
	if !ok {
		return
	}

	comments, err := manager.GetComments(r.Context(), reportID)
	if err != nil {
		s.fail(w, r, err)

		return
	}

	resp := make([]CommentResponse, 0, len(comments))
	for _, c := range comments {
		resp = append(resp, commentResponse(c))
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")

	if !s.require(w, r, ScopeProductAccess, endpoint) {
		return
	}

	reportID, err := pathID(r, "reportID")
	if err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	var req CommentRequest
	if err := s.decode(w, r, &req); err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	manager, _, ok := s.openTriage(w, r)
	if !ok {
		return
	}

	id, err := manager.AddComment(r.Context(), reportID, s.actorFor(r, endpoint), req.Message)
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")

	if !s.require(w, r, ScopeProductAccess, endpoint) {
		return
	}

	commentID, err := pathID(r, "commentID")
	if err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	var req CommentRequest
	if err := s.decode(w, r, &req); err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	manager, _, ok := s.openTriage(w, r)
	if !ok {
		return
	}

	if err := manager.UpdateComment(r.Context(), commentID, s.actorFor(r, endpoint), req.Message); err != nil {
		s.fail(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveComment(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")

	if !s.require(w, r, ScopeProductAccess, endpoint) {
		return
	}

	commentID, err := pathID(r, "commentID")
	if err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	manager, _, ok := s.openTriage(w, r)
	if !ok {
		return
	}

	if err := manager.RemoveComment(r.Context(), commentID, s.actorFor(r, endpoint)); err != nil {
		s.fail(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductView, r.PathValue("endpoint")) {
		return
	}

	manager, _, ok := s.openTriage(w, r)
	if !ok {
		return
	}

	plans, err := manager.ListCleanupPlans(r.Context(),
		r.URL.Query().Get("include_closed") == "true")
	if err != nil {
		s.fail(w, r, err)

		return
	}

	resp := make([]CleanupPlanResponse, 0, len(plans))
	for _, p := range plans {
		resp = append(resp, planResponse(p))
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductAccess, r.PathValue("endpoint")) {
		return
	}

	var req CleanupPlanRequest
	if err := s.decode(w, r, &req); err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	manager, _, ok := s.openTriage(w, r)
	if !ok {
		return
	}

	id, err := manager.CreateCleanupPlan(r.Context(), req.Name, req.Description, req.DueDate)
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductView, r.PathValue("endpoint")) {
		return
	}

	planID, err := pathID(r, "planID")
	if err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	manager, _, ok := s.openTriage(w, r)
	if !ok {
		return
	}

	plan, err := manager.GetCleanupPlan(r.Context(), planID)
	if err != nil {
		s.fail(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, planResponse(*plan))
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductAccess, r.PathValue("endpoint")) {
		return
	}

	planID, err := pathID(r, "planID")
	if err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	var req CleanupPlanRequest
	if err := s.decode(w, r, &req); err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	manager, _, ok := s.openTriage(w, r)
	if !ok {
		return
	}

	if err := manager.UpdateCleanupPlan(r.Context(), planID, req.Name, req.Description, req.DueDate); err != nil {
		s.fail(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemovePlan(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, ScopeProductAccess, r.PathValue("endpoint")) {
		return
	}

	planID, err := pathID(r, "planID")
	if err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	manager, _, ok := s.openTriage(w, r)
	if !ok {
		return
	}

	if err := manager.RemoveCleanupPlan(r.Context(), planID); err != nil {
		s.fail(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) planTransition(w http.ResponseWriter, r *http.Request,
	apply func(*triage.Manager, int64) error,
) {
	if !s.require(w, r, ScopeProductAccess, r.PathValue("endpoint")) {
		return
	}

	planID, err := pathID(r, "planID")
	if err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	manager, _, ok := s.openTriage(w, r)
	if !ok {
		return
	}

	if err := apply(manager, planID); err != nil {
		s.fail(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClosePlan(w http.ResponseWriter, r *http.Request) {
	s.planTransition(w, r, func(m *triage.Manager, id int64) error {
		return m.CloseCleanupPlan(r.Context(), id)
	})
}

func (s *Server) handleReopenPlan(w http.ResponseWriter, r *http.Request) {
	s.planTransition(w, r, func(m *triage.Manager, id int64) error {
		return m.ReopenCleanupPlan(r.Context(), id)
	})
}

func (s *Server) planMembership(w http.ResponseWriter, r *http.Request,
	apply func(*triage.Manager, int64, []string) error,
) {
	if !s.require(w, r, ScopeProductAccess, r.PathValue("endpoint")) {
		return
	}

	planID, err := pathID(r, "planID")
	if err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	var req HashListRequest
	if err := s.decode(w, r, &req); err != nil {
		s.badRequest(w, r, err.Error())

		return
	}

	manager, _, ok := s.openTriage(w, r)
	if !ok {
		return
	}

	if err := apply(manager, planID, req.Hashes); err != nil {
		s.fail(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetPlanHashes(w http.ResponseWriter, r *http.Request) {
	s.planMembership(w, r, func(m *triage.Manager, id int64, hashes []string) error {
		return m.SetCleanupPlan(r.Context(), id, hashes)
	})
}

func (s *Server) handleUnsetPlanHashes(w http.ResponseWriter, r *http.Request) {
	s.planMembership(w, r, func(m *triage.Manager, id int64, hashes []string) error {
		return m.UnsetCleanupPlan(r.Context(), id, hashes)
	})
}
