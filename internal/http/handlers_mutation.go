package http

import (
	"net/http"

	"finadvisor/internal/core"
	"finadvisor/internal/mutation"
	"finadvisor/internal/pipeline"
)

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	var form core.BudgetForm
	if err := decodeJSON(w, r, &form); err != nil {
		s.badRequest(w, r, err)
		return
	}
	out := s.svc.Budgets.Submit(r.Context(), form)
	writeJSON(w, outcomeStatus(out.State, out.Failure), out)
}

func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	var form core.GoalForm
	if err := decodeJSON(w, r, &form); err != nil {
		s.badRequest(w, r, err)
		return
	}
	out := s.svc.Goals.Submit(r.Context(), form)
	writeJSON(w, outcomeStatus(out.State, out.Failure), out)
}

func outcomeStatus(state mutation.State, failure string) int {
	if state == mutation.Succeeded {
		return http.StatusCreated
	}
	switch failure {
	case mutation.FailureValidation, pipeline.Rejected.String():
		return http.StatusUnprocessableEntity
	case pipeline.Unauthenticated.String():
		return http.StatusUnauthorized
	case mutation.FailureSessionChanged:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
