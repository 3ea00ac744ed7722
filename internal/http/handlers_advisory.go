package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"finadvisor/internal/core"
	"finadvisor/internal/fallback"
)

type askRequest struct {
	Question string `json:"question"`
}

// askResponse adds the stock picks rendered for display; missing values read
// as core.NotAvailable instead of null.
type askResponse struct {
	core.AdvisoryResult[core.Advice]
	Stocks []core.StockDisplay `json:"stocks"`
}

func newAskResponse(res core.AdvisoryResult[core.Advice]) askResponse {
	out := askResponse{AdvisoryResult: res, Stocks: make([]core.StockDisplay, 0, len(res.Payload.StockRecommendations))}
	for _, rec := range res.Payload.StockRecommendations {
		out.Stocks = append(out.Stocks, rec.Display())
	}
	return out
}

func (s *Server) handleAdvisory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Advisory.FetchAll(r.Context()))
}

func (s *Server) handleAdvisoryKind(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch chi.URLParam(r, "kind") {
	case "health":
		writeJSON(w, http.StatusOK, s.svc.Advisory.FetchHealthScore(ctx))
	case "optimization":
		writeJSON(w, http.StatusOK, s.svc.Advisory.FetchOptimization(ctx))
	case "motivation":
		writeJSON(w, http.StatusOK, s.svc.Advisory.FetchMotivation(ctx))
	default:
		writeError(w, http.StatusNotFound, "unknown advisory kind")
	}
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	res, asked := s.svc.Advisory.Ask(r.Context(), sanitizeInput(req.Question))
	if !asked {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, newAskResponse(res))
}

// handleFallback serves the static catalog entry for an operation so the UI
// can pre-render placeholders.
func (s *Server) handleFallback(w http.ResponseWriter, r *http.Request) {
	entry, err := fallback.Get(chi.URLParam(r, "op"), sanitizeInput(r.URL.Query().Get("question")))
	if errors.Is(err, fallback.ErrUnknownOperation) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
