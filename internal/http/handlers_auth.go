package http

import (
	"errors"
	"net/http"

	"finadvisor/internal/auth"
	"finadvisor/internal/log"
	"finadvisor/internal/pipeline"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

type sessionResponse struct {
	Authenticated bool `json:"authenticated"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	s.writeAuthResult(w, r, s.svc.Auth.Login(r.Context(), sanitizeInput(req.Email), req.Password))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	err := s.svc.Auth.Register(r.Context(), auth.Registration{
		Email:    sanitizeInput(req.Email),
		Password: req.Password,
		FullName: sanitizeInput(req.FullName),
	})
	s.writeAuthResult(w, r, err)
}

func (s *Server) writeAuthResult(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if errors.Is(err, auth.ErrMissingCredentials) {
		s.badRequest(w, r, err)
		return
	}

	perr := pipeline.AsError(err)
	log.FromContext(r.Context()).WarnContext(r.Context(), "Authentication failed",
		log.FieldErrorKind, perr.Kind.String())
	msg := perr.Detail.Message
	if msg == "" {
		msg = perr.Kind.String()
	}
	writeError(w, statusForKind(perr.Kind), msg)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.svc.Auth.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionResponse{Authenticated: s.svc.Sessions.IsAuthenticated()})
}
