// Package auth signs the user in and out. It is the only writer of the
// session besides upstream invalidation.
package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"finadvisor/internal/config"
	"finadvisor/internal/log"
	"finadvisor/internal/pipeline"
	"finadvisor/internal/session"
)

var (
	OpLogin = pipeline.Operation{
		Name: config.OpLogin, Method: http.MethodPost, Path: "/auth/login",
	}
	OpRegister = pipeline.Operation{
		Name: config.OpRegister, Method: http.MethodPost, Path: "/auth/register",
	}
)

var (
	ErrMissingCredentials = errors.New("email and password are required")
	ErrNoToken            = errors.New("login response carried no access token")
)

type Caller interface {
	CallJSON(ctx context.Context, op pipeline.Operation, req pipeline.Request, out any) error
}

// Sessions is the writer side of session.Store.
type Sessions interface {
	Set(ctx context.Context, credential string) session.Snapshot
	Clear(ctx context.Context)
}

// Registration is the sign-up input.
type Registration struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type Service struct {
	caller   Caller
	sessions Sessions
	logger   *log.Logger
	onLogout []func(context.Context)
}

func NewService(caller Caller, sessions Sessions, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Discard()
	}
	return &Service{
		caller:   caller,
		sessions: sessions,
		logger:   logger.WithComponent(log.ComponentAuth),
	}
}

// OnLogout registers fn to run after an explicit logout.
func (s *Service) OnLogout(fn func(context.Context)) {
	s.onLogout = append(s.onLogout, fn)
}

// Login exchanges email and password for a bearer credential and starts a
// session with it. Failures are returned as *pipeline.Error.
func (s *Service) Login(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return ErrMissingCredentials
	}

	form := url.Values{"username": {email}, "password": {password}}
	var tok tokenResponse
	if err := s.caller.CallJSON(ctx, OpLogin, pipeline.Request{Form: form}, &tok); err != nil {
		s.logger.WarnContext(ctx, "Login failed", log.FieldErrorKind, pipeline.KindOf(err).String())
		return err
	}
	if tok.AccessToken == "" {
		return ErrNoToken
	}

	snap := s.sessions.Set(ctx, tok.AccessToken)
	s.logger.InfoContext(ctx, "Login succeeded", log.FieldGeneration, snap.Generation)
	return nil
}

// Register creates the account and then logs in with the same credentials.
func (s *Service) Register(ctx context.Context, r Registration) error {
	r.Email = strings.TrimSpace(r.Email)
	if r.Email == "" || r.Password == "" {
		return ErrMissingCredentials
	}

	if err := s.caller.CallJSON(ctx, OpRegister, pipeline.Request{JSON: r}, nil); err != nil {
		s.logger.WarnContext(ctx, "Registration failed", log.FieldErrorKind, pipeline.KindOf(err).String())
		return err
	}
	s.logger.InfoContext(ctx, "Registration succeeded")
	return s.Login(ctx, r.Email, r.Password)
}

// Logout clears the session locally. The backend keeps no session state, so
// no call is made.
func (s *Service) Logout(ctx context.Context) {
	s.sessions.Clear(ctx)
	for _, fn := range s.onLogout {
		fn(ctx)
	}
	s.logger.InfoContext(ctx, "Logged out")
}
