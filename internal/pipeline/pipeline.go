// Package pipeline wraps every outbound call to the finance backend. It injects
// the session credential, bounds each call by its operation's timeout, and
// turns every failure into exactly one Kind.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"finadvisor/internal/log"
	"finadvisor/internal/middleware/trace"
	"finadvisor/internal/session"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 4 << 20
)

// Operation describes one backend endpoint. A zero Timeout defers to the
// pipeline's timeout resolver.
type Operation struct {
	Name    string
	Method  string
	Path    string
	Auth    bool
	Timeout time.Duration
}

// Request carries the optional parts of a call. At most one of JSON and Form
// is sent as the body.
type Request struct {
	Query url.Values
	JSON  any
	Form  url.Values
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Sessions is the part of session.Store the pipeline needs.
type Sessions interface {
	Current() session.Snapshot
	Invalidate(ctx context.Context, gen uint64) bool
}

// EndSession clears the session that issued perr and reports whether the
// caller is now logged out. A 401 on a credential that has since been replaced
// leaves the newer session in place and reports false.
func EndSession(ctx context.Context, s Sessions, perr *Error) bool {
	s.Invalidate(ctx, perr.SessionGen)
	return !s.Current().Authenticated()
}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

type Pipeline struct {
	baseURL  string
	client   Doer
	sessions Sessions
	limiter  *rate.Limiter
	timeouts func(op string) time.Duration
	logger   *log.Logger
}

type Option func(*Pipeline)

// WithClient replaces the default http.Client.
func WithClient(c Doer) Option {
	return func(p *Pipeline) { p.client = c }
}

// WithRateLimit caps outbound calls at rps with the given burst. rps <= 0
// leaves calls unlimited.
func WithRateLimit(rps float64, burst int) Option {
	return func(p *Pipeline) {
		if rps > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithTimeouts sets the resolver for operations without an explicit Timeout.
func WithTimeouts(fn func(op string) time.Duration) Option {
	return func(p *Pipeline) { p.timeouts = fn }
}

func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func New(baseURL string, sessions Sessions, opts ...Option) *Pipeline {
	p := &Pipeline{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{},
		sessions: sessions,
		logger:   log.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithComponent(log.ComponentPipeline)
	return p
}

// Timeout returns the budget Call applies to op.
func (p *Pipeline) Timeout(op Operation) time.Duration {
	if op.Timeout > 0 {
		return op.Timeout
	}
	if p.timeouts != nil {
		if d := p.timeouts(op.Name); d > 0 {
			return d
		}
	}
	return defaultTimeout
}

// Call performs op. On success the response has a 2xx status. Every error is
// a *Error. A 401 on an authenticated call clears the session it was issued
// under before Call returns.
func (p *Pipeline) Call(ctx context.Context, op Operation, req Request) (*Response, error) {
	snap := p.sessions.Current()
	start := time.Now()

	if op.Auth && !snap.Authenticated() {
		err := &Error{Kind: Unauthenticated, Op: op.Name, SessionGen: snap.Generation,
			Detail: Detail{Message: "not authenticated"}}
		p.logOutcome(ctx, op, err, 0, start)
		return nil, err
	}

	resp, err := p.do(ctx, op, req, snap)
	if err != nil {
		p.logOutcome(ctx, op, err, err.Status, start)
		return nil, err
	}
	p.logOutcome(ctx, op, nil, resp.Status, start)
	return resp, nil
}

func (p *Pipeline) do(ctx context.Context, op Operation, req Request, snap session.Snapshot) (*Response, *Error) {
	fail := func(kind Kind, status int, cause error) *Error {
		return &Error{Kind: kind, Op: op.Name, Status: status, SessionGen: snap.Generation, cause: cause}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.Timeout(op))
	defer cancel()

	if p.limiter != nil {
		if err := p.limiter.Wait(callCtx); err != nil {
			// Wait fails early when the next token lands past the deadline.
			kind := TimedOut
			if ctx.Err() != nil {
				kind = transportKind(callCtx, err)
			}
			return nil, fail(kind, 0, err)
		}
	}

	httpReq, err := p.newRequest(callCtx, op, req, snap)
	if err != nil {
		// Only a bad payload or path gets here; nothing was sent.
		return nil, fail(Rejected, 0, err)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fail(transportKind(callCtx, err), 0, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, fail(transportKind(callCtx, err), httpResp.StatusCode, err)
	}

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		return &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: body}, nil
	}

	kind := classifyStatus(httpResp.StatusCode, op.Auth)
	perr := fail(kind, httpResp.StatusCode, nil)
	perr.Detail = parseDetail(httpResp.StatusCode, body)
	if kind == Unauthenticated {
		p.sessions.Invalidate(ctx, snap.Generation)
	}
	return nil, perr
}

func (p *Pipeline) newRequest(ctx context.Context, op Operation, req Request, snap session.Snapshot) (*http.Request, error) {
	target := p.baseURL + op.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.JSON != nil:
		b, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body, contentType = bytes.NewReader(b), "application/json"
	case req.Form != nil:
		body, contentType = strings.NewReader(req.Form.Encode()), "application/x-www-form-urlencoded"
	}

	method := op.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if op.Auth {
		httpReq.Header.Set("Authorization", "Bearer "+snap.Credential)
	}
	requestID := trace.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	httpReq.Header.Set(trace.RequestIDHeader, requestID)
	return httpReq, nil
}

// CallJSON performs op and decodes a 2xx body into out. A body that does not
// decode, or a decoded value whose Validate method fails, is Rejected.
func (p *Pipeline) CallJSON(ctx context.Context, op Operation, req Request, out any) error {
	resp, err := p.Call(ctx, op, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	snap := p.sessions.Current()
	malformed := func(cause error) error {
		perr := &Error{Kind: Rejected, Op: op.Name, Status: resp.Status, SessionGen: snap.Generation,
			Detail: Detail{Message: "malformed response"}, cause: cause}
		p.logger.WarnContext(ctx, "Upstream response did not match the expected shape",
			log.FieldOperation, op.Name, log.FieldError, cause)
		return perr
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		return malformed(err)
	}
	if v, ok := out.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return malformed(err)
		}
	}
	return nil
}

// transportKind separates an elapsed budget from every other transport failure.
func transportKind(callCtx context.Context, err error) Kind {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return TimedOut
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimedOut
	}
	return Unreachable
}

func (p *Pipeline) logOutcome(ctx context.Context, op Operation, err *Error, status int, start time.Time) {
	fields := log.NewFields().WithOperation(op.Name)
	if err == nil {
		fields.WithOutcome("", status, time.Since(start).Milliseconds())
		p.logger.DebugContext(ctx, "Upstream call succeeded", fields.ToSlice()...)
		return
	}
	fields.WithOutcome(err.Kind.String(), status, time.Since(start).Milliseconds())
	if err.cause != nil {
		fields.WithError(err.cause)
	}
	p.logger.WarnContext(ctx, "Upstream call failed", fields.ToSlice()...)
}
