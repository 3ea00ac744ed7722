// Package mutation implements the create flow shared by budgets and goals:
// local validation, submission, mapping of server field errors, and a
// dashboard refresh once the server has confirmed success.
package mutation

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"finadvisor/internal/amqp"
	"finadvisor/internal/config"
	"finadvisor/internal/core"
	"finadvisor/internal/log"
	"finadvisor/internal/middleware/trace"
	"finadvisor/internal/pipeline"
)

// State of a submission.
type State string

const (
	Editing    State = "editing"
	Validating State = "validating"
	Submitting State = "submitting"
	Succeeded  State = "succeeded"
	Rejected   State = "rejected"
)

// FailureValidation marks a submission stopped by local checks. It never
// reaches the network.
const FailureValidation = "validation_failed"

// FailureSessionChanged marks a 401 on a credential that was replaced while
// the request was in flight. The newer session stays valid.
const FailureSessionChanged = "session_changed"

const (
	MsgSessionExpired = "Your session has expired. Please log in again."
	MsgUnreachable    = "Could not reach the server. Please try again."
	MsgCheckFields    = "Please correct the highlighted fields."
	MsgRejected       = "The server rejected the request."
	MsgSessionChanged = "Your session changed while saving. Please try again."
)

var (
	OpCreateBudget = pipeline.Operation{
		Name: config.OpCreateBudget, Method: http.MethodPost, Path: "/budgets/", Auth: true,
	}
	OpCreateGoal = pipeline.Operation{
		Name: config.OpCreateGoal, Method: http.MethodPost, Path: "/goals/", Auth: true,
	}
)

// Form is a user-editable entity.
type Form interface {
	Validate(now time.Time) core.FieldErrorSet
	Payload() map[string]any
}

type Caller interface {
	Call(ctx context.Context, op pipeline.Operation, req pipeline.Request) (*pipeline.Response, error)
}

// Sessions is the part of session.Store needed to end a rejected session.
type Sessions = pipeline.Sessions

// Refresher re-runs the dashboard aggregation.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type Notifier interface {
	Publish(ctx context.Context, e amqp.Event) error
}

// Outcome is the visible state of the form after an action.
type Outcome[F Form] struct {
	State       State              `json:"state"`
	Form        F                  `json:"form"`
	FieldErrors core.FieldErrorSet `json:"field_errors"`
	Message     string             `json:"message,omitempty"`
	Failure     string             `json:"failure,omitempty"`
	Created     json.RawMessage    `json:"created,omitempty"`
}

type Config[F Form] struct {
	Op        pipeline.Operation
	Entity    string
	Defaults  func() F
	Caller    Caller
	Sessions  Sessions
	Refresher Refresher
	Notifier  Notifier
	Logger    *log.Logger
}

type Submitter[F Form] struct {
	op        pipeline.Operation
	entity    string
	defaults  func() F
	caller    Caller
	sessions  Sessions
	refresher Refresher
	notifier  Notifier
	logger    *log.Logger
	now       func() time.Time

	// submitMu serializes Submit; mu guards current.
	submitMu sync.Mutex
	mu       sync.Mutex
	current  Outcome[F]
}

func New[F Form](cfg Config[F]) *Submitter[F] {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = amqp.NopPublisher{}
	}
	s := &Submitter[F]{
		op:        cfg.Op,
		entity:    cfg.Entity,
		defaults:  cfg.Defaults,
		caller:    cfg.Caller,
		sessions:  cfg.Sessions,
		refresher: cfg.Refresher,
		notifier:  notifier,
		logger:    logger.WithComponent(log.ComponentMutation).With(log.FieldEntity, cfg.Entity),
		now:       time.Now,
	}
	s.current = Outcome[F]{State: Editing, Form: s.defaults(), FieldErrors: core.FieldErrorSet{}}
	return s
}

// NewBudgetSubmitter wires the budget create flow.
func NewBudgetSubmitter(caller Caller, sessions Sessions, refresher Refresher, notifier Notifier, logger *log.Logger) *Submitter[core.BudgetForm] {
	return New(Config[core.BudgetForm]{
		Op: OpCreateBudget, Entity: "budget", Defaults: core.DefaultBudgetForm,
		Caller: caller, Sessions: sessions, Refresher: refresher, Notifier: notifier, Logger: logger,
	})
}

// NewGoalSubmitter wires the goal create flow.
func NewGoalSubmitter(caller Caller, sessions Sessions, refresher Refresher, notifier Notifier, logger *log.Logger) *Submitter[core.GoalForm] {
	return New(Config[core.GoalForm]{
		Op: OpCreateGoal, Entity: "goal", Defaults: core.DefaultGoalForm,
		Caller: caller, Sessions: sessions, Refresher: refresher, Notifier: notifier, Logger: logger,
	})
}

// Current returns the latest outcome.
func (s *Submitter[F]) Current() Outcome[F] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Edit records form as the work in progress. Existing field errors stay
// visible until the next submit.
func (s *Submitter[F]) Edit(form F) Outcome[F] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.State = Editing
	s.current.Form = form
	return s.current
}

// Submit validates form and, if it passes, sends it. On success the form is
// reset to its defaults and the refresher runs after the server's
// confirmation, never alongside the request.
func (s *Submitter[F]) Submit(ctx context.Context, form F) Outcome[F] {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	s.set(Outcome[F]{State: Validating, Form: form, FieldErrors: core.FieldErrorSet{}})

	if errs := form.Validate(s.now()); !errs.Empty() {
		s.logger.InfoContext(ctx, "Submission failed local validation", "fields", errs.Fields())
		return s.set(Outcome[F]{State: Rejected, Form: form, FieldErrors: errs, Failure: FailureValidation})
	}

	s.set(Outcome[F]{State: Submitting, Form: form, FieldErrors: core.FieldErrorSet{}})

	resp, err := s.caller.Call(ctx, s.op, pipeline.Request{JSON: form.Payload()})
	if err != nil {
		return s.set(s.rejected(ctx, form, pipeline.AsError(err)))
	}

	out := Outcome[F]{State: Succeeded, Form: s.defaults(), FieldErrors: core.FieldErrorSet{}}
	if json.Valid(resp.Body) {
		out.Created = json.RawMessage(resp.Body)
	}
	s.set(out)
	s.logger.InfoContext(ctx, "Entity created", log.FieldOperation, s.op.Name)

	s.announce(ctx, out.Created)
	if s.refresher != nil {
		if err := s.refresher.Refresh(ctx); err != nil {
			s.logger.WarnContext(ctx, "Refresh after create failed", log.FieldError, err)
		}
	}
	return out
}

func (s *Submitter[F]) rejected(ctx context.Context, form F, perr *pipeline.Error) Outcome[F] {
	out := Outcome[F]{State: Rejected, Form: form, FieldErrors: core.FieldErrorSet{}, Failure: perr.Kind.String()}

	switch perr.Kind {
	case pipeline.Unauthenticated:
		if pipeline.EndSession(ctx, s.sessions, perr) {
			out.Message = MsgSessionExpired
		} else {
			out.Failure = FailureSessionChanged
			out.Message = MsgSessionChanged
		}
	case pipeline.Rejected:
		out.FieldErrors, out.Message = mapDetail(perr.Detail)
	default:
		out.Message = MsgUnreachable
	}

	s.logger.WarnContext(ctx, "Submission rejected",
		log.FieldOperation, s.op.Name,
		log.FieldErrorKind, out.Failure,
		log.FieldStatusCode, perr.Status)
	return out
}

// mapDetail turns a server rejection into field errors plus a generic message.
// Only entries whose path has at least two segments are attributed to a field,
// keyed by the second segment; the rest surface in the message.
func mapDetail(d pipeline.Detail) (core.FieldErrorSet, string) {
	errs := core.FieldErrorSet{}
	if len(d.Fields) == 0 {
		if d.Message != "" {
			return errs, d.Message
		}
		return errs, MsgRejected
	}

	var unattributed []string
	for _, v := range d.Fields {
		if len(v.Path) >= 2 && v.Path[1] != "" {
			errs.Add(fieldKey(v.Path[1]), v.Message)
			continue
		}
		unattributed = append(unattributed, v.Message)
	}
	if len(unattributed) > 0 {
		return errs, strings.Join(unattributed, "; ")
	}
	return errs, MsgCheckFields
}

// fieldKey maps a wire name such as target_amount to the form key targetAmount.
func fieldKey(wire string) string {
	parts := strings.Split(wire, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

func (s *Submitter[F]) announce(ctx context.Context, created json.RawMessage) {
	e := amqp.NewEvent(amqp.EventMutationSucceeded)
	e.Entity = s.entity
	e.RequestID = trace.GetRequestID(ctx)
	var body struct {
		ID core.EntityID `json:"id"`
	}
	if created != nil && json.Unmarshal(created, &body) == nil {
		e.EntityID = string(body.ID)
	}
	if err := s.notifier.Publish(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish mutation event", log.FieldError, err)
	}
}

func (s *Submitter[F]) set(o Outcome[F]) Outcome[F] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = o
	return o
}
