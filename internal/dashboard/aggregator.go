// Package dashboard fetches the dashboard summary and always produces a
// well-formed snapshot: on any failure the snapshot is zeroed, never absent.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"finadvisor/internal/config"
	"finadvisor/internal/core"
	"finadvisor/internal/log"
	"finadvisor/internal/pipeline"
)

var OpDashboard = pipeline.Operation{
	Name: config.OpDashboard, Method: http.MethodGet, Path: "/dashboard/", Auth: true,
}

// Caller is the pipeline surface the aggregator uses.
type Caller interface {
	Call(ctx context.Context, op pipeline.Operation, req pipeline.Request) (*pipeline.Response, error)
}

// Sessions is the part of session.Store the aggregator needs to end a
// rejected session.
type Sessions = pipeline.Sessions

// Result is one aggregation. Degraded is set whenever Snapshot is the empty
// fallback; LoggedOut additionally marks an authentication failure.
type Result struct {
	Snapshot    core.DashboardSnapshot `json:"snapshot"`
	Degraded    bool                   `json:"degraded"`
	LoggedOut   bool                   `json:"logged_out"`
	Failure     string                 `json:"failure,omitempty"`
	RetrievedAt time.Time              `json:"retrieved_at"`
	Seq         uint64                 `json:"seq"`
}

type Aggregator struct {
	caller   Caller
	sessions Sessions
	logger   *log.Logger
	now      func() time.Time

	mu       sync.Mutex
	seq      uint64
	current  Result
	onLogout []func(context.Context)
}

func New(caller Caller, sessions Sessions, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.Discard()
	}
	return &Aggregator{
		caller:   caller,
		sessions: sessions,
		logger:   logger.WithComponent(log.ComponentDashboard),
		now:      time.Now,
		current:  Result{Snapshot: core.EmptySnapshot(), Degraded: true},
	}
}

// OnLogout registers fn to run when a rejected credential ends the session.
func (a *Aggregator) OnLogout(fn func(context.Context)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onLogout = append(a.onLogout, fn)
}

// Fetch issues the dashboard call. The returned result answers this call;
// Current reflects it only if no newer Fetch was issued meanwhile.
func (a *Aggregator) Fetch(ctx context.Context) Result {
	a.mu.Lock()
	a.seq++
	seq := a.seq
	a.mu.Unlock()

	result := Result{RetrievedAt: a.now(), Seq: seq}

	snap, err := a.fetch(ctx)
	if err == nil {
		result.Snapshot = snap
	} else {
		perr := pipeline.AsError(err)
		result.Snapshot = core.EmptySnapshot()
		result.Degraded = true
		result.Failure = perr.Kind.String()
		if perr.Kind == pipeline.Unauthenticated {
			result.LoggedOut = pipeline.EndSession(ctx, a.sessions, perr)
		}
		a.logger.WarnContext(ctx, "Dashboard degraded to empty snapshot",
			log.FieldErrorKind, result.Failure, log.FieldSequence, seq)
	}

	a.mu.Lock()
	applied := seq == a.seq
	if applied {
		a.current = result
	}
	hooks := a.onLogout
	a.mu.Unlock()

	if !applied {
		a.logger.DebugContext(ctx, "Discarded stale dashboard result", log.FieldSequence, seq)
	}
	if result.LoggedOut {
		for _, fn := range hooks {
			fn(ctx)
		}
	}
	return result
}

// Refresh re-runs the aggregation. It satisfies the mutation refresher and
// never fails; degradation is reported through Current.
func (a *Aggregator) Refresh(ctx context.Context) error {
	a.Fetch(ctx)
	return nil
}

// Current returns the latest applied result.
func (a *Aggregator) Current() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Reset drops the current snapshot and orphans any in-flight call.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	a.current = Result{Snapshot: core.EmptySnapshot(), Degraded: true, Seq: a.seq}
}

func (a *Aggregator) fetch(ctx context.Context) (core.DashboardSnapshot, error) {
	resp, err := a.caller.Call(ctx, OpDashboard, pipeline.Request{})
	if err != nil {
		return core.DashboardSnapshot{}, err
	}
	snap, err := decodeSnapshot(resp.Body)
	if err != nil {
		return core.DashboardSnapshot{}, &pipeline.Error{
			Kind:   pipeline.Rejected,
			Op:     OpDashboard.Name,
			Status: resp.Status,
			Detail: pipeline.Detail{Message: "malformed dashboard response"},
		}
	}
	return snap, nil
}

// wireSnapshot mirrors the backend body. The lists stay raw and are decoded
// one element at a time so a single bad entry does not discard the rest.
type wireSnapshot struct {
	TotalBalance       core.Amount     `json:"total_balance"`
	TotalIncome        core.Amount     `json:"total_income"`
	TotalExpenses      core.Amount     `json:"total_expenses"`
	NetIncome          *core.Amount    `json:"net_income"`
	UnreadAlerts       core.Amount     `json:"unread_alerts"`
	Budgets            json.RawMessage `json:"budgets"`
	Goals              json.RawMessage `json:"goals"`
	RecentTransactions json.RawMessage `json:"recent_transactions"`
}

var errNotObject = errors.New("dashboard body is not an object")

func decodeSnapshot(body []byte) (core.DashboardSnapshot, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return core.DashboardSnapshot{}, errNotObject
	}
	var w wireSnapshot
	if err := json.Unmarshal(body, &w); err != nil {
		return core.DashboardSnapshot{}, err
	}

	snap := core.EmptySnapshot()
	snap.TotalBalance = w.TotalBalance
	snap.TotalIncome = w.TotalIncome
	snap.TotalExpenses = w.TotalExpenses
	if w.NetIncome != nil {
		snap.NetIncome = *w.NetIncome
	} else {
		snap.NetIncome = core.NewAmount(w.TotalIncome.Sub(w.TotalExpenses.Decimal))
	}
	snap.UnreadAlerts = w.UnreadAlerts.IntPart()

	snap.Budgets = decodeEach[core.BudgetView](w.Budgets, snap.Budgets)
	snap.Goals = decodeEach[core.GoalView](w.Goals, snap.Goals)
	snap.RecentTransactions = decodeEach[core.TransactionView](w.RecentTransactions, snap.RecentTransactions)
	return snap, nil
}

// decodeEach appends every element of the JSON array raw that decodes as T.
// Anything other than an array contributes nothing.
func decodeEach[T any](raw json.RawMessage, dst []T) []T {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return dst
	}
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			continue
		}
		dst = append(dst, v)
	}
	return dst
}
