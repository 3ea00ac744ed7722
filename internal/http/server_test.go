package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"finadvisor/internal/advisory"
	"finadvisor/internal/auth"
	"finadvisor/internal/core"
	"finadvisor/internal/dashboard"
	"finadvisor/internal/fallback"
	"finadvisor/internal/mutation"
	"finadvisor/internal/pipeline"
	"finadvisor/internal/session"
)

const testToken = "tok-123"

// upstream fakes the backend API. budgetStatus overrides the budget create
// response when non-zero.
type upstream struct {
	budgetStatus atomic.Int32
	dashCalls    atomic.Int32
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/auth/login" {
		_ = r.ParseForm()
		if r.PostForm.Get("password") != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Incorrect email or password"}`))
			return
		}
		w.Write([]byte(`{"access_token":"` + testToken + `","token_type":"bearer"}`))
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+testToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch r.URL.Path {
	case "/dashboard/":
		u.dashCalls.Add(1)
		w.Write([]byte(`{"total_balance":"1200.50","total_income":3000,"total_expenses":1800,"budgets":[],"goals":[],"recent_transactions":[]}`))
	case "/agents/financial-health":
		w.Write([]byte(`{"score":72,"health_status":"good","issues":[],"recommendations":["keep going"]}`))
	case "/agents/optimize-spending":
		w.WriteHeader(http.StatusServiceUnavailable)
	case "/agents/learning-motivation":
		w.Write([]byte(`{"quote":"Small steps.","tip":"Automate savings."}`))
	case "/agents/financial-advice":
		w.Write([]byte(`{"answer":"Index funds, for ` + r.URL.Query().Get("question") +
			`","stock_recommendations":[{"symbol":"VTI","current_price":250.5}]}`))
	case "/budgets/":
		if code := u.budgetStatus.Load(); code != 0 {
			w.WriteHeader(int(code))
			w.Write([]byte(`{"detail":[{"loc":["body","category"],"msg":"unknown category"}]}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":9,"category":"Food"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestServer(t *testing.T) (*Server, *upstream) {
	t.Helper()
	up := &upstream{}
	backend := httptest.NewServer(up)
	t.Cleanup(backend.Close)

	store := session.NewStore(nil, nil)
	p := pipeline.New(backend.URL, store)
	dash := dashboard.New(p, store, nil)
	svc := Services{
		Auth:      auth.NewService(p, store, nil),
		Sessions:  store,
		Advisory:  advisory.New(p, store, nil),
		Dashboard: dash,
		Budgets:   mutation.NewBudgetSubmitter(p, store, dash, nil, nil),
		Goals:     mutation.NewGoalSubmitter(p, store, dash, nil, nil),
	}
	return NewServer(":0", svc, nil), up
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func login(t *testing.T, srv *Server) {
	t.Helper()
	if rr := do(t, srv, http.MethodPost, "/api/login", `{"email":"a@b.c","password":"pw"}`); rr.Code != http.StatusNoContent {
		t.Fatalf("login status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestHealthAndHeaders(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := do(t, srv, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}

	rr = do(t, srv, http.MethodGet, "/api/metrics", "")
	var m struct {
		TotalRequests int64 `json:"total_requests"`
	}
	decode(t, rr, &m)
	if rr.Code != http.StatusOK || m.TotalRequests < 2 {
		t.Errorf("metrics = %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, srv, http.MethodGet, "/api/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d", rr.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv, up := newTestServer(t)

	var sess sessionResponse
	decode(t, do(t, srv, http.MethodGet, "/api/session", ""), &sess)
	if sess.Authenticated {
		t.Fatal("new server should not be authenticated")
	}

	rr := do(t, srv, http.MethodPost, "/api/login", `{"email":"a@b.c","password":"bad"}`)
	if rr.Code != http.StatusUnauthorized || !strings.Contains(rr.Body.String(), "Incorrect email or password") {
		t.Fatalf("bad login = %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, srv, http.MethodPost, "/api/login", `{"email":"","password":"pw"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty email status = %d", rr.Code)
	}

	login(t, srv)
	decode(t, do(t, srv, http.MethodGet, "/api/session", ""), &sess)
	if !sess.Authenticated {
		t.Fatal("login should authenticate")
	}

	rr = do(t, srv, http.MethodGet, "/api/dashboard", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("dashboard status = %d", rr.Code)
	}
	var res dashboard.Result
	decode(t, rr, &res)
	if res.Degraded || res.Snapshot.NetIncome.String() != "1200" {
		t.Errorf("dashboard = %+v", res)
	}

	if rr := do(t, srv, http.MethodPost, "/api/logout", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d", rr.Code)
	}
	calls := up.dashCalls.Load()

	rr = do(t, srv, http.MethodGet, "/api/dashboard", "")
	if rr.Code != http.StatusUnauthorized || strings.TrimSpace(rr.Body.String()) != `{"loggedOut":true}` {
		t.Errorf("dashboard after logout = %d %s", rr.Code, rr.Body.String())
	}
	if up.dashCalls.Load() != calls {
		t.Error("no upstream call should be made without a credential")
	}
}

func TestAdvisoryEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("logged out falls back with 200", func(t *testing.T) {
		rr := do(t, srv, http.MethodGet, "/api/advisory/health", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		var got struct {
			Status  string `json:"status"`
			Failure string `json:"failure"`
		}
		decode(t, rr, &got)
		if got.Status != "fallback" || got.Failure != "unauthenticated" {
			t.Errorf("got %+v", got)
		}
	})

	login(t, srv)

	t.Run("combined view isolates failures", func(t *testing.T) {
		rr := do(t, srv, http.MethodGet, "/api/advisory", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		type result struct {
			Status  string          `json:"status"`
			Failure string          `json:"failure"`
			Payload json.RawMessage `json:"payload"`
		}
		var state struct {
			HealthScore  result `json:"health_score"`
			Optimization result `json:"optimization"`
			Motivation   result `json:"motivation"`
			Advice       result `json:"advice"`
		}
		decode(t, rr, &state)
		if state.HealthScore.Status != "ready" || !strings.Contains(string(state.HealthScore.Payload), `"score":72`) {
			t.Errorf("health = %+v", state.HealthScore)
		}
		if state.Optimization.Status != "fallback" || state.Optimization.Failure != "unreachable" {
			t.Errorf("optimization = %+v", state.Optimization)
		}
		if !strings.Contains(string(state.Motivation.Payload), "Small steps.") {
			t.Errorf("motivation = %+v", state.Motivation)
		}
		if state.Advice.Status != "pending" {
			t.Errorf("advice = %+v", state.Advice)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		if rr := do(t, srv, http.MethodGet, "/api/advisory/horoscope", ""); rr.Code != http.StatusNotFound {
			t.Errorf("status = %d", rr.Code)
		}
	})

	t.Run("ask", func(t *testing.T) {
		if rr := do(t, srv, http.MethodPost, "/api/advisory/ask", `{"question":"   "}`); rr.Code != http.StatusNoContent {
			t.Errorf("blank question status = %d", rr.Code)
		}
		rr := do(t, srv, http.MethodPost, "/api/advisory/ask", `{"question":"retirement"}`)
		if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Index funds, for retirement") {
			t.Errorf("ask = %d %s", rr.Code, rr.Body.String())
		}
		var got struct {
			Status string              `json:"status"`
			Stocks []map[string]string `json:"stocks"`
		}
		decode(t, rr, &got)
		if len(got.Stocks) != 1 {
			t.Fatalf("stocks = %v", got.Stocks)
		}
		stock := got.Stocks[0]
		if stock["symbol"] != "VTI" || stock["current_price"] != "$250.50" || stock["name"] != core.NotAvailable {
			t.Errorf("stock = %v", stock)
		}
	})

	t.Run("fallback catalog", func(t *testing.T) {
		rr := do(t, srv, http.MethodGet, "/api/advisory/fallback/advice?question=taxes", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		want, _ := json.Marshal(fallback.Advice("taxes"))
		if strings.TrimSpace(rr.Body.String()) != string(want) {
			t.Errorf("body = %s, want %s", rr.Body.String(), want)
		}
		if rr := do(t, srv, http.MethodGet, "/api/advisory/fallback/nope", ""); rr.Code != http.StatusNotFound {
			t.Errorf("unknown op status = %d", rr.Code)
		}
	})
}

func TestCreateBudget(t *testing.T) {
	srv, up := newTestServer(t)
	const valid = `{"category":"Food","amount":"400","period":"monthly","startDate":"2025-06-01","endDate":"2025-06-30"}`

	tests := []struct {
		name       string
		login      bool
		status     int32
		body       string
		wantStatus int
		wantField  string
	}{
		{name: "local validation", login: true, body: `{"category":"","amount":"-1","period":"monthly","startDate":"2025-06-01","endDate":"2025-06-30"}`, wantStatus: http.StatusUnprocessableEntity, wantField: "amount"},
		{name: "not logged in", body: valid, wantStatus: http.StatusUnauthorized},
		{name: "created", login: true, body: valid, wantStatus: http.StatusCreated},
		{name: "server field error", login: true, status: http.StatusUnprocessableEntity, body: valid, wantStatus: http.StatusUnprocessableEntity, wantField: "category"},
		{name: "upstream down", login: true, status: http.StatusBadGateway, body: valid, wantStatus: http.StatusBadGateway},
		{name: "malformed body", login: true, body: `[1,2]`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			do(t, srv, http.MethodPost, "/api/logout", "")
			if tt.login {
				login(t, srv)
			}
			up.budgetStatus.Store(tt.status)

			rr := do(t, srv, http.MethodPost, "/api/budgets", tt.body)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if tt.wantField == "" {
				return
			}
			var out struct {
				FieldErrors map[string]string `json:"field_errors"`
			}
			decode(t, rr, &out)
			if out.FieldErrors[tt.wantField] == "" {
				t.Errorf("field_errors = %v, want %s", out.FieldErrors, tt.wantField)
			}
		})
	}
}

func TestCreateGoal_SessionExpired(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := do(t, srv, http.MethodPost, "/api/goals", `{"name":"Car","targetAmount":"5000","targetDate":"2999-01-01","goalType":"savings"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), mutation.MsgSessionExpired) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct", "203.0.113.5:1234", "", "203.0.113.5"},
		{"untrusted peer ignores header", "203.0.113.5:1234", "198.51.100.1", "203.0.113.5"},
		{"trusted proxy", "10.0.0.2:80", "198.51.100.1, 10.0.0.2", "198.51.100.1"},
		{"trusted proxy bad header", "10.0.0.2:80", "garbage", "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := extractClientIP(r); got != tt.want {
				t.Errorf("extractClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOutcomeStatus(t *testing.T) {
	tests := []struct {
		state   mutation.State
		failure string
		want    int
	}{
		{mutation.Succeeded, "", http.StatusCreated},
		{mutation.Rejected, mutation.FailureValidation, http.StatusUnprocessableEntity},
		{mutation.Rejected, "rejected", http.StatusUnprocessableEntity},
		{mutation.Rejected, "unauthenticated", http.StatusUnauthorized},
		{mutation.Rejected, mutation.FailureSessionChanged, http.StatusConflict},
		{mutation.Rejected, "unreachable", http.StatusBadGateway},
		{mutation.Rejected, "timed_out", http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.failure, func(t *testing.T) {
			if got := outcomeStatus(tt.state, tt.failure); got != tt.want {
				t.Errorf("outcomeStatus(%s, %q) = %d, want %d", tt.state, tt.failure, got, tt.want)
			}
		})
	}
}
