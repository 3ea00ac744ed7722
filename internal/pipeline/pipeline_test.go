package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"finadvisor/internal/session"
)

type testPayload struct {
	Name string `json:"name"`
}

func (p testPayload) Validate() error {
	if p.Name == "" {
		return errors.New("name missing")
	}
	return nil
}

func newTestPipeline(t *testing.T, h http.HandlerFunc, opts ...Option) (*Pipeline, *session.Store) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	store := session.NewStore(nil, nil)
	return New(srv.URL, store, opts...), store
}

var authedOp = Operation{Name: "health_score", Method: http.MethodGet, Path: "/agents/financial-health", Auth: true}

func TestCall_InjectsCredential(t *testing.T) {
	var gotAuth, gotID string
	p, store := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotID = r.Header.Get("X-Request-ID")
		w.Write([]byte(`{"name":"ok"}`))
	})
	store.Set(context.Background(), "tok-123")

	var out testPayload
	if err := p.CallJSON(context.Background(), authedOp, Request{}, &out); err != nil {
		t.Fatalf("CallJSON() error = %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotID == "" {
		t.Error("X-Request-ID not set")
	}
	if out.Name != "ok" {
		t.Errorf("decoded = %+v", out)
	}
}

func TestCall_NoCredentialSkipsNetwork(t *testing.T) {
	var hits int32
	p, _ := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	})

	_, err := p.Call(context.Background(), authedOp, Request{})
	if KindOf(err) != Unauthenticated {
		t.Fatalf("KindOf(err) = %v, want Unauthenticated", KindOf(err))
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Errorf("server hit %d times, want 0", hits)
	}
}

func TestCall_Classification(t *testing.T) {
	tests := []struct {
		name   string
		op     Operation
		status int
		body   string
		want   Kind
	}{
		{"401 on authed call", authedOp, http.StatusUnauthorized, `{"detail":"Could not validate credentials"}`, Unauthenticated},
		{"401 on login", Operation{Name: "login", Method: http.MethodPost, Path: "/auth/login"}, http.StatusUnauthorized, `{"detail":"Incorrect email or password"}`, Rejected},
		{"422", authedOp, http.StatusUnprocessableEntity, `{"detail":[{"loc":["body","amount"],"msg":"bad"}]}`, Rejected},
		{"400", authedOp, http.StatusBadRequest, `{"detail":"Email already registered"}`, Rejected},
		{"500", authedOp, http.StatusInternalServerError, `oops`, Rejected},
		{"502", authedOp, http.StatusBadGateway, ``, Unreachable},
		{"503", authedOp, http.StatusServiceUnavailable, ``, Unreachable},
		{"504", authedOp, http.StatusGatewayTimeout, ``, Unreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, store := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			store.Set(context.Background(), "tok")

			_, err := p.Call(context.Background(), tt.op, Request{})
			perr := AsError(err)
			if perr == nil || perr.Kind != tt.want {
				t.Fatalf("Call() error = %v, want kind %v", err, tt.want)
			}
			if perr.Status != tt.status {
				t.Errorf("Status = %d, want %d", perr.Status, tt.status)
			}
			if got := store.IsAuthenticated(); got == (tt.want == Unauthenticated) {
				t.Errorf("IsAuthenticated() = %v after %v", got, tt.want)
			}
		})
	}
}

func TestCall_UnauthenticatedClearsOnlyIssuingSession(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	p, store := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusUnauthorized)
	})
	store.Set(ctx, "old")

	done := make(chan error, 1)
	go func() {
		_, err := p.Call(ctx, authedOp, Request{})
		done <- err
	}()

	// A fresh login lands while the old call is outstanding. Wait for the
	// request to be in flight first.
	time.Sleep(50 * time.Millisecond)
	store.Set(ctx, "new")
	close(release)

	if err := <-done; KindOf(err) != Unauthenticated {
		t.Fatalf("KindOf(err) = %v, want Unauthenticated", KindOf(err))
	}
	if cred, ok := store.Credential(); !ok || cred != "new" {
		t.Errorf("credential = %q, %v, want the newer session kept", cred, ok)
	}
}

func TestCall_SubsequentCallsDropClearedCredential(t *testing.T) {
	var calls int32
	p, store := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	store.Set(context.Background(), "stale")

	p.Call(context.Background(), authedOp, Request{})
	_, err := p.Call(context.Background(), authedOp, Request{})
	if KindOf(err) != Unauthenticated {
		t.Fatalf("second call kind = %v", KindOf(err))
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("server saw %d calls, want 1", n)
	}
}

func TestCall_TimedOut(t *testing.T) {
	p, store := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	store.Set(context.Background(), "tok")

	op := authedOp
	op.Timeout = 50 * time.Millisecond
	start := time.Now()
	_, err := p.Call(context.Background(), op, Request{})
	if KindOf(err) != TimedOut {
		t.Fatalf("KindOf(err) = %v, want TimedOut", KindOf(err))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Call took %v, want about the 50ms budget", elapsed)
	}
	if !store.IsAuthenticated() {
		t.Error("timeout must not clear the session")
	}
}

func TestCall_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	store := session.NewStore(nil, nil)
	store.Set(context.Background(), "tok")
	p := New(addr, store)

	_, err := p.Call(context.Background(), authedOp, Request{})
	if KindOf(err) != Unreachable {
		t.Fatalf("KindOf(err) = %v, want Unreachable", KindOf(err))
	}
}

func TestCall_TimeoutResolution(t *testing.T) {
	p := New("http://localhost", session.NewStore(nil, nil), WithTimeouts(func(op string) time.Duration {
		if op == "advice" {
			return time.Minute
		}
		return 0
	}))

	tests := []struct {
		op   Operation
		want time.Duration
	}{
		{Operation{Name: "advice"}, time.Minute},
		{Operation{Name: "advice", Timeout: time.Second}, time.Second},
		{Operation{Name: "other"}, defaultTimeout},
	}
	for _, tt := range tests {
		if got := p.Timeout(tt.op); got != tt.want {
			t.Errorf("Timeout(%+v) = %v, want %v", tt.op, got, tt.want)
		}
	}
}

func TestCall_RequestBodies(t *testing.T) {
	var gotType, gotBody, gotQuery string
	p, store := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		gotQuery = r.URL.RawQuery
		b := make([]byte, r.ContentLength)
		r.Body.Read(b)
		gotBody = string(b)
	})
	store.Set(context.Background(), "tok")

	op := Operation{Name: "advice", Method: http.MethodPost, Path: "/agents/financial-advice", Auth: true}
	if _, err := p.Call(context.Background(), op, Request{Query: url.Values{"question": {"save more?"}}}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if gotQuery != "question=save+more%3F" {
		t.Errorf("query = %q", gotQuery)
	}

	form := url.Values{"username": {"a@b.c"}, "password": {"pw"}}
	if _, err := p.Call(context.Background(), op, Request{Form: form}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if gotType != "application/x-www-form-urlencoded" || gotBody != form.Encode() {
		t.Errorf("form request = %q %q", gotType, gotBody)
	}

	if _, err := p.Call(context.Background(), op, Request{JSON: map[string]int{"n": 1}}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if gotType != "application/json" || gotBody != `{"n":1}` {
		t.Errorf("json request = %q %q", gotType, gotBody)
	}
}

func TestCallJSON_MalformedIsRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"wrong shape", `[1,2,3]`},
		{"fails validation", `{"name":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, store := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			store.Set(context.Background(), "tok")

			var out testPayload
			err := p.CallJSON(context.Background(), authedOp, Request{}, &out)
			if KindOf(err) != Rejected {
				t.Errorf("KindOf(err) = %v, want Rejected", KindOf(err))
			}
		})
	}
}

func TestCall_RateLimit(t *testing.T) {
	p, store := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {}, WithRateLimit(1, 1))
	store.Set(context.Background(), "tok")

	op := authedOp
	op.Timeout = 100 * time.Millisecond
	if _, err := p.Call(context.Background(), op, Request{}); err != nil {
		t.Fatalf("first Call() error = %v", err)
	}
	// The bucket is empty and refills in one second, past the budget.
	_, err := p.Call(context.Background(), op, Request{})
	if KindOf(err) != TimedOut {
		t.Errorf("KindOf(err) = %v, want TimedOut", KindOf(err))
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: Rejected, Op: "create_goal", Status: 422, Detail: Detail{Message: "bad"}}
	if got := err.Error(); !strings.Contains(got, "create_goal: rejected (status 422): bad") {
		t.Errorf("Error() = %q", got)
	}
	if KindOf(nil) != 0 {
		t.Error("KindOf(nil) should be 0")
	}
	if KindOf(errors.New("raw")) != Unreachable {
		t.Error("foreign errors classify as Unreachable")
	}
}
