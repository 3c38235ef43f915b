package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pixelquota/internal/domain"
	domgen "github.com/kailas-cloud/pixelquota/internal/domain/generation"
	"github.com/kailas-cloud/pixelquota/internal/domain/quota"
	generationuc "github.com/kailas-cloud/pixelquota/internal/usecase/generation"
	healthuc "github.com/kailas-cloud/pixelquota/internal/usecase/health"
	"github.com/kailas-cloud/pixelquota/internal/usecase/session"
)

// --- mocks ---

type mockSession struct {
	snap       session.Snapshot
	refreshErr error
	refreshed  int
	updates    chan session.Snapshot
}

func (m *mockSession) Snapshot() session.Snapshot { return m.snap }

func (m *mockSession) Watch() (<-chan session.Snapshot, func()) {
	if m.updates == nil {
		m.updates = make(chan session.Snapshot, 1)
	}
	m.updates <- m.snap
	return m.updates, func() {}
}

func (m *mockSession) Refresh(context.Context) error {
	m.refreshed++
	return m.refreshErr
}

func (m *mockSession) CurrentQuota() quota.Quota {
	if m.snap.User == nil {
		return quota.Quota{}
	}
	return m.snap.User.Quota
}

type mockBroker struct {
	signedIn  []session.Identity
	signedOut int
}

func (m *mockBroker) SignIn(id session.Identity) { m.signedIn = append(m.signedIn, id) }
func (m *mockBroker) SignOut()                   { m.signedOut++ }

type mockVerifier struct {
	id  session.Identity
	err error
}

func (m *mockVerifier) Verify(string) (session.Identity, error) { return m.id, m.err }

type mockGeneration struct {
	res       generationuc.Result
	err       error
	gotPrompt string
	gotAspect string
}

func (m *mockGeneration) Generate(_ context.Context, prompt, aspectRatio string) (generationuc.Result, error) {
	m.gotPrompt, m.gotAspect = prompt, aspectRatio
	return m.res, m.err
}

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(context.Context) healthuc.Report { return m.report }

// --- helpers ---

type fixture struct {
	sess   *mockSession
	broker *mockBroker
	verify *mockVerifier
	gen    *mockGeneration
	health *mockHealth
	router chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sess:   &mockSession{snap: session.Snapshot{State: session.StateReady}},
		broker: &mockBroker{},
		verify: &mockVerifier{},
		gen:    &mockGeneration{},
		health: &mockHealth{report: healthuc.Report{Status: healthuc.Healthy, Checks: map[string]healthuc.CheckResult{}}},
	}
	srv := NewServer(f.sess, f.broker, f.verify, f.gen, f.health, time.UTC, zap.NewNop())
	srv.now = func() time.Time { return time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	srv.Register(r)
	f.router = r
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func signedIn(q quota.Quota) session.Snapshot {
	return session.Snapshot{
		State: session.StateReady,
		User: &session.User{
			UID: "u1", Email: "a@example.com", SessionID: "s1", Quota: q,
		},
		Version: 3,
	}
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

// --- tests ---

func TestSignIn_EmitsIdentity(t *testing.T) {
	f := newFixture(t)
	f.verify.id = session.Identity{UID: "u1", Email: "a@example.com"}
	f.sess.snap = session.Snapshot{State: session.StateResolving, User: &session.User{UID: "u1", Email: "a@example.com"}}

	rr := f.do("POST", "/v1/auth/sign-in", `{"id_token":"tok"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusAccepted)
	}
	if len(f.broker.signedIn) != 1 || f.broker.signedIn[0].UID != "u1" {
		t.Errorf("broker sign-ins: %+v", f.broker.signedIn)
	}
	var resp SessionResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.State != "resolving" {
		t.Errorf("state: got %q", resp.State)
	}
}

func TestSignIn_InvalidToken(t *testing.T) {
	f := newFixture(t)
	f.verify.err = fmt.Errorf("%w: expired", domain.ErrInvalidToken)

	rr := f.do("POST", "/v1/auth/sign-in", `{"id_token":"tok"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	if got := decodeError(t, rr).Code; got != CodeInvalidToken {
		t.Errorf("code: got %q, want %q", got, CodeInvalidToken)
	}
	if len(f.broker.signedIn) != 0 {
		t.Error("identity emitted for rejected token")
	}
}

func TestSignIn_BadBody(t *testing.T) {
	f := newFixture(t)
	rr := f.do("POST", "/v1/auth/sign-in", `{not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", rr.Code)
	}
	if got := decodeError(t, rr).Code; got != CodeBadRequest {
		t.Errorf("code: got %q", got)
	}
}

func TestSignOut(t *testing.T) {
	f := newFixture(t)
	rr := f.do("POST", "/v1/auth/sign-out", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status: got %d", rr.Code)
	}
	if f.broker.signedOut != 1 {
		t.Errorf("sign-outs: got %d", f.broker.signedOut)
	}
}

func TestGetSession_WithError(t *testing.T) {
	f := newFixture(t)
	f.sess.snap = signedIn(quota.New(5, 0))
	f.sess.snap.Err = domain.ErrMissingEmail

	rr := f.do("GET", "/v1/session", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var resp SessionResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.User == nil || resp.User.SessionID != "s1" {
		t.Fatalf("user: %+v", resp.User)
	}
	if resp.Error == nil || resp.Error.Code != CodeMissingEmail {
		t.Errorf("error: %+v", resp.Error)
	}
	if resp.Version != 3 {
		t.Errorf("version: got %d", resp.Version)
	}
}

func TestRefreshSession_PersistFailureIsNotHTTPError(t *testing.T) {
	f := newFixture(t)
	f.sess.snap = signedIn(quota.New(5, 4))
	f.sess.refreshErr = &domain.PersistError{Err: errors.New("disk full")}

	rr := f.do("POST", "/v1/session/refresh", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if f.sess.refreshed != 1 {
		t.Errorf("refresh calls: got %d", f.sess.refreshed)
	}
}

func TestRefreshSession_NotSignedIn(t *testing.T) {
	f := newFixture(t)
	f.sess.refreshErr = domain.ErrNotSignedIn

	rr := f.do("POST", "/v1/session/refresh", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d", rr.Code)
	}
}

func TestGetQuota(t *testing.T) {
	tests := []struct {
		name      string
		q         quota.Quota
		wantQuota any
		untracked bool
	}{
		{"tracked", quota.New(5, 3), float64(3), false},
		{"unlimited", quota.Unlimited(5), "unlimited", false},
		{"untracked", quota.Untracked(5), float64(5), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.sess.snap = signedIn(tt.q)

			rr := f.do("GET", "/v1/quota", "")
			if rr.Code != http.StatusOK {
				t.Fatalf("status: got %d", rr.Code)
			}
			var resp struct {
				Quota     any       `json:"quota"`
				Limit     int       `json:"limit"`
				Untracked bool      `json:"untracked"`
				ResetsAt  time.Time `json:"resets_at"`
			}
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Quota != tt.wantQuota {
				t.Errorf("quota: got %v (%T), want %v", resp.Quota, resp.Quota, tt.wantQuota)
			}
			if resp.Limit != 5 {
				t.Errorf("limit: got %d", resp.Limit)
			}
			if resp.Untracked != tt.untracked {
				t.Errorf("untracked: got %v", resp.Untracked)
			}
			if want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC); !resp.ResetsAt.Equal(want) {
				t.Errorf("resets_at: got %v, want %v", resp.ResetsAt, want)
			}
		})
	}
}

func TestGetQuota_NotSignedIn(t *testing.T) {
	f := newFixture(t)
	rr := f.do("GET", "/v1/quota", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d", rr.Code)
	}
	if got := decodeError(t, rr).Code; got != CodeNotSignedIn {
		t.Errorf("code: got %q", got)
	}
}

func TestGenerate_Success(t *testing.T) {
	f := newFixture(t)
	f.gen.res = generationuc.Result{
		Image:   domgen.Image{DataURL: "data:image/png;base64,AAAA", AltText: "Pixel art: a cat"},
		Quota:   quota.New(5, 4),
		Warning: "",
	}

	rr := f.do("POST", "/v1/generate", `{"prompt":"a cat","aspect_ratio":"16:9"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body.String())
	}
	if f.gen.gotPrompt != "a cat" || f.gen.gotAspect != "16:9" {
		t.Errorf("forwarded: %q %q", f.gen.gotPrompt, f.gen.gotAspect)
	}
	var resp GenerateResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ImageDataURL != "data:image/png;base64,AAAA" {
		t.Errorf("image: got %q", resp.ImageDataURL)
	}
	if resp.Quota != float64(4) {
		t.Errorf("quota: got %v", resp.Quota)
	}
}

func TestGenerate_QuotaExhausted(t *testing.T) {
	f := newFixture(t)
	resetsAt := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	f.gen.err = domain.NewQuotaExhausted(5, resetsAt)

	rr := f.do("POST", "/v1/generate", `{"prompt":"a cat"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status: got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	resp := decodeError(t, rr)
	if resp.Code != CodeQuotaExhausted {
		t.Errorf("code: got %q", resp.Code)
	}
	if resp.ResetsAt == nil || !resp.ResetsAt.Equal(resetsAt) {
		t.Errorf("resets_at: got %v, want %v", resp.ResetsAt, resetsAt)
	}
	if !strings.Contains(resp.Message, "5 images") {
		t.Errorf("message: %q", resp.Message)
	}
}

func TestGenerate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"not signed in", domain.ErrNotSignedIn, http.StatusUnauthorized, CodeNotSignedIn, ""},
		{"missing email", domain.ErrMissingEmail, http.StatusForbidden, CodeMissingEmail, ""},
		{"invalid prompt", fmt.Errorf("%w: prompt is empty", domain.ErrInvalidRequest), http.StatusBadRequest, CodeInvalidRequest, "prompt is empty"},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited, ""},
		{
			"provider failure",
			&domain.GenerationError{Message: "Invalid API key. Please check your OpenAI API key.", Err: errors.New("401")},
			http.StatusBadGateway, CodeGenerationFailed, "Invalid API key",
		},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternalError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.gen.err = tt.err

			rr := f.do("POST", "/v1/generate", `{"prompt":"x"}`)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status: got %d, want %d", rr.Code, tt.wantStatus)
			}
			resp := decodeError(t, rr)
			if resp.Code != tt.wantCode {
				t.Errorf("code: got %q, want %q", resp.Code, tt.wantCode)
			}
			if tt.wantMsg != "" && !strings.Contains(resp.Message, tt.wantMsg) {
				t.Errorf("message: got %q, want substring %q", resp.Message, tt.wantMsg)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		status healthuc.Status
		want   int
	}{
		{healthuc.Healthy, http.StatusOK},
		{healthuc.Degraded, http.StatusOK},
		{healthuc.Unhealthy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := newFixture(t)
			f.health.report = healthuc.Report{
				Status: tt.status,
				Checks: map[string]healthuc.CheckResult{"storage": healthuc.CheckOK},
			}
			rr := f.do("GET", "/health", "")
			if rr.Code != tt.want {
				t.Fatalf("status: got %d, want %d", rr.Code, tt.want)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != string(tt.status) || resp.Checks["storage"] != "ok" {
				t.Errorf("body: %+v", resp)
			}
		})
	}
}

func TestWatchSession_PushesSnapshots(t *testing.T) {
	f := newFixture(t)
	f.sess.snap = signedIn(quota.New(5, 2))
	f.sess.updates = make(chan session.Snapshot, 2)

	ts := httptest.NewServer(f.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/session/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test timeout
	var first SessionResponse
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first: %v", err)
	}
	if first.User == nil || first.User.Quota != float64(2) {
		t.Fatalf("first snapshot: %+v", first.User)
	}

	next := signedIn(quota.New(5, 1))
	next.Version = 4
	f.sess.updates <- next

	var second SessionResponse
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read second: %v", err)
	}
	if second.Version != 4 || second.User.Quota != float64(1) {
		t.Errorf("second snapshot: version %d, user %+v", second.Version, second.User)
	}
}
