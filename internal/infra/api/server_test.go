//go:build !integration

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"ai-request-queue/internal/domain/model"
	"ai-request-queue/internal/domain/policy"
	"ai-request-queue/internal/infra/api"
	"ai-request-queue/internal/infra/memqueue"
	"ai-request-queue/internal/usecase"
)

//
// -------------------- test helpers --------------------
//

const testSecret = "test-secret"

func newLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

type fixture struct {
	store  *memqueue.Store
	router chi.Router
	auth   *api.AuthManager
}

func withHealthGate(s *api.Server) { s.WithHealthGate(true) }

func newFixture(t *testing.T, secret string, opts ...func(*api.Server)) *fixture {
	t.Helper()
	store := memqueue.New()
	scanner := usecase.NewScannerUseCase(store, policy.Default(), policy.NewClassifier(), usecase.ScannerOptions{}, newLogger())
	health := usecase.NewHealthUseCase(store, scanner, newLogger())
	queue := usecase.NewQueueUseCase(store, newLogger())
	auth := api.NewAuthManager(secret, time.Minute)
	srv := api.NewServer(scanner, health, queue, auth, newLogger())
	for _, opt := range opts {
		opt(srv)
	}
	return &fixture{store: store, router: srv.Router(), auth: auth}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		tok, err := f.auth.Mint("ops")
		if err != nil {
			t.Fatalf("mint: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func putStuck(f *fixture, id string, age time.Duration) {
	data := []byte(`{"id":"` + id + `","prompt":"hello there","sessionId":"s"}`)
	f.store.Put(model.StateProcessing, id, data, time.Now().Add(-age))
}

//
// -------------------- tests --------------------
//

func TestHealth_PublicSnapshot(t *testing.T) {
	f := newFixture(t, testSecret)
	putStuck(f, "a", time.Minute)
	putStuck(f, "b", time.Minute)

	rec := f.do(t, http.MethodGet, "/health", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d, body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Trace-ID") == "" {
		t.Fatalf("trace id header missing")
	}
	var snap model.HealthSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.QueueCounts.Processing != 2 || snap.HealthScore != 80 || snap.Status != model.HealthHealthy {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestHealth_Unhealthy(t *testing.T) {
	fill := func(f *fixture) {
		for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
			putStuck(f, id, time.Second)
		}
	}

	t.Run("reported in the body with 200 by default", func(t *testing.T) {
		f := newFixture(t, testSecret)
		fill(f)
		rec := f.do(t, http.MethodGet, "/health", nil, false)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		var snap model.HealthSnapshot
		if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if snap.Status != model.HealthUnhealthy || snap.HealthScore != 40 {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	})

	t.Run("503 when the gate is enabled", func(t *testing.T) {
		f := newFixture(t, testSecret, withHealthGate)
		fill(f)
		rec := f.do(t, http.MethodGet, "/health", nil, false)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("want 503, got %d", rec.Code)
		}
	})
}

func TestAdmin_RequiresToken(t *testing.T) {
	f := newFixture(t, testSecret)

	t.Run("missing token is 401", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/admin/force-cleanup", nil, false)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("want 401, got %d", rec.Code)
		}
	})

	t.Run("token signed with another secret is 401", func(t *testing.T) {
		other := api.NewAuthManager("other", time.Minute)
		tok, _ := other.Mint("x")
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/force-cleanup", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("want 401, got %d", rec.Code)
		}
	})

	t.Run("non-admin role is 401", func(t *testing.T) {
		claims := api.AdminClaims{
			Role: "viewer",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
		}
		tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/queue/failed", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("want 401, got %d", rec.Code)
		}
	})

	t.Run("no secret configured is 403", func(t *testing.T) {
		g := newFixture(t, "")
		rec := g.do(t, http.MethodPost, "/api/v1/admin/scan", nil, false)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("want 403, got %d", rec.Code)
		}
	})
}

func TestAdmin_ForceCleanup(t *testing.T) {
	f := newFixture(t, testSecret)
	putStuck(f, "a", time.Second)
	putStuck(f, "b", time.Second)
	putStuck(f, "c", time.Second)

	rec := f.do(t, http.MethodPost, "/api/v1/admin/force-cleanup", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d, body=%s", rec.Code, rec.Body.String())
	}
	var res model.ForceCleanupResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Moved != 3 || res.Errors != 0 {
		t.Fatalf("want {3 0}, got %+v", res)
	}
	if n, _ := f.store.Count(context.Background(), model.StateProcessing); n != 0 {
		t.Fatalf("processing should be empty, has %d", n)
	}
}

func TestAdmin_Scan(t *testing.T) {
	t.Run("dry run leaves the queue alone", func(t *testing.T) {
		f := newFixture(t, testSecret)
		putStuck(f, "old", 3*time.Hour)

		rec := f.do(t, http.MethodPost, "/api/v1/admin/scan?dry_run=true", nil, true)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		var rep model.ScanReport
		if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(rep.Decisions) != 1 || rep.Decisions[0].Action != model.ActionFail || !f.store.Has(model.StateProcessing, "old") {
			t.Fatalf("dry run should plan without moving: %+v", rep)
		}
	})

	t.Run("real scan moves records", func(t *testing.T) {
		f := newFixture(t, testSecret)
		putStuck(f, "old", 3*time.Hour)

		rec := f.do(t, http.MethodPost, "/api/v1/admin/scan", nil, true)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		if !f.store.Has(model.StateFailed, "old") {
			t.Fatalf("record should be in failed")
		}
	})
}

func TestRequests_EnqueueAndList(t *testing.T) {
	f := newFixture(t, testSecret)

	rec := f.do(t, http.MethodPost, "/api/v1/requests", []byte(`{"prompt":"analyze this code","sessionId":"s-1"}`), true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("want 201, got %d, body=%s", rec.Code, rec.Body.String())
	}
	var created model.Record
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/queue/input?limit=10", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	var body struct {
		Items []model.Entry `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].ID != created.ID {
		t.Fatalf("items mismatch: %+v", body.Items)
	}

	t.Run("blank prompt is 422", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/requests", []byte(`{"prompt":"  "}`), true)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("want 422, got %d", rec.Code)
		}
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/requests", []byte(`{`), true)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})

	t.Run("unknown state is 400", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/queue/archive", nil, true)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})
}

func TestAdmin_RequeueFailed(t *testing.T) {
	f := newFixture(t, testSecret)
	f.store.Put(model.StateFailed, "a", []byte(`{}`), time.Now())
	f.store.Put(model.StateFailed, "b", []byte(`{}`), time.Now())

	rec := f.do(t, http.MethodPost, "/api/v1/admin/requeue-failed", []byte(`{"ids":["a"]}`), true)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d, body=%s", rec.Code, rec.Body.String())
	}
	var out map[string]int
	_ = json.NewDecoder(rec.Body).Decode(&out)
	if out["requeued"] != 1 || !f.store.Has(model.StateInput, "a") || !f.store.Has(model.StateFailed, "b") {
		t.Fatalf("unexpected requeue result %v", out)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/admin/requeue-failed", nil, true)
	_ = json.NewDecoder(rec.Body).Decode(&out)
	if out["requeued"] != 1 || !f.store.Has(model.StateInput, "b") {
		t.Fatalf("empty body should requeue the rest, got %v", out)
	}
}

type memHistory struct {
	events []model.TransitionEvent
}

func (m *memHistory) Append(ctx context.Context, ev model.TransitionEvent) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *memHistory) Publish(ctx context.Context, ev model.TransitionEvent) error {
	return m.Append(ctx, ev)
}

func (m *memHistory) Recent(ctx context.Context, limit int) ([]model.TransitionEvent, error) {
	out := make([]model.TransitionEvent, 0, limit)
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.events[i])
	}
	return out, nil
}

func TestAdmin_Transitions(t *testing.T) {
	t.Run("404 when history is off", func(t *testing.T) {
		f := newFixture(t, testSecret)
		rec := f.do(t, http.MethodGet, "/api/v1/admin/transitions", nil, true)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("want 404, got %d", rec.Code)
		}
	})

	t.Run("scan transitions are listed newest first", func(t *testing.T) {
		hist := &memHistory{}
		store := memqueue.New()
		scanner := usecase.NewScannerUseCase(store, policy.Default(), policy.NewClassifier(),
			usecase.ScannerOptions{Sink: hist}, newLogger())
		health := usecase.NewHealthUseCase(store, scanner, newLogger())
		queue := usecase.NewQueueUseCase(store, newLogger()).WithSink(hist)
		auth := api.NewAuthManager(testSecret, time.Minute)
		f := &fixture{
			store:  store,
			router: api.NewServer(scanner, health, queue, auth, newLogger()).WithHistory(hist).Router(),
			auth:   auth,
		}
		putStuck(f, "old", 3*time.Hour)

		if rec := f.do(t, http.MethodPost, "/api/v1/admin/scan", nil, true); rec.Code != http.StatusOK {
			t.Fatalf("scan: %d", rec.Code)
		}
		if rec := f.do(t, http.MethodPost, "/api/v1/admin/requeue-failed", nil, true); rec.Code != http.StatusOK {
			t.Fatalf("requeue: %d", rec.Code)
		}

		rec := f.do(t, http.MethodGet, "/api/v1/admin/transitions?limit=5", nil, true)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		var body struct {
			Items []model.TransitionEvent `json:"items"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Items) != 2 || body.Items[0].Cause != model.CauseRequeue || body.Items[1].Cause != model.CauseFail {
			t.Fatalf("unexpected history %+v", body.Items)
		}

		if rec := f.do(t, http.MethodGet, "/api/v1/admin/transitions?limit=0", nil, true); rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400 for limit=0, got %d", rec.Code)
		}
	})
}
