package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/snaplinkhq/snaplink/internal/model"
	"github.com/snaplinkhq/snaplink/internal/service"
	"github.com/snaplinkhq/snaplink/internal/store"
)

func newTestStack(t *testing.T, dailyLimit, keyRPM int) (*service.AuthService, *service.Quota, *service.Recorder, *store.Store) {
	t.Helper()
	st, err := store.NewStore("") // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	auth := service.NewAuthService(st, "test-secret", dailyLimit, keyRPM)
	quota := service.NewQuota(st)
	recorder := service.NewRecorder(st, quota, model.UsageLogCap)
	return auth, quota, recorder, st
}

func issueTestKey(t *testing.T, auth *service.AuthService) (int64, string) {
	t.Helper()
	u, err := auth.Register(context.Background(), "alice", "alice@example.com", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, plaintext, err := auth.IssueKey(context.Background(), u.ID, "test")
	if err != nil {
		t.Fatalf("IssueKey: %v", err)
	}
	return u.ID, plaintext
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeEnvelope(t *testing.T, body *bytes.Buffer) model.Response {
	t.Helper()
	var env model.Response
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestExtractAPIKey(t *testing.T) {
	// Header.
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("X-API-Key", "from-header")
	if got := ExtractAPIKey(r); got != "from-header" {
		t.Errorf("header: got %q", got)
	}

	// Header wins over query.
	r = httptest.NewRequest(http.MethodGet, "/x?apiKey=from-query", nil)
	r.Header.Set("X-API-Key", "from-header")
	if got := ExtractAPIKey(r); got != "from-header" {
		t.Errorf("precedence: got %q", got)
	}

	// Query.
	r = httptest.NewRequest(http.MethodGet, "/x?apiKey=from-query", nil)
	if got := ExtractAPIKey(r); got != "from-query" {
		t.Errorf("query: got %q", got)
	}

	// JSON body.
	r = httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"apiKey":"from-body","to":"bob"}`))
	r.Header.Set("Content-Type", "application/json")
	if got := ExtractAPIKey(r); got != "from-body" {
		t.Errorf("body: got %q", got)
	}
	// The body is restored for downstream handlers.
	rest, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("read restored body: %v", err)
	}
	if !strings.Contains(string(rest), `"to":"bob"`) {
		t.Errorf("restored body %q lost content", rest)
	}

	// Non-JSON body is not consumed.
	r = httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("raw bytes"))
	if got := ExtractAPIKey(r); got != "" {
		t.Errorf("non-json body: got %q", got)
	}
	rest, _ = io.ReadAll(r.Body)
	if string(rest) != "raw bytes" {
		t.Errorf("non-json body was consumed: %q", rest)
	}
}

func TestRequireAPIKeyMissing(t *testing.T) {
	auth, quota, recorder, _ := newTestStack(t, 100, 60)
	mw := RequireAPIKey(auth, quota, recorder, NewKeyRateLimiter(), discardLogger())
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler reached without a key")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", rec.Code)
	}
	env := decodeEnvelope(t, rec.Body)
	if env.Success {
		t.Error("success should be false")
	}
	if env.Error != "MissingApiKey" {
		t.Errorf("got error %q, want MissingApiKey", env.Error)
	}
}

func TestRequireAPIKeyInvalid(t *testing.T) {
	auth, quota, recorder, _ := newTestStack(t, 100, 60)
	mw := RequireAPIKey(auth, quota, recorder, NewKeyRateLimiter(), discardLogger())
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler reached with a bogus key")
	}))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("X-API-Key", "sk_totally_bogus")
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", rec.Code)
	}
	if env := decodeEnvelope(t, rec.Body); env.Error != "InvalidApiKey" {
		t.Errorf("got error %q, want InvalidApiKey", env.Error)
	}
}

func TestRequireAPIKeyAdmitsAndRecords(t *testing.T) {
	auth, quota, recorder, st := newTestStack(t, 100, 60)
	userID, plaintext := issueTestKey(t, auth)

	var sawPrincipal bool
	mw := RequireAPIKey(auth, quota, recorder, NewKeyRateLimiter(), discardLogger())
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipal(r.Context())
		if p == nil || p.User.ID != userID {
			t.Error("principal missing or wrong user")
		}
		sawPrincipal = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/media/youtube", nil)
	r.Header.Set("X-API-Key", plaintext)
	r.Header.Set("User-Agent", "curl/8.0")
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	if !sawPrincipal {
		t.Fatal("handler never ran")
	}

	entries, err := st.ListUsageByUser(context.Background(), userID, 10)
	if err != nil {
		t.Fatalf("ListUsageByUser: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d usage entries, want 1", len(entries))
	}
	if entries[0].Endpoint != "/api/v1/media/youtube" {
		t.Errorf("recorded endpoint %q", entries[0].Endpoint)
	}
	if entries[0].UserAgent != "curl/8.0" {
		t.Errorf("recorded user agent %q", entries[0].UserAgent)
	}

	u, _ := st.GetUser(context.Background(), userID)
	if u.RequestsToday != 1 {
		t.Errorf("got requests_today %d, want 1", u.RequestsToday)
	}
}

func TestRequireAPIKeyQuotaExceeded(t *testing.T) {
	auth, quota, recorder, _ := newTestStack(t, 1, 60)
	_, plaintext := issueTestKey(t, auth)

	mw := RequireAPIKey(auth, quota, recorder, NewKeyRateLimiter(), discardLogger())
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// First request is admitted.
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("X-API-Key", plaintext)
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: got status %d, want 200", rec.Code)
	}

	// Second request is over the limit.
	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("X-API-Key", plaintext)
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got status %d, want 429", rec.Code)
	}

	var env struct {
		Success bool              `json:"success"`
		Error   string            `json:"error"`
		Data    model.QuotaStatus `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode 429 body: %v", err)
	}
	if env.Error != "QuotaExceeded" {
		t.Errorf("got error %q, want QuotaExceeded", env.Error)
	}
	if env.Data.Used != 1 || env.Data.Limit != 1 {
		t.Errorf("got used=%d limit=%d, want 1/1", env.Data.Used, env.Data.Limit)
	}
	if env.Data.Date != store.Today() {
		t.Errorf("got date %q, want today", env.Data.Date)
	}
}

func TestRequireAPIKeyRateLimited(t *testing.T) {
	auth, quota, recorder, st := newTestStack(t, 100, 2)
	aliceID, aliceKey := issueTestKey(t, auth)

	bob, err := auth.Register(context.Background(), "bob", "bob@example.com", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, bobKey, err := auth.IssueKey(context.Background(), bob.ID, "test")
	if err != nil {
		t.Fatalf("IssueKey: %v", err)
	}

	mw := RequireAPIKey(auth, quota, recorder, NewKeyRateLimiter(), discardLogger())
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(key string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/x", nil)
		r.Header.Set("X-API-Key", key)
		h.ServeHTTP(rec, r)
		return rec
	}

	// Two requests fit inside alice's window, the third does not.
	for i := 0; i < 2; i++ {
		if rec := send(aliceKey); rec.Code != http.StatusOK {
			t.Fatalf("request %d: got status %d, want 200", i+1, rec.Code)
		}
	}
	rec := send(aliceKey)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: got status %d, want 429", rec.Code)
	}
	if env := decodeEnvelope(t, rec.Body); env.Error != "RateLimitExceeded" {
		t.Errorf("got error %q, want RateLimitExceeded", env.Error)
	}

	// Alice exhausting her window does not touch bob's.
	if rec := send(bobKey); rec.Code != http.StatusOK {
		t.Errorf("other key: got status %d, want 200", rec.Code)
	}

	// The denied request consumed neither quota nor a usage entry.
	u, _ := st.GetUser(context.Background(), aliceID)
	if u.RequestsToday != 2 {
		t.Errorf("got requests_today %d, want 2", u.RequestsToday)
	}
	entries, _ := st.ListUsageByUser(context.Background(), aliceID, 10)
	if len(entries) != 2 {
		t.Errorf("got %d usage entries, want 2", len(entries))
	}
}

func TestRateLimitByKeySeparatesKeys(t *testing.T) {
	h := RateLimitByKey(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(key string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/x", nil)
		if key != "" {
			r.Header.Set("X-API-Key", key)
		}
		h.ServeHTTP(rec, r)
		return rec
	}

	if rec := send("sk_first"); rec.Code != http.StatusOK {
		t.Fatalf("first: got status %d, want 200", rec.Code)
	}
	if rec := send("sk_first"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("repeat: got status %d, want 429", rec.Code)
	}
	// A different key has its own bucket.
	if rec := send("sk_second"); rec.Code != http.StatusOK {
		t.Errorf("other key: got status %d, want 200", rec.Code)
	}
	// So does the keyless fallback, which buckets by IP.
	if rec := send(""); rec.Code != http.StatusOK {
		t.Errorf("no key: got status %d, want 200", rec.Code)
	}
}

func TestRequireAPIKeyRecordsIPv6Address(t *testing.T) {
	auth, quota, recorder, st := newTestStack(t, 100, 60)
	userID, plaintext := issueTestKey(t, auth)

	mw := RequireAPIKey(auth, quota, recorder, NewKeyRateLimiter(), discardLogger())
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("X-API-Key", plaintext)
	r.RemoteAddr = "[::1]:8080"
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}

	entries, err := st.ListUsageByUser(context.Background(), userID, 10)
	if err != nil {
		t.Fatalf("ListUsageByUser: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d usage entries, want 1", len(entries))
	}
	if entries[0].IP != "::1" {
		t.Errorf("recorded ip %q, want ::1", entries[0].IP)
	}
}

func TestRequireUser(t *testing.T) {
	auth, _, _, _ := newTestStack(t, 100, 60)
	ctx := context.Background()

	u, err := auth.Register(ctx, "alice", "alice@example.com", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, token, err := auth.Login(ctx, "alice@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	mw := RequireUser(auth)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := GetUser(r.Context())
		if got == nil || got.ID != u.ID {
			t.Error("user missing from context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	// No token.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: got status %d, want 401", rec.Code)
	}

	// Bogus token.
	rec = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("Authorization", "Bearer not.a.token")
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bogus token: got status %d, want 401", rec.Code)
	}

	// Valid token.
	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token: got status %d, want 200", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Regular user is forbidden.
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r = r.WithContext(context.WithValue(r.Context(), UserKey, &model.User{Role: model.RoleUser}))
	RequireAdmin(next).ServeHTTP(rec, r)
	if rec.Code != http.StatusForbidden {
		t.Errorf("user role: got status %d, want 403", rec.Code)
	}

	// Admin passes.
	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/x", nil)
	r = r.WithContext(context.WithValue(r.Context(), UserKey, &model.User{Role: model.RoleAdmin}))
	RequireAdmin(next).ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Errorf("admin role: got status %d, want 200", rec.Code)
	}
}

func TestRequestIDAssigned(t *testing.T) {
	var ctxID string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	headerID := rec.Header().Get("X-Request-ID")
	if headerID == "" {
		t.Fatal("no X-Request-ID header set")
	}
	if ctxID != headerID {
		t.Errorf("context ID %q differs from header %q", ctxID, headerID)
	}

	// A caller-supplied UUID passes through.
	callerID := "018f4e2a-9d1c-7a6b-8a3d-111122223333"
	rec = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("X-Request-ID", callerID)
	h.ServeHTTP(rec, r)
	if got := rec.Header().Get("X-Request-ID"); got != callerID {
		t.Errorf("got %q, want %q", got, callerID)
	}

	// A malformed caller value is replaced.
	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("X-Request-ID", "not a uuid")
	h.ServeHTTP(rec, r)
	got := rec.Header().Get("X-Request-ID")
	if got == "" || got == "not a uuid" {
		t.Errorf("malformed caller ID not replaced: %q", got)
	}
}
