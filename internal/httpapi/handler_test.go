package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"skipline/internal/models"
	"skipline/internal/notify"
	"skipline/internal/store"
	"skipline/internal/store/memory"
	"skipline/internal/ticketing"
)

const (
	ownerToken = "owner-session"
	otherToken = "other-session"
)

type testServer struct {
	handler http.Handler
	store   *memory.Store
}

func newTestServer(t *testing.T, options Options) testServer {
	t.Helper()
	st := memory.New()
	st.AddSession(store.Session{SessionID: ownerToken, UserID: "owner-1", Role: "owner"})
	st.AddSession(store.Session{SessionID: otherToken, UserID: "owner-2", Role: "owner"})
	svc := ticketing.New(st, st, notify.Discard, ticketing.Options{FrontendURL: "https://skipline.example"})
	handler := NewHandler(svc, options)
	return testServer{handler: AuthMiddleware(st, handler.Routes()), store: st}
}

func (s testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-1")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(target); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func (s testServer) createQueue(t *testing.T, token string) models.Queue {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/admin/queues", token, map[string]interface{}{
		"name":               "Dental Clinic",
		"category":           "clinic",
		"max_capacity":       10,
		"per_person_minutes": 5,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create queue: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var queue models.Queue
	decode(t, rec, &queue)
	return queue
}

func (s testServer) join(t *testing.T, queueID, name, phone string) models.Entry {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/queues/"+queueID+"/join", "", map[string]string{
		"holder_name": name,
		"phone":       phone,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("join: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var entry models.Entry
	decode(t, rec, &entry)
	return entry
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, Options{})
	if rec := srv.do(t, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/healthz", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestAdminRoutesRequireSession(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := srv.do(t, http.MethodPost, "/api/admin/queues", "", map[string]string{"name": "Bakery"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = srv.do(t, http.MethodPost, "/api/admin/queues", "expired", map[string]string{"name": "Bakery"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown session, got %d", rec.Code)
	}
	var resp errorResponse
	decode(t, rec, &resp)
	if resp.RequestID != "req-1" || resp.Error.Code != "unauthorized" {
		t.Fatalf("unexpected error body: %+v", resp)
	}
}

func TestJoinCallAndServeFlow(t *testing.T) {
	srv := newTestServer(t, Options{})
	queue := srv.createQueue(t, ownerToken)

	first := srv.join(t, queue.QueueID, "Alice", "5550000001")
	second := srv.join(t, queue.QueueID, "Bob", "5550000002")
	if first.Position != 1 || second.Position != 2 {
		t.Fatalf("expected positions 1 and 2, got %d and %d", first.Position, second.Position)
	}
	if second.EstimatedWait != 5 {
		t.Fatalf("expected estimated wait 5, got %d", second.EstimatedWait)
	}

	rec := srv.do(t, http.MethodGet, "/api/queues/"+queue.QueueID+"/position/5550000002", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("position: expected 200, got %d", rec.Code)
	}
	var pos ticketing.Position
	decode(t, rec, &pos)
	if pos.PeopleAhead != 1 || pos.DisplayWait != 5 {
		t.Fatalf("expected 1 ahead and 5 minutes, got %+v", pos)
	}

	rec = srv.do(t, http.MethodPost, "/api/admin/queues/"+queue.QueueID+"/call-next", ownerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("call-next: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var called models.Entry
	decode(t, rec, &called)
	if called.EntryID != first.EntryID || called.Status != models.StatusCalled {
		t.Fatalf("expected first entry called, got %+v", called)
	}

	rec = srv.do(t, http.MethodPost, "/api/admin/entries/"+first.EntryID+"/served", ownerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("served: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = srv.do(t, http.MethodGet, "/api/admin/queues/"+queue.QueueID+"/stats", ownerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", rec.Code)
	}
	var stats store.Stats
	decode(t, rec, &stats)
	if stats.Served != 1 || stats.Waiting != 1 || stats.CurrentServingPosition != 1 || stats.TotalServed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	rec = srv.do(t, http.MethodGet, "/api/admin/entries/"+first.EntryID+"/history", ownerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", rec.Code)
	}
	var history ticketing.History
	decode(t, rec, &history)
	if !history.Verified || len(history.Events) != 3 {
		t.Fatalf("expected 3 verified events, got %+v", history)
	}

	rec = srv.do(t, http.MethodGet, "/api/queues/"+queue.QueueID, "", nil)
	var detail queueDetail
	decode(t, rec, &detail)
	if detail.Waiting != 1 || detail.Called != 0 {
		t.Fatalf("unexpected queue detail: %+v", detail)
	}
}

func TestDuplicateJoinReturnsExistingEntry(t *testing.T) {
	srv := newTestServer(t, Options{})
	queue := srv.createQueue(t, ownerToken)
	entry := srv.join(t, queue.QueueID, "Alice", "5550000001")

	rec := srv.do(t, http.MethodPost, "/api/queues/"+queue.QueueID+"/join", "", map[string]string{
		"holder_name": "Alice",
		"phone":       "5550000001",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var resp errorResponse
	decode(t, rec, &resp)
	if resp.Error.Code != "already_in_queue" {
		t.Fatalf("expected already_in_queue, got %q", resp.Error.Code)
	}
	if resp.Entry == nil || resp.Entry.EntryID != entry.EntryID {
		t.Fatalf("expected existing entry in body, got %+v", resp.Entry)
	}
}

func TestJoinValidation(t *testing.T) {
	srv := newTestServer(t, Options{})
	queue := srv.createQueue(t, ownerToken)

	cases := []struct {
		name string
		body interface{}
		code string
	}{
		{name: "short phone", body: map[string]string{"holder_name": "Alice", "phone": "555"}, code: "invalid_request"},
		{name: "short name", body: map[string]string{"holder_name": "A", "phone": "5550000001"}, code: "invalid_request"},
		{name: "unknown field", body: map[string]string{"holder_name": "Alice", "phone": "5550000001", "vip": "yes"}, code: "invalid_json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/api/queues/"+queue.QueueID+"/join", "", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			var resp errorResponse
			decode(t, rec, &resp)
			if resp.Error.Code != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, resp.Error.Code)
			}
			if resp.Error.Message == "" {
				t.Fatalf("expected a message")
			}
		})
	}
}

func TestJoinUnknownAndInactiveQueue(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := srv.do(t, http.MethodPost, "/api/queues/6f1c1d8e-52b7-4d8f-9a55-3c0f7b2f7d11/join", "", map[string]string{
		"holder_name": "Alice",
		"phone":       "5550000001",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	queue := srv.createQueue(t, ownerToken)
	if rec := srv.do(t, http.MethodDelete, "/api/admin/queues/"+queue.QueueID, ownerToken, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("deactivate: expected 204, got %d", rec.Code)
	}
	rec = srv.do(t, http.MethodPost, "/api/queues/"+queue.QueueID+"/join", "", map[string]string{
		"holder_name": "Alice",
		"phone":       "5550000001",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestOwnerChecks(t *testing.T) {
	srv := newTestServer(t, Options{})
	queue := srv.createQueue(t, ownerToken)
	entry := srv.join(t, queue.QueueID, "Alice", "5550000001")

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/admin/queues/" + queue.QueueID + "/call-next"},
		{http.MethodGet, "/api/admin/queues/" + queue.QueueID + "/entries"},
		{http.MethodGet, "/api/admin/queues/" + queue.QueueID + "/stats"},
		{http.MethodGet, "/api/admin/queues/" + queue.QueueID + "/join-url"},
		{http.MethodPost, "/api/admin/entries/" + entry.EntryID + "/skip-to"},
		{http.MethodGet, "/api/admin/entries/" + entry.EntryID + "/history"},
	}
	for _, p := range paths {
		rec := srv.do(t, p.method, p.path, otherToken, nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403, got %d", p.method, p.path, rec.Code)
		}
	}
}

func TestCallNextNothingWaiting(t *testing.T) {
	srv := newTestServer(t, Options{})
	queue := srv.createQueue(t, ownerToken)
	rec := srv.do(t, http.MethodPost, "/api/admin/queues/"+queue.QueueID+"/call-next", ownerToken, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var resp errorResponse
	decode(t, rec, &resp)
	if resp.Error.Code != "nothing_waiting" {
		t.Fatalf("expected nothing_waiting, got %s", resp.Error.Code)
	}
}

func TestServeWaitingEntryIsInvalidTransition(t *testing.T) {
	srv := newTestServer(t, Options{})
	queue := srv.createQueue(t, ownerToken)
	entry := srv.join(t, queue.QueueID, "Alice", "5550000001")
	rec := srv.do(t, http.MethodPost, "/api/admin/entries/"+entry.EntryID+"/served", ownerToken, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestLeaveQueue(t *testing.T) {
	srv := newTestServer(t, Options{})
	queue := srv.createQueue(t, ownerToken)
	entry := srv.join(t, queue.QueueID, "Alice", "5550000001")

	rec := srv.do(t, http.MethodDelete, "/api/queues/"+queue.QueueID+"/entries/"+entry.EntryID, "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = srv.do(t, http.MethodGet, "/api/queues/"+queue.QueueID+"/position/5550000001", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after leaving, got %d", rec.Code)
	}
	rec = srv.do(t, http.MethodDelete, "/api/queues/"+queue.QueueID+"/entries/"+entry.EntryID, "", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second cancel, got %d", rec.Code)
	}
}

func TestUpdateQueue(t *testing.T) {
	srv := newTestServer(t, Options{})
	queue := srv.createQueue(t, ownerToken)
	rec := srv.do(t, http.MethodPut, "/api/admin/queues/"+queue.QueueID, ownerToken, map[string]interface{}{
		"per_person_minutes": 12,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var updated models.Queue
	decode(t, rec, &updated)
	if updated.PerPersonMinutes != 12 || updated.Name != queue.Name {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	rec = srv.do(t, http.MethodPut, "/api/admin/queues/"+queue.QueueID, ownerToken, map[string]interface{}{
		"max_capacity": 5000,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for capacity out of range, got %d", rec.Code)
	}
}

func TestJoinURL(t *testing.T) {
	srv := newTestServer(t, Options{})
	queue := srv.createQueue(t, ownerToken)
	rec := srv.do(t, http.MethodGet, "/api/admin/queues/"+queue.QueueID+"/join-url", ownerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	want := "https://skipline.example/queue/" + queue.QueueID + "/join"
	if body["join_url"] != want {
		t.Fatalf("expected %s, got %s", want, body["join_url"])
	}
}

func TestSignedInJoinCarriesUserID(t *testing.T) {
	srv := newTestServer(t, Options{})
	queue := srv.createQueue(t, ownerToken)
	rec := srv.do(t, http.MethodPost, "/api/queues/"+queue.QueueID+"/join", otherToken, map[string]string{
		"holder_name": "Bob",
		"phone":       "5550000002",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var entry models.Entry
	decode(t, rec, &entry)
	if entry.UserID != "owner-2" {
		t.Fatalf("expected user id from session, got %q", entry.UserID)
	}
}

func TestSubscriptionRoutes(t *testing.T) {
	srv := newTestServer(t, Options{VAPIDPublicKey: "BPublicKey"})

	rec := srv.do(t, http.MethodGet, "/api/notifications/vapid-public-key", "", nil)
	var key map[string]string
	decode(t, rec, &key)
	if rec.Code != http.StatusOK || key["public_key"] != "BPublicKey" {
		t.Fatalf("unexpected vapid response: %d %v", rec.Code, key)
	}

	body := map[string]interface{}{
		"endpoint": "https://push.example/abc",
		"keys":     map[string]string{"p256dh": "p", "auth": "a"},
	}
	if rec := srv.do(t, http.MethodPost, "/api/notifications/subscribe", "", body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/api/notifications/subscribe", otherToken, body); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d (%s)", rec.Code, rec.Body.String())
	}
	sub, err := srv.store.GetSubscription(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "owner-2")
	if err != nil {
		t.Fatalf("subscription not stored: %v", err)
	}
	if sub.Channel != notify.UserChannel("owner-2") {
		t.Fatalf("expected default channel, got %q", sub.Channel)
	}

	if rec := srv.do(t, http.MethodPost, "/api/notifications/unsubscribe", otherToken, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/api/notifications/unsubscribe", otherToken, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing subscription, got %d", rec.Code)
	}
}

func TestVAPIDKeyUnconfigured(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := srv.do(t, http.MethodGet, "/api/notifications/vapid-public-key", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestIsPublicEndpoint(t *testing.T) {
	cases := []struct {
		method string
		path   string
		public bool
	}{
		{http.MethodGet, "/healthz", true},
		{http.MethodGet, "/metrics", true},
		{http.MethodGet, "/api/queues", true},
		{http.MethodGet, "/api/queues/q1/position/5550000001", true},
		{http.MethodPost, "/api/queues/q1/join", true},
		{http.MethodDelete, "/api/queues/q1/entries/e1", true},
		{http.MethodPut, "/api/queues/q1", false},
		{http.MethodPost, "/api/admin/queues", false},
		{http.MethodPost, "/api/notifications/subscribe", false},
		{http.MethodGet, "/api/notifications/vapid-public-key", true},
		{http.MethodOptions, "/api/admin/queues", true},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if got := isPublicEndpoint(req); got != tc.public {
			t.Fatalf("%s %s: expected %v, got %v", tc.method, tc.path, tc.public, got)
		}
	}
}

func TestTokenLimiterRefills(t *testing.T) {
	limiter := newTokenLimiter(60, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	if !limiter.allow("k") || !limiter.allow("k") {
		t.Fatalf("expected burst of 2 to pass")
	}
	if limiter.allow("k") {
		t.Fatalf("expected third request to be limited")
	}
	now = now.Add(time.Second)
	if !limiter.allow("k") {
		t.Fatalf("expected refill after one second")
	}
	if !limiter.allow("other") {
		t.Fatalf("expected independent bucket per key")
	}
}

func TestTokenLimiterEvictsIdleKeys(t *testing.T) {
	limiter := newTokenLimiter(60, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.allow("a")
	limiter.allow("b")
	if len(limiter.entries) != 2 {
		t.Fatalf("expected 2 tracked keys, got %d", len(limiter.entries))
	}
	now = now.Add(2 * time.Minute)
	limiter.allow("b")
	if _, ok := limiter.entries["a"]; ok {
		t.Fatalf("expected idle key to be evicted")
	}
	if len(limiter.entries) != 1 {
		t.Fatalf("expected 1 tracked key, got %d", len(limiter.entries))
	}
}

func TestRateLimiterKeysByQueue(t *testing.T) {
	const (
		queueA = "6f1c2a4e-8b3d-4f5a-9c7e-1d2b3a4c5e6f"
		queueB = "0a9b8c7d-6e5f-4a3b-8c2d-1e0f9a8b7c6d"
	)
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1000, IPBurst: 1000, QueuePerMinute: 1, QueueBurst: 1})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := limiter.Middleware(next)

	send := func(method, path, token string) int {
		req := httptest.NewRequest(method, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := send(http.MethodGet, "/api/queues/"+queueA, ""); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := send(http.MethodPost, "/api/queues/"+queueA+"/join", ""); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for same queue, got %d", code)
	}
	if code := send(http.MethodGet, "/api/queues/"+queueB, ""); code != http.StatusOK {
		t.Fatalf("expected 200 for another queue, got %d", code)
	}
	if code := send(http.MethodGet, "/api/queues", ""); code != http.StatusOK {
		t.Fatalf("expected listing to skip queue limit, got %d", code)
	}
}

func TestRateLimiterOwnerNotStarvedByPublicTraffic(t *testing.T) {
	const queueID = "6f1c2a4e-8b3d-4f5a-9c7e-1d2b3a4c5e6f"
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1000, IPBurst: 1000, QueuePerMinute: 1, QueueBurst: 1})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := limiter.Middleware(next)

	send := func(method, path, token string) int {
		req := httptest.NewRequest(method, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	for i := 0; i < 5; i++ {
		send(http.MethodGet, "/api/queues/"+queueID+"/position/5550000001", "")
	}
	if code := send(http.MethodGet, "/api/queues/"+queueID, ""); code != http.StatusTooManyRequests {
		t.Fatalf("expected public bucket to be exhausted, got %d", code)
	}
	if code := send(http.MethodPost, "/api/admin/queues/"+queueID+"/call-next", ownerToken); code != http.StatusOK {
		t.Fatalf("expected owner call-next to pass, got %d", code)
	}
	if code := send(http.MethodPost, "/api/admin/queues/"+queueID+"/call-next", otherToken); code != http.StatusOK {
		t.Fatalf("expected a second session to get its own bucket, got %d", code)
	}
	if code := send(http.MethodPost, "/api/admin/queues/"+queueID+"/call-next", ownerToken); code != http.StatusTooManyRequests {
		t.Fatalf("expected owner bucket to limit repeat calls, got %d", code)
	}
}

func TestRateLimiterIgnoresNonUUIDQueueIDs(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1000, IPBurst: 1000, QueuePerMinute: 1, QueueBurst: 1})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := limiter.Middleware(next)

	for _, path := range []string{"/api/queues/q1", "/api/queues/q2/join", "/api/admin/queues/not-a-uuid/stats"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
	if n := len(limiter.queueLimiter.entries) + len(limiter.ownerLimiter.entries); n != 0 {
		t.Fatalf("expected no queue buckets for invalid ids, got %d", n)
	}
}

func TestMapErrorInternal(t *testing.T) {
	status, code, _ := mapError(&store.InternalError{Op: "join", Err: http.ErrHandlerTimeout})
	if status != http.StatusInternalServerError || code != "internal_error" {
		t.Fatalf("expected internal error mapping, got %d %s", status, code)
	}
}
