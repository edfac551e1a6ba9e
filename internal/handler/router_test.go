package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/hitoshi/donalert/internal/alert"
	"github.com/hitoshi/donalert/internal/donation"
	"github.com/hitoshi/donalert/internal/middleware"
	"github.com/hitoshi/donalert/internal/model"
)

type sessionTable map[string]string

func (s sessionTable) ValidateSession(ctx context.Context, id string) (*model.Session, error) {
	handle, ok := s[id]
	if !ok {
		return nil, model.NewUnauthorizedError()
	}
	return &model.Session{ID: id, Handle: handle, LoginAt: time.Now()}, nil
}

type activeGuard struct {
	expired map[string]bool
}

func (g activeGuard) EnsureActive(ctx context.Context, handle string) (*model.Account, error) {
	if g.expired[handle] {
		return nil, model.NewRentalExpiredError(time.Now().Add(-time.Hour))
	}
	return accountFixture(handle), nil
}

func newTestRouter(t *testing.T, hub *alert.Hub) http.Handler {
	t.Helper()
	l := ledgerFor(accountFixture("alice"), accountFixture("bob"), accountFixture("carol"))
	l.statsFn = func(ctx context.Context, handle string) (model.Stats, error) {
		return model.Stats{TotalDonations: 3}, nil
	}

	limiterCfg := middleware.DefaultRateLimiterConfig()
	limiterCfg.DonateBurst = 2
	rl := middleware.NewRateLimiter(limiterCfg, testLogger())
	t.Cleanup(rl.Stop)

	return NewRouter(&RouterDeps{
		Logger:            testLogger(),
		Sessions:          sessionTable{"sess-alice": "alice", "sess-carol": "carol"},
		Guard:             activeGuard{expired: map[string]bool{"carol": true}},
		AdminToken:        "admin-secret",
		CORSAllowedOrigin: "*",
		RateLimiter:       rl,
		AuthService:       &mockAuthService{},
		LoginRecorder:     &recordedLogins{},
		SessionTTL:        24 * time.Hour,
		Donations: &mockDonationService{
			verifySlipFn: func(ctx context.Context, handle string, req donation.SlipRequest, from donation.Submitter) (*model.Donation, error) {
				return &model.Donation{ID: "d1", Name: req.Name, Amount: 100}, nil
			},
		},
		Ledger:   l,
		URLs:     allowAllURLs(),
		AlertLog: &mockAlertLog{},
		Hub:      hub,
		Admin:    AdminDeps{Queue: &stubQueue{}},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("donalert_donations_total 0\n"))
		}),
	})
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	router := newTestRouter(t, alert.NewHub())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"database":"skipped"`) {
		t.Errorf("health: status = %d, body = %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "donalert_donations_total") {
		t.Errorf("metrics: status = %d", w.Code)
	}
}

func TestRouter_AccountRoutesRequireMatchingActiveSession(t *testing.T) {
	router := newTestRouter(t, alert.NewHub())

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"no token", "/api/accounts/alice/stats", "", http.StatusUnauthorized},
		{"unknown token", "/api/accounts/alice/stats", "nope", http.StatusUnauthorized},
		{"other account", "/api/accounts/bob/stats", "sess-alice", http.StatusUnauthorized},
		{"own account", "/api/accounts/alice/stats", "sess-alice", http.StatusOK},
		{"expired rental", "/api/accounts/carol/stats", "sess-carol", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRouter_AdminRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t, alert.NewHub())

	for _, tc := range []struct {
		token string
		want  int
	}{
		{"", http.StatusUnauthorized},
		{"sess-alice", http.StatusUnauthorized},
		{"admin-secret", http.StatusOK},
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/queue", nil)
		if tc.token != "" {
			req.Header.Set("Authorization", "Bearer "+tc.token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Errorf("token %q: status = %d, want %d", tc.token, w.Code, tc.want)
		}
	}
}

func TestRouter_DonationsAreRateLimited(t *testing.T) {
	router := newTestRouter(t, alert.NewHub())

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/u/alice/verify-slip", strings.NewReader(`{"name":"x","payload":"p"}`))
		req.RemoteAddr = "192.0.2.44:1000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		last = w.Code
		if i < 2 && w.Code != http.StatusCreated {
			t.Fatalf("request %d: status = %d, want 201", i, w.Code)
		}
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", last)
	}
}

func TestRouter_PreflightAllowsAuthorizationHeader(t *testing.T) {
	router := newTestRouter(t, alert.NewHub())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/accounts/alice/stats", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "Authorization") {
		t.Errorf("Allow-Headers = %q", w.Header().Get("Access-Control-Allow-Headers"))
	}
}

type wsTestFrame struct {
	Type   string      `json:"type"`
	Handle string      `json:"handle"`
	Data   model.Alert `json:"data"`
}

func readDisplayFrame(t *testing.T, conn *websocket.Conn) wsTestFrame {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var got wsTestFrame
	if err := json.NewDecoder(conn).Decode(&got); err != nil {
		t.Fatalf("decode server frame: %v", err)
	}
	return got
}

func TestRouter_DisplayWebSocketReceivesAlerts(t *testing.T) {
	hub := alert.NewHub()
	srv := httptest.NewServer(newTestRouter(t, hub))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/alice"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if got := readDisplayFrame(t, conn); got.Type != "connected" || got.Handle != "alice" {
		t.Fatalf("first frame = %+v", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("alice") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("display client did not subscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish("bob", model.Alert{ID: "other"})
	hub.Publish("alice", model.Alert{ID: "d42", Name: "Bob", Amount: 100})

	got := readDisplayFrame(t, conn)
	if got.Type != "donation" || got.Data.ID != "d42" || got.Data.Amount != 100 {
		t.Errorf("frame = %+v", got)
	}
}

func TestRouter_DisplayUnknownAccount_Returns404(t *testing.T) {
	router := newTestRouter(t, alert.NewHub())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws/nobody", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
