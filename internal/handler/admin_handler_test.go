package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/donalert/internal/alert"
	"github.com/hitoshi/donalert/internal/model"
	"github.com/hitoshi/donalert/internal/slipverify"
)

func newAdminRouter(h *AdminHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/accounts", h.CreateAccount)
		r.Post("/accounts/{handle}/extend", h.ExtendRental)
		r.Post("/backups", h.Backup)
		r.Post("/backups/restore", h.Restore)
		r.Post("/slips/test", h.TestSlipProvider)
		r.Get("/queue", h.QueueStatus)
		r.Delete("/queue", h.ClearQueue)
	})
	return r
}

func TestCreateAccount_ReturnsPasswordOnce(t *testing.T) {
	var gotDays *int
	accounts := &mockAccountAdmin{
		createFn: func(ctx context.Context, handle string, cfg *model.AccountConfig, rentalDays *int) (*model.Account, string, error) {
			gotDays = rentalDays
			return &model.Account{Handle: handle, Rental: &model.RentalState{IsRental: true, RentalDays: *rentalDays}}, "s3cretPass", nil
		},
	}
	h := NewAdminHandler(AdminDeps{Accounts: accounts}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/accounts", strings.NewReader(`{"handle":" alice ","rental_days":30}`))
	w := httptest.NewRecorder()
	newAdminRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	var resp struct {
		Data createAccountResponse `json:"data"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Data.Handle != "alice" || resp.Data.Password != "s3cretPass" {
		t.Errorf("resp = %+v", resp.Data)
	}
	if gotDays == nil || *gotDays != 30 {
		t.Errorf("rental days = %v", gotDays)
	}
}

func TestCreateAccount_Exists_Returns409(t *testing.T) {
	accounts := &mockAccountAdmin{
		createFn: func(ctx context.Context, handle string, cfg *model.AccountConfig, rentalDays *int) (*model.Account, string, error) {
			return nil, "", model.NewAccountExistsError(handle)
		},
	}
	h := NewAdminHandler(AdminDeps{Accounts: accounts}, testLogger())

	w := httptest.NewRecorder()
	newAdminRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/accounts", strings.NewReader(`{"handle":"alice"}`)))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestExtendRental_PassesDays(t *testing.T) {
	var gotHandle string
	var gotDays int
	accounts := &mockAccountAdmin{
		extendFn: func(ctx context.Context, handle string, days int) (*model.RentalState, error) {
			gotHandle, gotDays = handle, days
			return &model.RentalState{IsRental: true, RentalDays: 30 + days}, nil
		},
	}
	h := NewAdminHandler(AdminDeps{Accounts: accounts}, testLogger())

	w := httptest.NewRecorder()
	newAdminRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/accounts/alice/extend", strings.NewReader(`{"days":7}`)))

	if w.Code != http.StatusOK || gotHandle != "alice" || gotDays != 7 {
		t.Errorf("status = %d, handle = %q, days = %d", w.Code, gotHandle, gotDays)
	}
}

// ハンドル未指定のバックアップは全アカウントが対象になる
func TestBackup_AllOrSingle(t *testing.T) {
	var calls []string
	backups := &mockBackups{
		backupAllFn: func(context.Context) (string, error) {
			calls = append(calls, "all")
			return "full/1.json", nil
		},
		backupAccountFn: func(ctx context.Context, handle string) (string, error) {
			calls = append(calls, handle)
			return "accounts/" + handle + "/1.json", nil
		},
	}
	h := NewAdminHandler(AdminDeps{Backups: backups}, testLogger())
	router := newAdminRouter(h)

	for _, body := range []string{"", `{"handle":"alice"}`} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/backups", strings.NewReader(body)))
		if w.Code != http.StatusCreated {
			t.Errorf("body %q: status = %d", body, w.Code)
		}
	}
	if len(calls) != 2 || calls[0] != "all" || calls[1] != "alice" {
		t.Errorf("calls = %v", calls)
	}
}

func TestRestore_RequiresKey(t *testing.T) {
	h := NewAdminHandler(AdminDeps{Backups: &mockBackups{}}, testLogger())

	w := httptest.NewRecorder()
	newAdminRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/backups/restore", strings.NewReader(`{}`)))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestTestSlipProvider(t *testing.T) {
	h := NewAdminHandler(AdminDeps{Slips: &stubSlipChecker{err: model.NewUpstreamUnavailableError("slipverify")}}, testLogger())
	w := httptest.NewRecorder()
	newAdminRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/slips/test", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}

	h = NewAdminHandler(AdminDeps{Slips: &stubSlipChecker{result: &slipverify.PingResult{StatusCode: 400, Connected: true}}}, testLogger())
	w = httptest.NewRecorder()
	newAdminRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/slips/test", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"connected":true`) {
		t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestQueue_StatusAndClear(t *testing.T) {
	q := &stubQueue{pending: []alert.Item{{Handle: "alice"}, {Handle: "bob"}}}
	h := NewAdminHandler(AdminDeps{Queue: q}, testLogger())
	router := newAdminRouter(h)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/queue", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"state":"idle"`) {
		t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/admin/queue", nil))
	if !strings.Contains(w.Body.String(), `"count":2`) || q.cleared != 2 {
		t.Errorf("body = %s, cleared = %d", w.Body.String(), q.cleared)
	}
}
