package ledger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/ecolocal/eco-api/internal/middleware"
	"github.com/ecolocal/eco-api/internal/pkg/jwt"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func newTestRouter(t *testing.T) (http.Handler, *Service, *jwt.Service) {
	t.Helper()
	svc, _ := newTestService(t)
	h := NewHandler(svc)
	jwtSvc := jwt.NewService("ledger-test-secret", time.Hour)

	r := chi.NewRouter()
	r.Mount("/api/v1/ledger", h.Routes(middleware.Auth(jwtSvc)))
	r.Mount("/api/admin/ledger", h.AdminRoutes(middleware.Auth(jwtSvc)))
	return r, svc, jwtSvc
}

func doRequest(t *testing.T, h http.Handler, token, method, path string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp apiResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestBalanceEndpointSelfAndAdmin(t *testing.T) {
	router, svc, jwtSvc := newTestRouter(t)
	_, err := svc.Append(t.Context(), mint("m1", "alice", 15))
	require.NoError(t, err)

	alice, _ := jwtSvc.GenerateAccessToken("alice", jwt.RoleParticipant, "")
	bob, _ := jwtSvc.GenerateAccessToken("bob", jwt.RoleParticipant, "")
	admin, _ := jwtSvc.GenerateAccessToken("ops", jwt.RoleAdmin, "")

	w, resp := doRequest(t, router, alice, http.MethodGet, "/api/v1/ledger/alice/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.EqualValues(t, 15, data.Balance)

	w, _ = doRequest(t, router, alice, http.MethodGet, "/api/v1/ledger/me/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = doRequest(t, router, bob, http.MethodGet, "/api/v1/ledger/alice/balance", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w, _ = doRequest(t, router, admin, http.MethodGet, "/api/v1/ledger/alice/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAdminAppendAndSettle(t *testing.T) {
	router, svc, jwtSvc := newTestRouter(t)
	admin, _ := jwtSvc.GenerateAccessToken("ops", jwt.RoleAdmin, "")
	participant, _ := jwtSvc.GenerateAccessToken("alice", jwt.RoleParticipant, "")

	body := map[string]interface{}{
		"id":        "adj-1",
		"amount":    20,
		"kind":      "MINT_ACTION",
		"status":    "pending",
		"actor_ref": "alice",
	}

	w, _ := doRequest(t, router, participant, http.MethodPost, "/api/admin/ledger/entries", body)
	require.Equal(t, http.StatusForbidden, w.Code)

	w, _ = doRequest(t, router, admin, http.MethodPost, "/api/admin/ledger/entries", body)
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = doRequest(t, router, admin, http.MethodPost, "/api/admin/ledger/entries", body)
	require.Equal(t, http.StatusOK, w.Code)

	body["amount"] = 21
	w, resp := doRequest(t, router, admin, http.MethodPost, "/api/admin/ledger/entries", body)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "IDEMPOTENCY_CONFLICT", resp.Error.Code)

	w, _ = doRequest(t, router, admin, http.MethodPost, "/api/admin/ledger/entries/adj-1/status", map[string]string{"status": "settled"})
	require.Equal(t, http.StatusOK, w.Code)

	balance, err := svc.Balance(t.Context(), "alice")
	require.NoError(t, err)
	require.EqualValues(t, 20, balance)

	w, _ = doRequest(t, router, admin, http.MethodPost, "/api/admin/ledger/entries/adj-1/status", map[string]string{"status": "failed"})
	require.Equal(t, http.StatusConflict, w.Code)

	w, _ = doRequest(t, router, admin, http.MethodPost, "/api/admin/ledger/entries/missing/status", map[string]string{"status": "settled"})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminAppendValidation(t *testing.T) {
	router, _, jwtSvc := newTestRouter(t)
	admin, _ := jwtSvc.GenerateAccessToken("ops", jwt.RoleAdmin, "")

	w, _ := doRequest(t, router, admin, http.MethodPost, "/api/admin/ledger/entries", map[string]interface{}{
		"id":        "bad",
		"amount":    -1,
		"kind":      "GIFT",
		"actor_ref": "alice",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestActivityEndpoint(t *testing.T) {
	router, svc, jwtSvc := newTestRouter(t)
	_, err := svc.Append(t.Context(), mint("m1", "alice", 10))
	require.NoError(t, err)

	alice, _ := jwtSvc.GenerateAccessToken("alice", jwt.RoleParticipant, "")
	w, resp := doRequest(t, router, alice, http.MethodGet, "/api/v1/ledger/alice/activity?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var act Activity
	require.NoError(t, json.Unmarshal(resp.Data, &act))
	require.Len(t, act.Items, 1)
	require.EqualValues(t, 10, act.Summary.Net)

	w, _ = doRequest(t, router, alice, http.MethodGet, "/api/v1/ledger/alice/activity?limit=zero", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminCannotAppendSpend(t *testing.T) {
	router, svc, jwtSvc := newTestRouter(t)
	admin, _ := jwtSvc.GenerateAccessToken("ops", jwt.RoleAdmin, "")

	w, resp := doRequest(t, router, admin, http.MethodPost, "/api/admin/ledger/entries", map[string]interface{}{
		"id":        "c1",
		"amount":    500,
		"kind":      "CONTRIBUTE",
		"actor_ref": "alice",
	})
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "SPEND_REQUIRES_REDEMPTION", resp.Error.Code)

	balance, err := svc.Balance(t.Context(), "alice")
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestBusinessActivityEndpoint(t *testing.T) {
	svc, store := newTestService(t)
	jwtSvc := jwt.NewService("ledger-test-secret", time.Hour)
	r := chi.NewRouter()
	r.Mount("/api/v1/ledger", NewHandler(svc).Routes(middleware.Auth(jwtSvc)))

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	visit := mint("m1", "alice", 18)
	visit.CounterpartyRef = Ref("cafe")
	visit.OccurredAt = &base
	_, err := svc.Append(t.Context(), visit)
	require.NoError(t, err)

	later := base.Add(time.Hour)
	spend := burn("b1", "alice", 12)
	spend.CounterpartyRef = Ref("cafe")
	spend.OfferID = Ref("coffee")
	spend.OccurredAt = &later
	spend.Normalize()
	_, err = store.Append(t.Context(), spend)
	require.NoError(t, err)

	elsewhere := mint("m2", "alice", 4)
	elsewhere.CounterpartyRef = Ref("bakery")
	_, err = svc.Append(t.Context(), elsewhere)
	require.NoError(t, err)

	owner, _ := jwtSvc.GenerateAccessToken("owner-1", jwt.RoleBusiness, "cafe")
	w, resp := doRequest(t, r, owner, http.MethodGet, "/api/v1/ledger/business/me/activity", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var act BusinessActivity
	require.NoError(t, json.Unmarshal(resp.Data, &act))
	require.Equal(t, "cafe", act.BusinessRef)
	require.Equal(t, BusinessSummary{Rewarded: 18, Redeemed: 12}, act.Summary)
	require.Len(t, act.Items, 2)
	require.Equal(t, "b1", act.Items[0].ID)
	require.Equal(t, "redeemed", act.Items[0].Direction)
	require.Equal(t, "alice", act.Items[0].ActorRef)
	require.Equal(t, "rewarded", act.Items[1].Direction)

	w, resp = doRequest(t, r, owner, http.MethodGet, "/api/v1/ledger/business/cafe/activity?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &act))
	require.Len(t, act.Items, 1)
	require.NotNil(t, act.NextBeforeMs)
	require.Equal(t, later.UnixMilli(), *act.NextBeforeMs)

	w, resp = doRequest(t, r, owner, http.MethodGet, "/api/v1/ledger/business/cafe/activity?before_ms="+strconv.FormatInt(*act.NextBeforeMs, 10), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &act))
	require.Len(t, act.Items, 1)
	require.Equal(t, "m1", act.Items[0].ID)

	rival, _ := jwtSvc.GenerateAccessToken("owner-2", jwt.RoleBusiness, "bakery")
	w, _ = doRequest(t, r, rival, http.MethodGet, "/api/v1/ledger/business/cafe/activity", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	participant, _ := jwtSvc.GenerateAccessToken("alice", jwt.RoleParticipant, "")
	w, _ = doRequest(t, r, participant, http.MethodGet, "/api/v1/ledger/business/me/activity", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	admin, _ := jwtSvc.GenerateAccessToken("ops", jwt.RoleAdmin, "")
	w, _ = doRequest(t, r, admin, http.MethodGet, "/api/v1/ledger/business/cafe/activity", nil)
	require.Equal(t, http.StatusOK, w.Code)
}
