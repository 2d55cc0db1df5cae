package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/pix-deposit-service/internal/deposit-service/dto"
	"github.com/radieske/pix-deposit-service/internal/deposit-service/pix"
	"github.com/radieske/pix-deposit-service/internal/deposit-service/reconcile"
	"github.com/radieske/pix-deposit-service/internal/deposit-service/repo"
	"github.com/radieske/pix-deposit-service/internal/shared/lock"
	"github.com/radieske/pix-deposit-service/pkg/contracts/events"
)

type memCache struct {
	mu   sync.Mutex
	data map[string]events.DepositStatusChanged
}

func (c *memCache) GetStatus(_ context.Context, ext string) (*events.DepositStatusChanged, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[ext]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func (c *memCache) SetStatus(_ context.Context, e events.DepositStatusChanged, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[e.ExternalID] = e
	return nil
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, pix.ChargeRequest) (pix.Charge, error) {
	return pix.Charge{}, pix.ErrGenerate
}

type nopPublisher struct{}

func (nopPublisher) PublishStatusChanged(context.Context, events.DepositStatusChanged) error {
	return nil
}

type env struct {
	api   *API
	store *repo.Memory
	cache *memCache
	h     http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := repo.NewMemory()
	store.AddUser(repo.User{ID: "u1", Name: "Ana"})
	cache := &memCache{data: map[string]events.DepositStatusChanged{}}
	pub := nopPublisher{}
	api := &API{
		Log:       zap.NewNop(),
		Engine:    reconcile.NewEngine(zap.NewNop(), store, store, lock.NewLocal(), pub),
		Store:     store,
		Users:     store,
		Generator: pix.NewStaticGenerator("pix@apostas.example", "Apostas", "SAO PAULO"),
		Publisher: pub,
		Cache:     cache,
		CacheTTL:  time.Hour,
		MinAmount: decimal.NewFromInt(35),
	}
	return &env{api: api, store: store, cache: cache, h: api.Router()}
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func (e *env) issue(t *testing.T, amount string) dto.IssueDepositResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/deposits", `{"userId":"u1","amount":`+amount+`}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("issue %s: status %d body %s", amount, rec.Code, rec.Body)
	}
	var out dto.IssueDepositResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e dto.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body)
	}
	return e.Error
}

func TestIssueDeposit(t *testing.T) {
	e := newEnv(t)

	out := e.issue(t, `"35"`)
	if !strings.HasPrefix(out.ExternalID, "PIX-") || out.QRCode == "" || out.Status != "PENDING" {
		t.Fatalf("unexpected response: %+v", out)
	}
	stored, err := e.store.FindOne(context.Background(), repo.Filter{ExternalReference: out.ExternalID}, repo.SortNone)
	if err != nil {
		t.Fatalf("deposit not stored: %v", err)
	}
	if !stored.IsPendingPixDeposit() || stored.Metadata["qr_code"] != out.QRCode {
		t.Fatalf("unexpected stored deposit: %+v", stored)
	}
}

func TestIssueDepositRejects(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"bad json", `{`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing user", `{"amount":50}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"below minimum", `{"userId":"u1","amount":34.99}`, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"negative", `{"userId":"u1","amount":-50}`, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"unknown user", `{"userId":"ghost","amount":50}`, http.StatusNotFound, "USER_NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			rec := e.do(t, http.MethodPost, "/deposits", tc.body)
			if rec.Code != tc.status || errorCode(t, rec) != tc.code {
				t.Fatalf("expected %d %s, got %d %s", tc.status, tc.code, rec.Code, rec.Body)
			}
		})
	}
}

func TestIssueDepositGeneratorFailureCreatesNothing(t *testing.T) {
	e := newEnv(t)
	e.api.Generator = failingGenerator{}

	rec := e.do(t, http.MethodPost, "/deposits", `{"userId":"u1","amount":100}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	all, _ := e.store.Find(context.Background(), repo.Filter{}, repo.SortNone)
	if len(all) != 0 {
		t.Fatalf("expected no transaction, got %d", len(all))
	}
}

func TestWebhookReconcilesAndReportsStatus(t *testing.T) {
	e := newEnv(t)
	big := e.issue(t, `500`)
	small := e.issue(t, `35`)

	rec := e.do(t, http.MethodPost, "/webhooks/pix", `{"status":"PAID","transaction_id":"E2E-1","external_id":"`+small.ExternalID+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook: %d %s", rec.Code, rec.Body)
	}
	var res dto.WebhookResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if res.ExternalID != big.ExternalID || !res.CreditedAmount.Equal(decimal.NewFromInt(500)) || res.CancelledCount != 1 {
		t.Fatalf("unexpected webhook response: %+v", res)
	}

	// status vem do banco e popula o cache
	rec = e.do(t, http.MethodGet, "/deposits/"+small.ExternalID+"/status", "")
	var st dto.DepositStatusResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &st)
	if rec.Code != http.StatusOK || st.Status != "CANCELLED" || st.Source != "db" {
		t.Fatalf("unexpected status response: %d %+v", rec.Code, st)
	}
	rec = e.do(t, http.MethodGet, "/deposits/"+small.ExternalID+"/status", "")
	_ = json.Unmarshal(rec.Body.Bytes(), &st)
	if st.Source != "cache" || st.Status != "CANCELLED" {
		t.Fatalf("expected cached terminal status, got %+v", st)
	}

	rec = e.do(t, http.MethodGet, "/wallet?userId=u1", "")
	var wl dto.WalletResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &wl)
	if !wl.Balance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected balance 500, got %s", wl.Balance)
	}

	// reentrega
	rec = e.do(t, http.MethodPost, "/webhooks/pix", `{"status":"PAID","transaction_id":"E2E-1","external_id":"`+small.ExternalID+`"}`)
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "NO_PENDING_DEPOSIT" {
		t.Fatalf("expected 404 NO_PENDING_DEPOSIT, got %d %s", rec.Code, rec.Body)
	}
}

func TestWebhookErrorMapping(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/webhooks/pix", `{"status":"FAILED"}`)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "INVALID_WEBHOOK" {
		t.Fatalf("expected 400 INVALID_WEBHOOK, got %d %s", rec.Code, rec.Body)
	}
	rec = e.do(t, http.MethodPost, "/webhooks/pix", `{"status":"PAID"}`)
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "NO_PENDING_DEPOSIT" {
		t.Fatalf("expected 404 NO_PENDING_DEPOSIT, got %d %s", rec.Code, rec.Body)
	}

	e.issue(t, `40`)
	e.store.FailHook = func(op string, _ *repo.Transaction) error {
		if op == "save" {
			return errors.New("disk full")
		}
		return nil
	}
	rec = e.do(t, http.MethodPost, "/webhooks/pix", `{"status":"PAID"}`)
	if rec.Code != http.StatusInternalServerError || errorCode(t, rec) != "PERSISTENCE_FAILURE" {
		t.Fatalf("expected 500 PERSISTENCE_FAILURE, got %d %s", rec.Code, rec.Body)
	}
}

func TestDepositStatusNotFound(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/deposits/PIX-unknown/status", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestReconciliationsPaginationAndStats(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 3; i++ {
		e.issue(t, `100`)
		e.issue(t, `50`)
		if rec := e.do(t, http.MethodPost, "/webhooks/pix", `{"status":"PAID"}`); rec.Code != http.StatusOK {
			t.Fatalf("webhook %d: %d %s", i, rec.Code, rec.Body)
		}
	}
	e.issue(t, `70`) // continua PENDING

	rec := e.do(t, http.MethodGet, "/deposits/reconciliations?page=2&limit=4", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body)
	}
	var page struct {
		Data       []repo.Transaction `json:"data"`
		Pagination dto.Pagination     `json:"pagination"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Pagination.Total != 6 || page.Pagination.TotalPages != 2 || len(page.Data) != 2 {
		t.Fatalf("unexpected pagination: %+v (%d rows)", page.Pagination, len(page.Data))
	}

	rec = e.do(t, http.MethodGet, "/deposits/reconciliations?limit=500", "")
	_ = json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Pagination.Limit != maxLimit {
		t.Fatalf("expected limit clamped to %d, got %d", maxLimit, page.Pagination.Limit)
	}

	queries := []struct {
		query string
		want  int
	}{
		{query: "page=0", want: http.StatusBadRequest},
		{query: "page=abc", want: http.StatusBadRequest},
		{query: "limit=-1", want: http.StatusBadRequest},
		{query: "page=9223372036854775807&limit=2", want: http.StatusBadRequest},
		{query: "page=4611686018427387905&limit=2", want: http.StatusBadRequest},
		{query: "page=4611686018427387904&limit=2", want: http.StatusOK},
	}
	for _, q := range queries {
		rec = e.do(t, http.MethodGet, "/deposits/reconciliations?"+q.query, "")
		if rec.Code != q.want {
			t.Fatalf("%s: expected %d, got %d %s", q.query, q.want, rec.Code, rec.Body)
		}
		if q.want == http.StatusBadRequest && errorCode(t, rec) != "INVALID_QUERY" {
			t.Fatalf("%s: expected INVALID_QUERY", q.query)
		}
	}

	rec = e.do(t, http.MethodGet, "/deposits/reconciliations/stats", "")
	var st repo.Stats
	_ = json.Unmarshal(rec.Body.Bytes(), &st)
	if st.TotalReconciled != 3 || st.TotalCancelled != 3 || st.Last24h != 3 || len(st.Pending) != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if !st.TotalCredited.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected 300 credited, got %s", st.TotalCredited)
	}
}
