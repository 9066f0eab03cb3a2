package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"budget/internal/analytics"
	"budget/internal/auth"
	"budget/internal/core"
	"budget/internal/importer"
	"budget/internal/ledger/memory"
	"budget/internal/log"
	"budget/internal/services"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const ownerHeader = "X-Owner-ID"

type harness struct {
	srv   *Server
	store *memory.Store
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	store := memory.New()
	now := time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)
	engine := analytics.NewEngine(store,
		analytics.WithClock(func() time.Time { return now }),
		analytics.WithCache(100, time.Hour))
	srv := NewServer(":0", Deps{
		Engine:       engine,
		Transactions: services.NewTransactionService(store, nil, engine, log.Discard()),
		Importer:     importer.New(importer.WithTempDir(t.TempDir())),
		Credentials:  auth.HeaderCredentials{Header: ownerHeader},
		Store:        store,
		Logger:       log.Discard(),
	}, opts...)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &harness{srv: srv, store: store}
}

func (h *harness) do(t *testing.T, method, target, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	if owner != "" {
		req.Header.Set(ownerHeader, owner)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireErrorKind(t *testing.T, rec *httptest.ResponseRecorder, status int, kind core.Kind) ErrorBody {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decode[ErrorBody](t, rec)
	require.Equal(t, kind, body.Kind)
	require.NotEmpty(t, body.Message)
	return body
}

func seed(h *harness, owner string, typ core.Type, amount float64, category string, d civil.Date) {
	h.store.Seed(core.Transaction{Owner: owner, Type: typ, Amount: amount, Category: category, Date: d})
}

func date(y int, m time.Month, d int) civil.Date { return civil.Date{Year: y, Month: m, Day: d} }

func TestHealthReadyAndMetrics(t *testing.T) {
	h := newHarness(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := h.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := h.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
	require.Contains(t, rec.Body.String(), "transactions_created_total 0")
}

type unreachableStore struct{ *memory.Store }

func (unreachableStore) Ping(context.Context) error { return errors.New("server selection timeout") }

func TestReadyReportsStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.srv.store = unreachableStore{h.store}

	rec := h.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), `"store":"failed"`)
	require.NotContains(t, rec.Body.String(), "server selection timeout")
}

func TestResponsesCarryTraceAndSecurityHeaders(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/healthz", "", nil)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestAPIRequiresCredentials(t *testing.T) {
	h := newHarness(t)
	requireErrorKind(t, h.do(t, http.MethodGet, "/api/transactions", "", nil), http.StatusUnauthorized, core.KindUnauthorized)
	requireErrorKind(t, h.do(t, http.MethodGet, "/api/analytics/overview", "bad owner", nil), http.StatusUnauthorized, core.KindUnauthorized)
}

func TestTransactionLifecycle(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/transactions", "alice", map[string]any{
		"type": "Expense", "amount": 42.5, "category": " Food ", "date": "2024-07-10", "note": "lunch",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[core.Transaction](t, rec)
	require.Equal(t, core.Expense, created.Type)
	require.Equal(t, "Food", created.Category)
	require.Equal(t, "/api/transactions/"+created.ID, rec.Header().Get("Location"))

	list := decode[struct{ Data []core.Transaction }](t, h.do(t, http.MethodGet, "/api/transactions", "alice", nil))
	require.Len(t, list.Data, 1)

	other := decode[struct{ Data []core.Transaction }](t, h.do(t, http.MethodGet, "/api/transactions", "bob", nil))
	require.Empty(t, other.Data)
	require.NotNil(t, other.Data)

	rec = h.do(t, http.MethodPut, "/api/transactions/"+created.ID, "alice", map[string]any{"amount": 50})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decode[core.Transaction](t, rec)
	require.Equal(t, 50.0, edited.Amount)
	require.Equal(t, "lunch", edited.Note)

	requireErrorKind(t, h.do(t, http.MethodPut, "/api/transactions/"+created.ID, "bob", map[string]any{"amount": 1}),
		http.StatusNotFound, core.KindNotFound)
	requireErrorKind(t, h.do(t, http.MethodPut, "/api/transactions/"+created.ID, "alice", map[string]any{"type": "gift"}),
		http.StatusBadRequest, core.KindValidation)

	rec = h.do(t, http.MethodDelete, "/api/transactions/"+created.ID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Deleted successfully", decode[map[string]string](t, rec)["message"])

	requireErrorKind(t, h.do(t, http.MethodDelete, "/api/transactions/"+created.ID, "alice", nil),
		http.StatusNotFound, core.KindNotFound)

	rec = h.do(t, http.MethodGet, "/metrics", "", nil)
	require.Contains(t, rec.Body.String(), "transactions_created_total 1")
	require.Contains(t, rec.Body.String(), "transactions_deleted_total 1")
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)

	body := requireErrorKind(t, h.do(t, http.MethodPost, "/api/transactions", "alice", map[string]any{
		"type": "expense", "category": "Food", "date": "2024-07-10",
	}), http.StatusBadRequest, core.KindValidation)
	require.Contains(t, body.Message, "amount")

	requireErrorKind(t, h.do(t, http.MethodPost, "/api/transactions", "alice", `{"type":`),
		http.StatusBadRequest, core.KindValidation)
}

func TestListFilters(t *testing.T) {
	h := newHarness(t)
	seed(h, "alice", core.Expense, 10, "Food", date(2024, 7, 1))
	seed(h, "alice", core.Expense, 20, "Rent", date(2024, 7, 2))
	seed(h, "alice", core.Income, 900, "Salary", date(2024, 6, 28))

	list := decode[struct{ Data []core.Transaction }](t,
		h.do(t, http.MethodGet, "/api/transactions?type=expense&start=2024-07-01&end=2024-07-31", "alice", nil))
	require.Len(t, list.Data, 2)
	require.Equal(t, "Rent", list.Data[0].Category, "newest first")

	list = decode[struct{ Data []core.Transaction }](t,
		h.do(t, http.MethodGet, "/api/transactions?category=food", "alice", nil))
	require.Len(t, list.Data, 1)

	requireErrorKind(t, h.do(t, http.MethodGet, "/api/transactions?start=01-07-2024", "alice", nil),
		http.StatusBadRequest, core.KindValidation)
}

func TestMonthlyTrendEndpoint(t *testing.T) {
	h := newHarness(t)
	seed(h, "alice", core.Income, 1000, "Salary", date(2024, 7, 1))
	seed(h, "alice", core.Expense, 250, "Rent", date(2024, 5, 3))
	seed(h, "bob", core.Expense, 999, "Rent", date(2024, 7, 3))

	rec := h.do(t, http.MethodGet, "/api/analytics/monthly-trend?months=3", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	trend := decode[analytics.MonthlyTrend](t, rec)
	require.Equal(t, []string{"2024-5", "2024-6", "2024-7"}, trend.Labels)
	require.Equal(t, []float64{0, 0, 1000}, trend.Income)
	require.Equal(t, []float64{250, 0, 0}, trend.Expense)

	trend = decode[analytics.MonthlyTrend](t, h.do(t, http.MethodGet, "/api/analytics/monthly-trend", "alice", nil))
	require.Len(t, trend.Labels, 12)

	requireErrorKind(t, h.do(t, http.MethodGet, "/api/analytics/monthly-trend?months=0", "alice", nil),
		http.StatusBadRequest, core.KindValidation)
	requireErrorKind(t, h.do(t, http.MethodGet, "/api/analytics/monthly-trend?months=121", "alice", nil),
		http.StatusBadRequest, core.KindValidation)
}

func TestTrendReflectsWritesDespiteCache(t *testing.T) {
	h := newHarness(t)
	seed(h, "alice", core.Expense, 10, "Food", date(2024, 7, 1))

	first := decode[analytics.MonthlyTrend](t, h.do(t, http.MethodGet, "/api/analytics/monthly-trend?months=1", "alice", nil))
	require.Equal(t, []float64{10}, first.Expense)

	rec := h.do(t, http.MethodPost, "/api/transactions", "alice", map[string]any{
		"type": "expense", "amount": 5, "category": "Food", "date": "2024-07-02",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	second := decode[analytics.MonthlyTrend](t, h.do(t, http.MethodGet, "/api/analytics/monthly-trend?months=1", "alice", nil))
	require.Equal(t, []float64{15}, second.Expense)
}

func TestCashFlowEndpoint(t *testing.T) {
	h := newHarness(t)
	seed(h, "alice", core.Income, 100, "Salary", date(2024, 7, 15))
	seed(h, "alice", core.Expense, 30, "Food", date(2024, 7, 15))
	seed(h, "alice", core.Expense, 5, "Food", date(2024, 7, 14))

	flow := decode[analytics.CashFlow](t, h.do(t, http.MethodGet, "/api/analytics/cash-flow?range=daily&days=2", "alice", nil))
	require.Equal(t, []string{"7/14", "7/15"}, flow.Labels)
	require.Equal(t, []float64{0, 100}, flow.Inflow)
	require.Equal(t, []float64{5, 30}, flow.Outflow)
	require.Equal(t, []float64{-5, 70}, flow.Net)

	flow = decode[analytics.CashFlow](t, h.do(t, http.MethodGet, "/api/analytics/cash-flow", "alice", nil))
	require.Len(t, flow.Labels, analytics.DefaultDays)

	flow = decode[analytics.CashFlow](t, h.do(t, http.MethodGet, "/api/analytics/cash-flow?range=weekly", "alice", nil))
	require.Len(t, flow.Labels, analytics.DefaultWeeks)

	requireErrorKind(t, h.do(t, http.MethodGet, "/api/analytics/cash-flow?days=367", "alice", nil),
		http.StatusBadRequest, core.KindValidation)
	requireErrorKind(t, h.do(t, http.MethodGet, "/api/analytics/cash-flow?range=weekly&weeks=105", "alice", nil),
		http.StatusBadRequest, core.KindValidation)
}

func TestProfitLossAndCategories(t *testing.T) {
	h := newHarness(t)
	seed(h, "alice", core.Income, 1000, "Salary", date(2024, 7, 1))
	seed(h, "alice", core.Expense, 300, "Rent", date(2024, 7, 2))
	seed(h, "alice", core.Expense, 50, "Food", date(2024, 7, 3))
	seed(h, "alice", core.Expense, 25, "Food", date(2024, 7, 4))

	rec := h.do(t, http.MethodGet, "/api/analytics/profit-loss?start=2024-07-01&end=2024-07-31", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pl := decode[analytics.ProfitLoss](t, rec)
	require.Equal(t, "2024-07-01_2024-07-31", pl.Period)
	require.Equal(t, 625.0, pl.NetProfit)

	requireErrorKind(t, h.do(t, http.MethodGet, "/api/analytics/profit-loss?end=2024-07-31", "alice", nil),
		http.StatusBadRequest, core.KindValidation)
	requireErrorKind(t, h.do(t, http.MethodGet, "/api/analytics/profit-loss?start=2024-07-31&end=2024-07-01", "alice", nil),
		http.StatusBadRequest, core.KindValidation)

	cats := decode[struct{ Data []analytics.CategoryTotal }](t, h.do(t, http.MethodGet, "/api/analytics/categories", "alice", nil))
	require.Len(t, cats.Data, 2)
	require.Equal(t, "Rent", cats.Data[0].Category)
	require.Equal(t, 75.0, cats.Data[1].Total)
	require.Equal(t, 2, cats.Data[1].Count)

	requireErrorKind(t, h.do(t, http.MethodGet, "/api/analytics/categories?type=transfer", "alice", nil),
		http.StatusBadRequest, core.KindValidation)
}

func TestOverviewAndMonthlySummary(t *testing.T) {
	h := newHarness(t)
	seed(h, "alice", core.Income, 1000, "Salary", date(2024, 7, 1))
	seed(h, "alice", core.Expense, 300, "Rent", date(2024, 6, 2))

	summary := decode[analytics.MonthlySummary](t, h.do(t, http.MethodGet, "/api/transactions/monthly-summary", "alice", nil))
	require.Equal(t, analytics.MonthlySummary{Income: 1000, Expense: 0}, summary)

	rec := h.do(t, http.MethodGet, "/api/analytics/overview", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	overview := decode[analytics.Overview](t, rec)
	require.Len(t, overview.Trend.Labels, analytics.DefaultMonths)
	require.Len(t, overview.CashFlow.Labels, analytics.DefaultDays)
	require.Equal(t, 1000.0, overview.Summary.Income)
}

func workbook(t *testing.T, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func uploadRequest(t *testing.T, owner, contentType string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "ignored"))
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="ledger.xlsx"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/transactions/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(ownerHeader, owner)
	return req
}

func TestImportStageAndConfirm(t *testing.T) {
	h := newHarness(t)
	content := workbook(t,
		[]any{"Type", "Category", "Amount", "Date", "Note"},
		[]any{"Expense", "Food", 12.5, "15-07-2024", "market"},
		[]any{"income", "Salary", 1000, "2024/07/01", ""},
	)

	rec := httptest.NewRecorder()
	h.srv.Handler.ServeHTTP(rec, uploadRequest(t, "alice", importer.MIMEXLSX, content))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	staged := decode[struct{ Data []importer.Row }](t, rec)
	require.Len(t, staged.Data, 2)
	require.Equal(t, 2, staged.Data[0].Row)
	require.Equal(t, "expense", staged.Data[0].Type)
	require.Equal(t, "2024-07-16", staged.Data[0].Date)
	require.Equal(t, "2024-07-02", staged.Data[1].Date)

	list := decode[struct{ Data []core.Transaction }](t, h.do(t, http.MethodGet, "/api/transactions", "alice", nil))
	require.Empty(t, list.Data, "staging never writes")

	// The client edits the second row into an invalid one before confirming.
	staged.Data[1].Amount = 0
	rec = h.do(t, http.MethodPost, "/api/transactions/import/confirm", "alice", staged)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[services.ImportReport](t, rec)
	require.Len(t, report.Created, 1)
	require.Len(t, report.Failed, 1)
	require.Equal(t, 3, report.Failed[0].Row)
	require.Equal(t, core.KindValidation, report.Failed[0].Kind)

	list = decode[struct{ Data []core.Transaction }](t, h.do(t, http.MethodGet, "/api/transactions", "alice", nil))
	require.Len(t, list.Data, 1)

	requireErrorKind(t, h.do(t, http.MethodPost, "/api/transactions/import/confirm", "alice", map[string]any{"data": []any{}}),
		http.StatusBadRequest, core.KindValidation)
}

func TestImportStageRejections(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.srv.Handler.ServeHTTP(rec, uploadRequest(t, "alice", "text/plain", []byte("type,category\n")))
	body := requireErrorKind(t, rec, http.StatusBadRequest, core.KindValidation)
	require.Equal(t, "Only Excel files are allowed", body.Message)

	content := workbook(t,
		[]any{"type", "category", "amount", "date"},
		[]any{"expense", "Food", 10, "2024-07-01"},
		[]any{"expense", "Food", "", "2024-07-02"},
	)
	rec = httptest.NewRecorder()
	h.srv.Handler.ServeHTTP(rec, uploadRequest(t, "alice", importer.MIMEXLSX, content))
	body = requireErrorKind(t, rec, http.StatusBadRequest, core.KindValidation)
	require.Equal(t, "Missing data in row 3", body.Message)

	req := httptest.NewRequest(http.MethodPost, "/api/transactions/import", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ownerHeader, "alice")
	rec = httptest.NewRecorder()
	h.srv.Handler.ServeHTTP(rec, req)
	requireErrorKind(t, rec, http.StatusBadRequest, core.KindValidation)
}

func TestMutatingRequestsAreRateLimited(t *testing.T) {
	h := newHarness(t, WithRateLimit(1))
	draft := map[string]any{"type": "expense", "amount": 1, "category": "Food", "date": "2024-07-01"}

	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/api/transactions", "alice", draft).Code)

	rec := h.do(t, http.MethodPost, "/api/transactions", "alice", draft)
	requireErrorKind(t, rec, http.StatusTooManyRequests, "rate_limited")
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/transactions", "alice", nil).Code)
}

func TestTrustedProxyForwardsClientIdentity(t *testing.T) {
	post := func(h *harness, client string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/transactions", strings.NewReader(`{"type":"expense","amount":1,"category":"Food","date":"2024-07-01"}`))
		req.RemoteAddr = "203.0.113.7:4711"
		req.Header.Set(ownerHeader, "alice")
		req.Header.Set("X-Forwarded-For", client)
		rec := httptest.NewRecorder()
		h.srv.Handler.ServeHTTP(rec, req)
		return rec.Code
	}

	trusted := newHarness(t, WithRateLimit(1), WithTrustedProxies("203.0.113.0/24"))
	require.Equal(t, http.StatusCreated, post(trusted, "198.51.100.1"))
	require.Equal(t, http.StatusCreated, post(trusted, "198.51.100.2"))
	require.Equal(t, http.StatusTooManyRequests, post(trusted, "198.51.100.1"))

	untrusted := newHarness(t, WithRateLimit(1))
	require.Equal(t, http.StatusCreated, post(untrusted, "198.51.100.1"))
	require.Equal(t, http.StatusTooManyRequests, post(untrusted, "198.51.100.2"))
}

func TestRequestDeadlineIsApplied(t *testing.T) {
	h := newHarness(t, WithRequestTimeout(50*time.Millisecond))
	var deadline time.Time
	var ok bool
	probe := h.srv.withTimeout(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))
	probe.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/transactions", nil))

	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, time.Second)
}
