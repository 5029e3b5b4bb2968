package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/fiscal-sentinel/internal/integrity"
	"github.com/spigell/fiscal-sentinel/internal/market"
	"github.com/spigell/fiscal-sentinel/internal/payroll"
	"github.com/spigell/fiscal-sentinel/internal/price"
	"github.com/spigell/fiscal-sentinel/internal/reports"
	"github.com/spigell/fiscal-sentinel/internal/tender"
	"github.com/spigell/fiscal-sentinel/internal/welfare"
)

const payrollCSV = `employee_id,name,mobile,address,bank_account
E1,Anil,900,A,ACC-1
E2,Bala,900,B,ACC-2
E3,Chitra,901,C,ACC-1
E4,Deepak,902,D,ACC-4
`

type upload struct {
	field, name, contentType, body string
}

func multipartBody(t *testing.T, uploads ...upload) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, u := range uploads {
		h := make(map[string][]string)
		h["Content-Disposition"] = []string{`form-data; name="` + u.field + `"; filename="` + u.name + `"`}
		h["Content-Type"] = []string{u.contentType}
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write([]byte(u.body)); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

type fixture struct {
	server *Server
	store  *reports.Store
	logs   *observer.ObservedLogs
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()

	store, err := reports.Open(context.Background(), filepath.Join(t.TempDir(), "reports.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	tenderAnalyzer, err := tender.New(tender.DefaultConfig(), nil, nil, nil)
	if err != nil {
		t.Fatalf("tender: %v", err)
	}
	priceAnalyzer, err := price.New(price.DefaultConfig(), market.NewCatalog(market.DefaultPrices(), market.DefaultEditCosts, 0), nil, nil)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	ghostAnalyzer, err := payroll.New(payroll.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("payroll: %v", err)
	}
	welfareAnalyzer, err := welfare.New(welfare.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("welfare: %v", err)
	}

	core, logs := observer.New(zap.InfoLevel)
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:0"
	}
	s, err := New(cfg, Deps{
		Tender:  tenderAnalyzer,
		Price:   priceAnalyzer,
		Ghost:   ghostAnalyzer,
		Welfare: welfareAnalyzer,
		Reports: store,
		Logger:  zap.New(core),
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return fixture{server: s, store: store, logs: logs}
}

func (f fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestIndex(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode[indexResponse](t, rec)
	if body.Status != "ok" || len(body.Modules) != 4 || !body.Modules[2].Enabled {
		t.Fatalf("unexpected index %+v", body)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
	if f.logs.FilterMessage("request").Len() != 1 {
		t.Fatal("expected one access log entry")
	}
}

func TestGhostScanIsStoredAndCounted(t *testing.T) {
	f := newFixture(t, Config{})

	body, ct := multipartBody(t, upload{field: "file", name: "payroll.csv", contentType: "text/csv", body: payrollCSV})
	req := httptest.NewRequest(http.MethodPost, "/api/ghost", body)
	req.Header.Set("Content-Type", ct)
	rec := f.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[payroll.Result](t, rec)
	if len(res.RiskyClusters) != 1 || res.RiskyClusters[0].Size != 3 {
		t.Fatalf("unexpected clusters %+v", res.RiskyClusters)
	}

	id := rec.Header().Get(reportIDHeader)
	if id == "" {
		t.Fatal("expected report id header")
	}
	stored := f.do(httptest.NewRequest(http.MethodGet, "/api/reports/"+id, nil))
	if stored.Code != http.StatusOK {
		t.Fatalf("expected stored report, got %d", stored.Code)
	}
	report := decode[reports.Report](t, stored)
	if report.Analyzer != integrity.GhostHunter || report.IntegrityScore != res.IntegrityScore {
		t.Fatalf("unexpected stored report %+v", report)
	}

	if got := testutil.ToFloat64(f.server.metrics.scans.WithLabelValues(integrity.GhostHunter, integrity.StatusWarning)); got != 1 {
		t.Fatalf("expected one counted scan, got %v", got)
	}
	if got := testutil.ToFloat64(f.server.metrics.requests.WithLabelValues("POST /api/ghost", http.MethodPost, "200")); got != 1 {
		t.Fatalf("expected one counted request, got %v", got)
	}

	list := f.do(httptest.NewRequest(http.MethodGet, "/api/reports?analyzer=ghost_hunter&limit=5", nil))
	listed := decode[map[string][]reports.Report](t, list)
	if len(listed["reports"]) != 1 {
		t.Fatalf("expected one listed report, got %+v", listed)
	}

	summary := decode[integrity.Summary](t, f.do(httptest.NewRequest(http.MethodGet, "/api/integrity", nil)))
	if summary.Score != res.IntegrityScore || len(summary.Components) != 1 {
		t.Fatalf("unexpected integrity summary %+v", summary)
	}
}

func TestPriceAcceptsPlainForm(t *testing.T) {
	f := newFixture(t, Config{})

	form := url.Values{"text": {"Pen Rs. 500\nScanner Rs. 10,000"}}
	req := httptest.NewRequest(http.MethodPost, "/api/price", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := f.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[price.Result](t, rec)
	if len(res.FlaggedItems) != 1 || res.FlaggedItems[0].Description != "Pen" {
		t.Fatalf("unexpected flagged items %+v", res.FlaggedItems)
	}
}

func TestErrorStatuses(t *testing.T) {
	f := newFixture(t, Config{MaxUploadBytes: 1024})

	oneDoc, oneDocCT := multipartBody(t, upload{field: "files", name: "a.txt", contentType: "text/plain", body: "bid"})
	pdfDocs, pdfCT := multipartBody(t,
		upload{field: "files", name: "a.pdf", contentType: "application/pdf", body: "%PDF"},
		upload{field: "files", name: "b.pdf", contentType: "application/pdf", body: "%PDF"},
	)
	noDeaths, noDeathsCT := multipartBody(t, upload{field: "pension_file", name: "p.csv", contentType: "text/csv", body: "name\nA\n"})
	badCSV, badCSVCT := multipartBody(t, upload{field: "file", name: "p.csv", contentType: "text/csv", body: "foo,bar\n1,2\n"})
	malformed, malformedCT := multipartBody(t, upload{field: "file", name: "p.csv", contentType: "text/csv", body: "employee_id,name,mobile\nE1,Ann \"x,1\n"})
	huge, hugeCT := multipartBody(t, upload{field: "file", name: "p.csv", contentType: "text/csv", body: strings.Repeat("x", 4096)})

	tests := []struct {
		name   string
		path   string
		body   *bytes.Buffer
		ct     string
		status int
	}{
		{name: "single tender", path: "/api/tender", body: oneDoc, ct: oneDocCT, status: http.StatusBadRequest},
		{name: "pdf without reader", path: "/api/tender", body: pdfDocs, ct: pdfCT, status: http.StatusUnprocessableEntity},
		{name: "missing death file", path: "/api/welfare", body: noDeaths, ct: noDeathsCT, status: http.StatusBadRequest},
		{name: "missing columns", path: "/api/ghost", body: badCSV, ct: badCSVCT, status: http.StatusBadRequest},
		{name: "malformed csv", path: "/api/ghost", body: malformed, ct: malformedCT, status: http.StatusBadRequest},
		{name: "too large", path: "/api/ghost", body: huge, ct: hugeCT, status: http.StatusRequestEntityTooLarge},
		{name: "empty price", path: "/api/price", body: bytes.NewBufferString("text="), ct: "application/x-www-form-urlencoded", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, tt.body)
			req.Header.Set("Content-Type", tt.ct)
			rec := f.do(req)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if decode[errorResponse](t, rec).Error == "" {
				t.Fatal("expected error message")
			}
		})
	}

	missing := f.do(httptest.NewRequest(http.MethodGet, "/api/reports/nope", nil))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}
	badLimit := f.do(httptest.NewRequest(http.MethodGet, "/api/reports?limit=-1", nil))
	if badLimit.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", badLimit.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Config{})

	req := httptest.NewRequest(http.MethodOptions, "/api/ghost", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := f.do(req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://dashboard.local" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestDisabledAnalyzerAndMetricsEndpoint(t *testing.T) {
	s, err := New(Config{Listen: ":0"}, Deps{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	rec := httptest.NewRecorder()
	body, ct := multipartBody(t, upload{field: "file", name: "p.csv", contentType: "text/csv", body: payrollCSV})
	req := httptest.NewRequest(http.MethodPost, "/api/ghost", body)
	req.Header.Set("Content-Type", ct)
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	summary := httptest.NewRecorder()
	s.Handler().ServeHTTP(summary, httptest.NewRequest(http.MethodGet, "/api/integrity", nil))
	if got := decode[integrity.Summary](t, summary); got.Verdict != integrity.VerdictClean {
		t.Fatalf("expected clean verdict without scans, got %+v", got)
	}

	metrics := httptest.NewRecorder()
	s.Handler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(metrics.Body.String(), "fiscal_sentinel_http_requests_total") {
		t.Fatalf("expected request counter in metrics output:\n%s", metrics.Body.String())
	}
}

func TestNewRequiresListen(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatal("expected error without listen address")
	}
}
