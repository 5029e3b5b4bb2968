package market

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"go.uber.org/zap"
)

func TestClientFetchPricesFollowsPages(t *testing.T) {
	pages := [][]map[string]any{
		{{"item": "laptop", "price": 75000}, {"item": "printer", "price": "14000"}},
		{{"item": "scanner", "price": 9000, "aliases": []string{"document scanner"}}},
	}

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != "/prices" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		if r.URL.Query().Get("q") != "it" {
			t.Errorf("expected query to be forwarded, got %q", r.URL.RawQuery)
		}

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		body := map[string]any{
			"items":    pages[page],
			"found":    3,
			"pages":    len(pages),
			"page":     page,
			"per_page": 2,
		}

		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		_ = json.NewEncoder(gz).Encode(body)
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "secret", zap.NewNop())

	prices, err := client.FetchPrices(context.Background(), "it")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if requests != 2 {
		t.Fatalf("expected 2 requests, got %d", requests)
	}
	if len(prices) != 3 {
		t.Fatalf("expected 3 prices, got %d", len(prices))
	}
	if prices[1].Price != 14000 {
		t.Fatalf("expected weakly typed price decode, got %+v", prices[1])
	}
	if prices[2].Aliases[0] != "document scanner" || prices[2].Source != srv.URL {
		t.Fatalf("unexpected third price: %+v", prices[2])
	}
}

func TestClientBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", nil)
	if _, err := client.FetchPrices(context.Background(), ""); err == nil {
		t.Fatal("expected error for bad status")
	}
}

func TestClientStopsWhenPageIsIgnored(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{"item": "laptop", "price": 75000}},
			"pages": 3,
			"page":  0,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", nil)
	_, err := client.FetchPrices(context.Background(), "")
	if !errors.Is(err, ErrPaging) {
		t.Fatalf("expected paging error, got %v", err)
	}
	if requests != 2 {
		t.Fatalf("expected 2 requests, got %d", requests)
	}
}

func TestClientCapsAtFirstPageCount(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{"item": "pen", "price": 50}},
			"pages": 2 + page,
			"page":  page,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", nil)
	prices, err := client.FetchPrices(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if requests != 2 || len(prices) != 2 {
		t.Fatalf("expected 2 requests and 2 prices, got %d and %d", requests, len(prices))
	}
}
