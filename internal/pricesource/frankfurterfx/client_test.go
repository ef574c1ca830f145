package frankfurterfx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/krxusd/marketdata/internal/httpclient"
	"github.com/shopspring/decimal"
)

func newTestClient(srv *httptest.Server) *Client {
	hc := httpclient.NewClient(srv.URL, nil, srv.Client(), 0)
	return New(hc)
}

func TestFetchFXRates(t *testing.T) {
	t.Run("normal JSON response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/2025-01-01..2025-01-10" {
				t.Errorf("path = %q, want /v1/2025-01-01..2025-01-10", r.URL.Path)
			}
			if got := r.URL.Query().Get("from"); got != "USD" {
				t.Errorf("from = %q, want USD", got)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"amount": 1, "base": "USD",
				"start_date": "2025-01-01", "end_date": "2025-01-10",
				"rates": {
					"2025-01-02": {"KRW": 1466.73},
					"2025-01-03": {"KRW": 1470.50}
				}
			}`))
		}))
		defer srv.Close()

		client := newTestClient(srv)
		from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

		rates, err := client.FetchFXRates(context.Background(), from, to)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rates) != 2 {
			t.Fatalf("len(rates) = %d, want 2", len(rates))
		}
		if rates[0].Pair != "USD/KRW" {
			t.Errorf("rates[0].Pair = %q, want USD/KRW", rates[0].Pair)
		}
		if !rates[0].Rate.Equal(decimal.NewFromFloat(1466.73)) {
			t.Errorf("rates[0].Rate = %s, want 1466.73", rates[0].Rate)
		}
		for i := 1; i < len(rates); i++ {
			if !rates[i].RateDate.After(rates[i-1].RateDate) {
				t.Errorf("rates not sorted ascending at index %d", i)
			}
		}
	})

	t.Run("missing target currency", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"amount":1,"base":"USD","start_date":"2025-01-01","end_date":"2025-01-02","rates":{"2025-01-02":{"EUR":0.92}}}`))
		}))
		defer srv.Close()

		client := newTestClient(srv)
		_, err := client.FetchFXRates(context.Background(), time.Now(), time.Now())
		if err == nil {
			t.Fatal("expected error when target currency missing from rates")
		}
	})

	t.Run("server error 500", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		client := newTestClient(srv)
		_, err := client.FetchFXRates(context.Background(), time.Now(), time.Now())
		var apiErr *httpclient.APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got: %T", err)
		}
	})
}

func TestFetchFXRealtime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/latest" {
			t.Errorf("path = %q, want /v1/latest", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"amount":1,"base":"USD","date":"2025-06-02","rates":{"KRW":1380.12}}`))
	}))
	defer srv.Close()

	client := newTestClient(srv)
	rate, err := client.FetchFXRealtime(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rate.Pair != "USD/KRW" {
		t.Errorf("Pair = %q, want USD/KRW", rate.Pair)
	}
	if !rate.Rate.Equal(decimal.NewFromFloat(1380.12)) {
		t.Errorf("Rate = %s, want 1380.12", rate.Rate)
	}
	if rate.RateDate.Format("2006-01-02") != "2025-06-02" {
		t.Errorf("RateDate = %v, want 2025-06-02", rate.RateDate)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable API error 500", &httpclient.APIError{IsRetryable: true, StatusCode: 500, URL: "/test"}, true},
		{"non-retryable API error 400", &httpclient.APIError{IsRetryable: false, StatusCode: 400, URL: "/test"}, false},
		{"generic error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable = %v, want %v", got, tt.want)
			}
		})
	}
}
